// Package canvas is a thin client for the Canvas LMS REST API covering the
// endpoints the notifier needs: token verification, course and assignment
// discovery, and submission listing.
package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"canvas_notifier/internal/model"
)

// ErrUnauthorized is returned when Canvas rejects the API token.
var ErrUnauthorized = errors.New("canvas: unauthorized")

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client calls the Canvas REST API.
type Client struct {
	baseURL string
	token   string
	client  HTTPClient
	perPage int
}

// New creates a Client for the Canvas instance at baseURL using the given
// API token and HTTP client.
func New(baseURL, token string, client HTTPClient) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
		perPage: 100,
	}
}

// VerifySelf fetches the authenticated user, confirming the base URL and
// token are usable before any polling starts.
func (c *Client) VerifySelf(ctx context.Context) (*model.User, error) {
	var wire struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/api/v1/users/self", &wire); err != nil {
		return nil, fmt.Errorf("verify connection: %w", err)
	}
	return &model.User{ID: wire.ID, Name: wire.Name}, nil
}

// ListCourses returns all courses where the API user is enrolled as a teacher.
func (c *Client) ListCourses(ctx context.Context) ([]model.Course, error) {
	q := url.Values{}
	q.Set("enrollment_type", "teacher")
	q.Add("include[]", "term")
	q.Add("include[]", "total_students")
	q.Set("per_page", fmt.Sprint(c.perPage))

	var courses []model.Course
	err := c.getPaged(ctx, c.baseURL+"/api/v1/courses?"+q.Encode(), func(body []byte) error {
		var page []courseWire
		if err := json.Unmarshal(body, &page); err != nil {
			return fmt.Errorf("decode courses: %w", err)
		}
		for _, w := range page {
			courses = append(courses, w.toModel())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	return courses, nil
}

// ListAssignments returns all assignments of a course.
func (c *Client) ListAssignments(ctx context.Context, courseID int64) ([]model.Assignment, error) {
	u := fmt.Sprintf("%s/api/v1/courses/%d/assignments?per_page=%d", c.baseURL, courseID, c.perPage)

	var assignments []model.Assignment
	err := c.getPaged(ctx, u, func(body []byte) error {
		var page []assignmentWire
		if err := json.Unmarshal(body, &page); err != nil {
			return fmt.Errorf("decode assignments: %w", err)
		}
		for _, w := range page {
			assignments = append(assignments, w.toModel())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list assignments for course %d: %w", courseID, err)
	}
	return assignments, nil
}

// ListSubmissions returns all submissions for an assignment, including the
// submitting user so notifications can carry the student's name.
func (c *Client) ListSubmissions(ctx context.Context, courseID, assignmentID int64) ([]model.Submission, error) {
	u := fmt.Sprintf("%s/api/v1/courses/%d/assignments/%d/submissions?include[]=user&per_page=%d",
		c.baseURL, courseID, assignmentID, c.perPage)

	var submissions []model.Submission
	err := c.getPaged(ctx, u, func(body []byte) error {
		var page []submissionWire
		if err := json.Unmarshal(body, &page); err != nil {
			return fmt.Errorf("decode submissions: %w", err)
		}
		for _, w := range page {
			submissions = append(submissions, w.toModel())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list submissions for assignment %d in course %d: %w",
			assignmentID, courseID, err)
	}
	return submissions, nil
}

// getPaged fetches u and every page linked from it via Link rel="next",
// handing each raw body to decode.
func (c *Client) getPaged(ctx context.Context, u string, decode func(body []byte) error) error {
	for u != "" {
		body, next, err := c.get(ctx, u)
		if err != nil {
			return err
		}
		if err := decode(body); err != nil {
			return err
		}
		u = next
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	body, _, err := c.get(ctx, u)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, u string) (body []byte, next string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, "", ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	return body, nextLink(resp.Header.Get("Link")), nil
}

// nextLink extracts the rel="next" URL from a Canvas Link header, if any.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		sections := strings.Split(part, ";")
		if len(sections) < 2 {
			continue
		}
		u := strings.Trim(strings.TrimSpace(sections[0]), "<>")
		for _, attr := range sections[1:] {
			if strings.TrimSpace(attr) == `rel="next"` {
				return u
			}
		}
	}
	return ""
}

const canvasTimeLayout = time.RFC3339

type courseWire struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	CourseCode    string `json:"course_code"`
	TotalStudents int    `json:"total_students"`
	Term          *struct {
		Name string `json:"name"`
	} `json:"term"`
}

func (w courseWire) toModel() model.Course {
	c := model.Course{
		ID:            w.ID,
		Name:          w.Name,
		Code:          w.CourseCode,
		TotalStudents: w.TotalStudents,
	}
	if w.Term != nil {
		c.Term = w.Term.Name
	}
	return c
}

type assignmentWire struct {
	ID                int64   `json:"id"`
	Name              string  `json:"name"`
	Published         bool    `json:"published"`
	DueAt             *string `json:"due_at"`
	NeedsGradingCount int     `json:"needs_grading_count"`
}

func (w assignmentWire) toModel() model.Assignment {
	a := model.Assignment{
		ID:                w.ID,
		Name:              w.Name,
		Published:         w.Published,
		NeedsGradingCount: w.NeedsGradingCount,
	}
	a.DueAt = parseTime(w.DueAt)
	return a
}

type submissionWire struct {
	ID            int64   `json:"id"`
	UserID        int64   `json:"user_id"`
	SubmittedAt   *string `json:"submitted_at"`
	Attempt       *int64  `json:"attempt"`
	WorkflowState string  `json:"workflow_state"`
	User          *struct {
		Name string `json:"name"`
	} `json:"user"`
}

func (w submissionWire) toModel() model.Submission {
	s := model.Submission{
		ID:            w.ID,
		UserID:        w.UserID,
		WorkflowState: w.WorkflowState,
		UserName:      "Unknown",
	}
	if w.User != nil && w.User.Name != "" {
		s.UserName = w.User.Name
	}
	if w.Attempt != nil {
		s.Attempt = *w.Attempt
	}
	s.SubmittedAt = parseTime(w.SubmittedAt)
	return s
}

func parseTime(raw *string) *time.Time {
	if raw == nil || *raw == "" {
		return nil
	}
	t, err := time.Parse(canvasTimeLayout, *raw)
	if err != nil {
		return nil
	}
	return &t
}
