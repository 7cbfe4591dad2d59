package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"canvas_notifier/internal/model"
	"canvas_notifier/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// UpsertTarget inserts a target or reactivates/renames the row for the same
// (course, assignment) pair. The target's ID is populated either way.
func (s *SQLite) UpsertTarget(ctx context.Context, t *model.Target) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO targets (course_id, assignment_id, course_name, assignment_name, is_active, created_at)
		 VALUES (?, ?, ?, ?, 1, ?)
		 ON CONFLICT (course_id, assignment_id) DO UPDATE SET
		     course_name = excluded.course_name,
		     assignment_name = excluded.assignment_name,
		     is_active = 1`,
		t.CourseID, t.AssignmentID, t.CourseName, t.AssignmentName, now,
	)
	if err != nil {
		return fmt.Errorf("upsert target: %w", err)
	}

	got, err := s.GetTarget(ctx, t.Key())
	if err != nil {
		return err
	}
	*t = *got
	return nil
}

// GetTarget returns a single target by its (course, assignment) pair.
func (s *SQLite) GetTarget(ctx context.Context, key model.TargetKey) (*model.Target, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, course_id, assignment_id, course_name, assignment_name, is_active, fail_count, next_poll_at, created_at
		 FROM targets WHERE course_id = ? AND assignment_id = ?`,
		key.CourseID, key.AssignmentID,
	)
	return scanTarget(row)
}

// ListActiveTargets returns all targets still being polled, oldest first.
func (s *SQLite) ListActiveTargets(ctx context.Context) ([]model.Target, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, course_id, assignment_id, course_name, assignment_name, is_active, fail_count, next_poll_at, created_at
		 FROM targets WHERE is_active = 1 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query active targets: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanTargets(rows)
}

// ListDueTargets returns active targets whose next poll time has passed
// or was never set.
func (s *SQLite) ListDueTargets(ctx context.Context, now time.Time) ([]model.Target, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, course_id, assignment_id, course_name, assignment_name, is_active, fail_count, next_poll_at, created_at
		 FROM targets
		 WHERE is_active = 1 AND (next_poll_at IS NULL OR next_poll_at <= ?)
		 ORDER BY id`,
		now.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query due targets: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanTargets(rows)
}

// RecordPoll stores the outcome of one poll cycle for a target.
func (s *SQLite) RecordPoll(ctx context.Context, id int64, nextPollAt time.Time, failCount int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE targets SET next_poll_at = ?, fail_count = ? WHERE id = ?`,
		nextPollAt.UTC().Format(timeLayout), failCount, id,
	)
	if err != nil {
		return fmt.Errorf("record poll: %w", err)
	}
	return nil
}

// DeactivateMissingTargets deactivates every target of the course whose
// assignment ID is not in keep. Seen submissions are retained.
func (s *SQLite) DeactivateMissingTargets(ctx context.Context, courseID int64, keep []int64) error {
	query := `UPDATE targets SET is_active = 0 WHERE course_id = ?`
	args := []any{courseID}
	if len(keep) > 0 {
		query += ` AND assignment_id NOT IN (?` + strings.Repeat(",?", len(keep)-1) + `)`
		for _, id := range keep {
			args = append(args, id)
		}
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deactivate targets: %w", err)
	}
	return nil
}

// MarkSeen durably records that a submission has been notified. Repeating
// the call for the same submission is a no-op unless the version increased.
func (s *SQLite) MarkSeen(ctx context.Context, key model.TargetKey, submissionID, version int64) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO seen_submissions (course_id, assignment_id, submission_id, notified_at, content_version)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (course_id, assignment_id, submission_id) DO UPDATE SET
		     content_version = excluded.content_version
		 WHERE excluded.content_version > seen_submissions.content_version`,
		key.CourseID, key.AssignmentID, submissionID, now, version,
	)
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

// IsSeen checks whether a submission has already been notified.
func (s *SQLite) IsSeen(ctx context.Context, key model.TargetKey, submissionID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM seen_submissions
		 WHERE course_id = ? AND assignment_id = ? AND submission_id = ?`,
		key.CourseID, key.AssignmentID, submissionID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check seen: %w", err)
	}
	return count > 0, nil
}

// GetSeen returns the seen entry for a submission, or nil if none exists.
func (s *SQLite) GetSeen(ctx context.Context, key model.TargetKey, submissionID int64) (*model.SeenEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT course_id, assignment_id, submission_id, notified_at, content_version
		 FROM seen_submissions
		 WHERE course_id = ? AND assignment_id = ? AND submission_id = ?`,
		key.CourseID, key.AssignmentID, submissionID,
	)

	var e model.SeenEntry
	var notified string
	err := row.Scan(&e.CourseID, &e.AssignmentID, &e.SubmissionID, &notified, &e.ContentVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan seen entry: %w", err)
	}
	e.NotifiedAt, _ = time.Parse(timeLayout, notified)
	return &e, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTarget(row scannable) (*model.Target, error) {
	var t model.Target
	var isActive int
	var nextPoll, created sql.NullString
	err := row.Scan(&t.ID, &t.CourseID, &t.AssignmentID, &t.CourseName, &t.AssignmentName,
		&isActive, &t.FailCount, &nextPoll, &created)
	if err != nil {
		return nil, fmt.Errorf("scan target: %w", err)
	}
	t.IsActive = isActive == 1
	if nextPoll.Valid {
		ts, _ := time.Parse(timeLayout, nextPoll.String)
		t.NextPollAt = &ts
	}
	if created.Valid {
		t.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &t, nil
}

func scanTargets(rows *sql.Rows) ([]model.Target, error) {
	var targets []model.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, *t)
	}
	return targets, rows.Err()
}
