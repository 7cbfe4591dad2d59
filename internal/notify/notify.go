// Package notify delivers submission notifications to an external chat
// channel. Two backends are provided: the openclaw CLI (Discord) and a
// Telegram bot.
package notify

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// Notifier is the capability to deliver one text message to the configured
// channel. Implementations may fail transiently; retries are the caller's
// concern.
type Notifier interface {
	Send(ctx context.Context, message string) error
}

// commandRunner runs an external command, returning an error when the
// command cannot be started or exits non-zero.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// CLI sends notifications by shelling out to the openclaw messaging CLI.
type CLI struct {
	binary  string
	channel string
	target  string
	timeout time.Duration
	runner  commandRunner
}

// NewCLI creates a CLI notifier invoking binary to post to the given
// channel and target.
func NewCLI(binary, channel, target string) *CLI {
	return &CLI{
		binary:  binary,
		channel: channel,
		target:  target,
		timeout: 30 * time.Second,
		runner:  execRunner{},
	}
}

// Send posts the message via the CLI. The invocation is bounded by the
// notifier's timeout regardless of the caller's context.
func (c *CLI) Send(ctx context.Context, message string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.runner.Run(ctx, c.binary,
		"message", "send",
		"--channel", c.channel,
		"--target", c.target,
		"--message", message,
	)
	if err != nil {
		return fmt.Errorf("run %s: %w", c.binary, err)
	}
	return nil
}
