package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// maxStderr bounds how much diagnostic output is kept from a child process
const maxStderr = 64 * 1024

// Command describes one child process invocation. Args are passed as a
// vector; nothing is interpreted by a shell.
type Command struct {
	Path   string
	Args   []string
	Env    []string
	Stdin  io.Reader
	Stdout io.Writer
}

// String renders the command for logs. Env is omitted since it carries secrets.
func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// CommandRunner runs dump and restore utilities. Tests substitute a fake.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) error
}

// CommandError reports a child process that could not start or exited non-zero
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExecRunner runs commands with os/exec. Cancelling ctx kills the process.
type ExecRunner struct {
	// WaitDelay bounds how long to wait for pipes to drain after the process is killed
	WaitDelay time.Duration
}

// Run implements CommandRunner
func (r ExecRunner) Run(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}

	stderr := &limitedBuffer{max: maxStderr}
	cmd.Stderr = stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	cmdErr := &CommandError{
		Command:  c.Path,
		ExitCode: -1,
		Stderr:   strings.TrimSpace(stderr.String()),
		Err:      err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		cmdErr.ExitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		cmdErr.Err = fmt.Errorf("%w: %v", ctxErr, err)
	}
	return cmdErr
}

// limitedBuffer keeps the first max bytes written to it and drops the rest
type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}
