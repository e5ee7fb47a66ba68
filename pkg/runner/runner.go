package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// Status classifies the outcome of an invocation.
type Status string

const (
	// Succeeded means the process exited with status zero.
	Succeeded Status = "succeeded"

	// Failed means the process exited non-zero or could not be started.
	Failed Status = "failed"

	// TimedOut means the optional runner timeout expired.
	TimedOut Status = "timed_out"
)

// Result is the record of one invocation.
type Result struct {
	Command  Command
	Status   Status
	ExitCode int

	// Output is the combined stdout and stderr
	Output []byte

	Duration time.Duration

	// Err is set when the process could not be started or was killed
	Err error
}

// OK reports whether the invocation succeeded.
func (r Result) OK() bool { return r.Status == Succeeded }

// Runner runs one external command to completion. A non-zero exit is reported
// in the Result, never as a Go error: callers decide what a failure means by
// checking for the files they expected.
type Runner interface {
	Run(ctx context.Context, cmd Command, log *slog.Logger) Result
}

// Func adapts a function to the Runner interface.
type Func func(ctx context.Context, cmd Command, log *slog.Logger) Result

// Run calls f.
func (f Func) Run(ctx context.Context, cmd Command, log *slog.Logger) Result {
	return f(ctx, cmd, log)
}

// ExecRunner runs commands as child processes.
type ExecRunner struct {
	// Dir is the working directory; empty means the current one.
	Dir string

	// Timeout bounds each invocation. Zero means no limit.
	Timeout time.Duration
}

// NewExecRunner creates a runner without timeout.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run spawns cmd, blocks until it exits and logs its captured output.
func (e *ExecRunner) Run(ctx context.Context, cmd Command, log *slog.Logger) Result {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	log.Info("running command", "cmd", cmd.String())

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = e.Dir
	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out

	start := time.Now()
	err := c.Run()
	res := Result{
		Command:  cmd,
		Status:   Succeeded,
		Output:   out.Bytes(),
		Duration: time.Since(start),
	}

	if err != nil {
		res.Status = Failed
		res.ExitCode = -1
		res.Err = err

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.Status = TimedOut
			res.Err = fmt.Errorf("%s timed out after %s: %w", cmd.Name, e.Timeout, ctx.Err())
		}
	}

	Log(log, res)
	return res
}

// Log writes the captured output of res to the run log.
func Log(log *slog.Logger, res Result) {
	attrs := []any{
		"cmd", res.Command.Name,
		"status", string(res.Status),
		"exit_code", res.ExitCode,
		"duration", res.Duration.Round(time.Millisecond),
	}
	if res.Err != nil && res.ExitCode == -1 {
		attrs = append(attrs, "err", res.Err)
	}
	attrs = append(attrs, "output", string(res.Output))
	log.Info("command finished", attrs...)
}
