package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxStderrBytes = 64 * 1024
	waitDelay      = 2 * time.Second
)

// collector captures process output up to maxBytes. Writes never fail so
// the process is not killed by a broken pipe once the cap is reached.
type collector struct {
	buffer    bytes.Buffer
	maxBytes  int64
	truncated bool
}

func newCollector(maxBytes int64) *collector {
	return &collector{maxBytes: maxBytes}
}

func (c *collector) Write(p []byte) (int, error) {
	remaining := c.maxBytes - int64(c.buffer.Len())
	if remaining <= 0 {
		if len(p) > 0 {
			c.truncated = true
		}
		return len(p), nil
	}
	toWrite := p
	if int64(len(toWrite)) > remaining {
		toWrite = toWrite[:remaining]
		c.truncated = true
	}
	c.buffer.Write(toWrite)
	return len(p), nil
}

// String returns the captured text. A rune cut by the cap is dropped and
// invalid UTF-8 is replaced.
func (c *collector) String() string {
	b := c.buffer.Bytes()
	if c.truncated {
		for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
			r, size := utf8.DecodeLastRune(b)
			if r != utf8.RuneError || size != 1 {
				break
			}
			b = b[:len(b)-1]
		}
	}
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

// process is one fully prepared execution.
type process struct {
	name      string // tool name, for messages
	path      string
	args      []string
	dir       string
	env       []string
	stdin     []byte
	timeout   time.Duration
	maxOutput int64
}

// runResult is what a finished process produced.
type runResult struct {
	Stdout    string
	Truncated bool
}

// runProcess executes p once. Timeouts and non-zero exits come back as
// ToolErrors of distinct types.
func runProcess(ctx context.Context, p process) (runResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, p.path, p.args...)
	cmd.Dir = p.dir
	cmd.Env = p.env
	cmd.WaitDelay = waitDelay
	if p.stdin != nil {
		cmd.Stdin = bytes.NewReader(p.stdin)
	}

	stdout := newCollector(p.maxOutput)
	stderr := newCollector(maxStderrBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	execErr := cmd.Run()
	result := runResult{Stdout: stdout.String(), Truncated: stdout.truncated}

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return result, NewToolErrorf(ErrTimeout, "script execution timed out after %s", formatTimeout(p.timeout))
	}
	if ctx.Err() != nil {
		return result, NewToolErrorf(ErrExecutionFailed, "%s cancelled: %v", p.name, ctx.Err())
	}

	if execErr != nil {
		var exitErr *exec.ExitError
		if errors.As(execErr, &exitErr) {
			return result, NewToolErrorf(ErrExecutionFailed, "exited with code %d: %s",
				exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return result, NewToolErrorf(ErrExecutionFailed, "failed to run %s: %v", p.path, execErr)
	}
	return result, nil
}

// processEnv inherits the parent environment and appends the tool's
// expanded variables plus identification for the child.
func processEnv(spec *ToolSpec, expand func(string) string) []string {
	env := os.Environ()
	env = append(env, fmt.Sprintf("CMD2AI_TOOL_NAME=%s", spec.Name))
	if spec.Policy != nil {
		env = append(env, fmt.Sprintf("CMD2AI_BASE_DIR=%s", spec.Policy.BaseDir))
	}
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, expand(v)))
	}
	return env
}

func formatTimeout(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%d seconds", int(d/time.Second))
	}
	return d.String()
}
