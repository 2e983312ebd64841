package util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
)

const stderrTail = 2048

// RequireBinary verifies the binary is on PATH.
func RequireBinary(name string) error {
	_, err := exec.LookPath(name)
	if err != nil {
		return fmt.Errorf("required binary not found: %s", name)
	}
	return nil
}

// Cmd is a typed external command. Arguments are passed to the process as-is,
// never through a shell, so credentials and paths need no quoting.
type Cmd struct {
	Name string
	Args []string
	Env  map[string]string
	Dir  string
}

// NewCmd starts building a command.
func NewCmd(name string, args ...string) Cmd {
	return Cmd{Name: name, Args: append([]string(nil), args...)}
}

// Arg appends arguments.
func (c Cmd) Arg(args ...string) Cmd {
	c.Args = append(append([]string(nil), c.Args...), args...)
	return c
}

// Flag appends "name value" when value is not empty.
func (c Cmd) Flag(name, value string) Cmd {
	if value == "" {
		return c
	}
	return c.Arg(name, value)
}

// WithEnv adds one environment entry.
func (c Cmd) WithEnv(key, value string) Cmd {
	env := make(map[string]string, len(c.Env)+1)
	for k, v := range c.Env {
		env[k] = v
	}
	env[key] = value
	c.Env = env
	return c
}

// String renders the command for logs. Environment values are never printed.
func (c Cmd) String() string {
	parts := append([]string{c.Name}, c.Args...)
	return strings.Join(parts, " ")
}

// EnvKeys lists the environment names set on the command, sorted.
func (c Cmd) EnvKeys() []string {
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ExternalProcessError reports a command that failed to start or exited non-zero.
type ExternalProcessError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExternalProcessError) Error() string {
	msg := fmt.Sprintf("%s failed", e.Command)
	if e.ExitCode > 0 {
		msg = fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ExternalProcessError) Unwrap() error { return e.Err }

// Runner executes external commands.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) error
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, c Cmd) error {
	cmd := Command(ctx, c.Name, c.Args, c.Env)
	cmd.Dir = c.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return nil
	}
	perr := &ExternalProcessError{Command: c.Name, Stderr: tail(stderr.String()), Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		perr.ExitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		perr.Err = fmt.Errorf("%w (%v)", ctxErr, err)
	}
	return perr
}

// Command builds an exec.Cmd with the process environment plus env.
func Command(ctx context.Context, name string, args []string, env map[string]string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	cmd.Env = os.Environ()
	for _, k := range keys {
		cmd.Env = append(cmd.Env, k+"="+env[k])
	}
	return cmd
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		s = "..." + s[len(s)-stderrTail:]
	}
	return s
}
