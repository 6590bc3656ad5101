package transport

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

const DefaultShell = "/bin/sh"

// Local runs sub-commands through `<shell> -c` on this host. Stdin is
// attached to the null device and stderr is captured separately.
type Local struct {
	Shell string
	Env   []string
}

func NewLocal(shell string) *Local {
	if strings.TrimSpace(shell) == "" {
		shell = DefaultShell
	}
	return &Local{Shell: shell}
}

// Execute ignores ctx once the process has started: in-flight sub-commands
// always run to completion.
func (l *Local) Execute(ctx context.Context, command string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	shell := l.Shell
	if shell == "" {
		shell = DefaultShell
	}
	cmd := exec.Command(shell, "-c", command)
	if len(l.Env) > 0 {
		cmd.Env = l.Env
	}
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), Success: true}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: int32(exitErr.ExitCode())}, nil
	}

	// A shell that cannot be spawned fails the sub-command, not the slot.
	exitCode := int32(1)
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		exitCode = 127
	}
	stderr.WriteString(err.Error())
	return Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: exitCode}, nil
}

func (l *Local) Close() error { return nil }

func (l *Local) String() string { return "local" }
