package transport

import (
	"context"
	"errors"
	"strings"
)

var ErrClosed = errors.New("transport: closed")

// Transport executes one sub-command at a time. A returned error means the
// transport itself failed; a command that ran and exited non-zero is reported
// through Result.Success with a nil error.
type Transport interface {
	Execute(ctx context.Context, command string) (Result, error)
	Close() error
}

// Result is the captured outcome of one sub-command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int32
	Success  bool
}

// Lines splits stdout into output lines. A trailing newline does not produce
// an empty final line.
func (r Result) Lines() []string {
	return SplitLines(r.Stdout)
}

func SplitLines(out []byte) []string {
	if len(out) == 0 {
		return nil
	}
	return strings.Split(strings.TrimSuffix(string(out), "\n"), "\n")
}
