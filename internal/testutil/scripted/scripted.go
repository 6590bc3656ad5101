// Package scripted provides an in-memory transport that understands the
// handful of shell builtins dispatcher tests use.
package scripted

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/pars/internal/transport"
)

var ErrBroken = errors.New("scripted: connection broken")

// Transport interprets echo, sleep, true, false, /bin/false and exit.
// `sleep 1` sleeps for Unit. A command equal to BreakOn returns ErrBroken.
type Transport struct {
	Name    string
	Unit    time.Duration
	BreakOn string

	mu     sync.Mutex
	calls  []string
	closed bool
}

func New(name string, unit time.Duration) *Transport {
	return &Transport{Name: name, Unit: unit}
}

func (t *Transport) Execute(ctx context.Context, command string) (transport.Result, error) {
	if err := ctx.Err(); err != nil {
		return transport.Result{}, err
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.Result{}, transport.ErrClosed
	}
	t.calls = append(t.calls, command)
	t.mu.Unlock()

	if t.BreakOn != "" && command == t.BreakOn {
		return transport.Result{}, ErrBroken
	}

	name, args, _ := strings.Cut(strings.TrimSpace(command), " ")
	args = strings.TrimSpace(args)
	switch name {
	case "echo":
		return transport.Result{Stdout: []byte(unquote(args) + "\n"), Success: true}, nil
	case "sleep":
		secs, err := strconv.ParseFloat(args, 64)
		if err != nil {
			return failed(1, "sleep: invalid time interval"), nil
		}
		time.Sleep(time.Duration(secs * float64(t.Unit)))
		return transport.Result{Success: true}, nil
	case "true":
		return transport.Result{Success: true}, nil
	case "false", "/bin/false":
		return failed(1, ""), nil
	case "exit":
		code, err := strconv.Atoi(args)
		if err != nil {
			return failed(2, "exit: illegal number"), nil
		}
		if code == 0 {
			return transport.Result{Success: true}, nil
		}
		return failed(int32(code), ""), nil
	default:
		return failed(127, fmt.Sprintf("%s: not found", name)), nil
	}
}

// Calls returns every command seen so far, in arrival order.
func (t *Transport) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.calls))
	copy(out, t.calls)
	return out
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *Transport) String() string { return "scripted:" + t.Name }

func failed(code int32, stderr string) transport.Result {
	return transport.Result{ExitCode: code, Stderr: []byte(stderr)}
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
