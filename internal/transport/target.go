package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var ErrInvalidTarget = errors.New("transport: invalid remote target")

const (
	SchemeTCP = "tcp"
	SchemeSSH = "ssh"
)

// Target is one `--remote` entry: `[scheme://][user@]host:port/threads`.
// Each declared thread becomes an independent slot with its own connection.
type Target struct {
	Scheme  string
	User    string
	Host    string
	Port    string
	Threads int
}

func ParseTarget(raw string) (Target, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Target{}, fmt.Errorf("%w: empty", ErrInvalidTarget)
	}
	t := Target{Scheme: SchemeTCP}
	if scheme, rest, ok := strings.Cut(s, "://"); ok {
		switch strings.ToLower(scheme) {
		case SchemeTCP, SchemeSSH:
			t.Scheme = strings.ToLower(scheme)
		default:
			return Target{}, fmt.Errorf("%w: unknown scheme %q in %q", ErrInvalidTarget, scheme, raw)
		}
		s = rest
	}

	slash := strings.LastIndex(s, "/")
	if slash < 0 {
		return Target{}, fmt.Errorf("%w: missing /threads in %q", ErrInvalidTarget, raw)
	}
	threads, err := strconv.Atoi(s[slash+1:])
	if err != nil || threads < 1 {
		return Target{}, fmt.Errorf("%w: thread count must be a positive integer in %q", ErrInvalidTarget, raw)
	}
	t.Threads = threads
	s = s[:slash]

	if user, rest, ok := strings.Cut(s, "@"); ok {
		if t.Scheme != SchemeSSH {
			return Target{}, fmt.Errorf("%w: user is only valid for ssh targets in %q", ErrInvalidTarget, raw)
		}
		t.User = user
		s = rest
	}

	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if host == "" {
		return Target{}, fmt.Errorf("%w: missing host in %q", ErrInvalidTarget, raw)
	}
	if p, err := strconv.Atoi(port); err != nil || p < 1 || p > 65535 {
		return Target{}, fmt.Errorf("%w: bad port %q in %q", ErrInvalidTarget, port, raw)
	}
	t.Host = host
	t.Port = port
	return t, nil
}

// Address is the dialable host:port.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, t.Port)
}

func (t Target) String() string {
	var b strings.Builder
	b.WriteString(t.Scheme)
	b.WriteString("://")
	if t.User != "" {
		b.WriteString(t.User)
		b.WriteByte('@')
	}
	b.WriteString(t.Address())
	b.WriteByte('/')
	b.WriteString(strconv.Itoa(t.Threads))
	return b.String()
}
