package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var (
	ErrSSHUserRequired = errors.New("transport: ssh user is required")
	ErrSSHKeyRequired  = errors.New("transport: ssh key path is required")
)

// SSHOptions holds credentials shared by every ssh target.
type SSHOptions struct {
	User                        string
	KeyPath                     string
	Passphrase                  []byte
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	Timeout                     time.Duration
}

// SSH runs each sub-command in a fresh session on one long-lived client.
type SSH struct {
	addr string

	mu     sync.Mutex
	client *ssh.Client
	closed bool
}

// DialSSH connects to addr. user overrides opts.User when set.
func DialSSH(ctx context.Context, addr string, user string, opts SSHOptions) (*SSH, error) {
	if strings.TrimSpace(user) != "" {
		opts.User = user
	}
	config, err := opts.clientConfig()
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: opts.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: ssh handshake %s: %w", addr, err)
	}
	log.Debug().Str("addr", addr).Str("user", opts.User).Msg("transport: ssh session established")
	return &SSH{addr: addr, client: ssh.NewClient(clientConn, chans, reqs)}, nil
}

// Execute runs command remotely. A remote non-zero exit is a failed
// sub-command; any other session error is a transport failure.
func (s *SSH) Execute(ctx context.Context, command string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Result{}, ErrClosed
	}

	session, err := s.client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("transport: ssh session on %s: %w", s.addr, err)
	}
	defer session.Close()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	err = session.Run(command)
	if err == nil {
		return Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), Success: true}, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: int32(exitErr.ExitStatus())}, nil
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: -1}, nil
	}
	return Result{}, fmt.Errorf("transport: ssh run on %s: %w", s.addr, err)
}

func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

func (s *SSH) String() string { return "ssh://" + s.addr }

func (o SSHOptions) clientConfig() (*ssh.ClientConfig, error) {
	if strings.TrimSpace(o.User) == "" {
		return nil, ErrSSHUserRequired
	}
	signer, err := o.signer()
	if err != nil {
		return nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback
	if o.InsecureSkipHostKeyChecking {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		callback, err := o.knownHostsCallback()
		if err != nil {
			return nil, err
		}
		hostKeyCallback = callback
	}

	return &ssh.ClientConfig{
		User:            o.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         o.Timeout,
	}, nil
}

func (o SSHOptions) signer() (ssh.Signer, error) {
	if strings.TrimSpace(o.KeyPath) == "" {
		return nil, ErrSSHKeyRequired
	}
	privateKey, err := os.ReadFile(o.KeyPath)
	if err != nil {
		return nil, err
	}
	if len(o.Passphrase) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(privateKey, o.Passphrase)
	}
	return ssh.ParsePrivateKey(privateKey)
}

func (o SSHOptions) knownHostsCallback() (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(o.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("transport: known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	return knownhosts.New(path)
}
