package worker

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/danmuck/pars/internal/auth"
	"github.com/danmuck/pars/internal/observability"
	"github.com/danmuck/pars/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Server accepts pars sessions and runs their sub-commands.
type Server struct {
	cfg   Config
	id    string
	exec  transport.Transport
	auth  auth.Validator
	ready atomic.Bool

	sessions atomic.Int64

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

// New builds a worker. A nil exec runs sub-commands with the configured
// local shell.
func New(cfg Config, exec transport.Transport) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if exec == nil {
		exec = transport.NewLocal(cfg.Shell)
	}
	return &Server{
		cfg:   cfg,
		id:    "parsd." + uuid.NewString(),
		exec:  exec,
		auth:  auth.ForToken(cfg.Token),
		conns: make(map[net.Conn]struct{}),
	}, nil
}

func (s *Server) ID() string { return s.id }

// Ready reports whether the accept loop is running.
func (s *Server) Ready() bool { return s.ready.Load() }

// Sessions returns the number of established sessions.
func (s *Server) Sessions() int { return int(s.sessions.Load()) }

// Run listens on the configured address, serves the optional admin
// surface and blocks until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Serve(gctx, ln)
	})
	if addr := strings.TrimSpace(s.cfg.AdminAddr); addr != "" {
		router := observability.NewAdminRouter(observability.AdminOptions{
			Node:    s.id,
			Version: s.cfg.Version,
			Ready:   s.Ready,
		})
		g.Go(func() error {
			return observability.ServeAdmin(gctx, addr, router)
		})
	}
	return g.Wait()
}

// Listen opens the TCP or TLS listener.
func (s *Server) Listen() (net.Listener, error) {
	if !s.cfg.Wire.TLS.Enabled {
		return net.Listen("tcp", s.cfg.ListenAddr)
	}
	tlsCfg, err := s.cfg.Wire.ServerTLSConfig()
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", s.cfg.ListenAddr, tlsCfg)
}

// Serve runs the accept loop on ln until ctx is done. Open sessions are
// closed on shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	s.ready.Store(true)
	defer s.ready.Store(false)
	log.Info().
		Str("worker_id", s.id).
		Str("addr", ln.Addr().String()).
		Bool("tls", s.cfg.Wire.TLS.Enabled).
		Msg("worker: listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.trackConn(conn)
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}
