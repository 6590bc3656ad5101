package worker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/danmuck/pars/internal/observability"
	"github.com/danmuck/pars/internal/protocol/frame"
	"github.com/danmuck/pars/internal/protocol/schema"
	"github.com/danmuck/pars/internal/protocol/wire"
	"github.com/rs/zerolog/log"
)

// handleConn runs one session: handshake, then exec frames until the peer
// goes away.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer s.untrackConn(conn)
	remote := conn.RemoteAddr().String()

	if tlsConn, ok := conn.(*tls.Conn); ok {
		if s.cfg.Wire.HandshakeTimeout > 0 {
			_ = tlsConn.SetDeadline(time.Now().Add(s.cfg.Wire.HandshakeTimeout))
		}
		if err := tlsConn.Handshake(); err != nil {
			log.Warn().Err(err).Str("remote", remote).Msg("worker: tls handshake failed")
			return
		}
	}

	clientID, err := s.handshake(conn)
	if err != nil {
		log.Warn().Err(err).Str("remote", remote).Msg("worker: handshake failed")
		return
	}

	active := s.sessions.Add(1)
	observability.WorkerSessionOpened(s.id)
	log.Info().
		Str("remote", remote).
		Str("client_id", clientID).
		Int64("active_sessions", active).
		Msg("worker: session opened")
	defer func() {
		remaining := s.sessions.Add(-1)
		observability.WorkerSessionClosed(s.id)
		log.Info().
			Str("remote", remote).
			Str("client_id", clientID).
			Int64("active_sessions", remaining).
			Msg("worker: session closed")
	}()

	for {
		fr, err := frame.ReadFrame(conn, frame.DefaultLimits())
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Warn().Err(err).Str("client_id", clientID).Msg("worker: read frame")
			}
			return
		}
		if err := s.handleFrame(ctx, conn, fr); err != nil {
			log.Warn().Err(err).Str("client_id", clientID).Msg("worker: write response")
			return
		}
	}
}

// handshake reads the hello frame, checks its token and answers with
// hello.ack. A rejected session gets a negative ack before the error.
func (s *Server) handshake(conn net.Conn) (string, error) {
	if s.cfg.Wire.HandshakeTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.Wire.HandshakeTimeout))
		defer conn.SetDeadline(time.Time{})
	}
	fr, err := frame.ReadFrame(conn, frame.DefaultLimits())
	if err != nil {
		return "", fmt.Errorf("worker: read hello: %w", err)
	}
	if fr.Header.MessageType != schema.MsgHello {
		_ = s.replyError(conn, fr.Header.MessageID, "expected hello")
		return "", fmt.Errorf("%w: %s", wire.ErrUnexpectedMessage, schema.MessageName(fr.Header.MessageType))
	}
	hello, err := wire.DecodeHelloFrame(fr)
	if err == nil {
		err = hello.Validate()
	}
	if err != nil {
		_ = s.replyError(conn, fr.Header.MessageID, err.Error())
		return "", err
	}

	ack := wire.HelloAck{WorkerID: s.id, Accepted: true}
	authErr := s.auth.Validate(string(fr.Auth))
	if authErr != nil {
		ack.Accepted = false
		ack.Reason = "unauthorized"
	}
	raw, err := wire.EncodeHelloAckFrame(fr.Header.MessageID, ack)
	if err != nil {
		return "", err
	}
	if _, err := conn.Write(raw); err != nil {
		return "", fmt.Errorf("worker: write hello.ack: %w", err)
	}
	if authErr != nil {
		return "", fmt.Errorf("%w: client_id=%s", authErr, hello.ClientID)
	}
	return hello.ClientID, nil
}

// handleFrame answers one request. Protocol mistakes by the peer are
// answered with an error frame; only write failures end the session.
func (s *Server) handleFrame(ctx context.Context, conn net.Conn, fr frame.Frame) error {
	id := fr.Header.MessageID
	if fr.Header.MessageType != schema.MsgExec {
		return s.replyError(conn, id, fmt.Sprintf("unexpected message type %s", schema.MessageName(fr.Header.MessageType)))
	}
	exec, err := wire.DecodeExecFrame(fr)
	if err != nil {
		return s.replyError(conn, id, err.Error())
	}

	start := time.Now()
	res, err := s.exec.Execute(ctx, exec.Command)
	if err != nil {
		log.Error().Err(err).Str("command", exec.Command).Msg("worker: execute")
		return s.replyError(conn, id, err.Error())
	}
	observability.RecordWorkerExec(s.id, res.Success, time.Since(start))
	log.Debug().
		Str("command", exec.Command).
		Int32("exit_code", res.ExitCode).
		Dur("elapsed", time.Since(start)).
		Msg("worker: executed")

	frames, err := wire.EncodeResultFrames(id, wire.Result{
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
		Success:  res.Success,
	}, wire.DefaultChunkSize)
	if err != nil {
		log.Error().Err(err).Str("command", exec.Command).Msg("worker: encode result")
		return s.replyError(conn, id, err.Error())
	}
	for _, raw := range frames {
		if err := s.write(conn, raw); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) replyError(conn net.Conn, id uint64, message string) error {
	raw, err := wire.EncodeErrorFrame(id, wire.Error{Message: message})
	if err != nil {
		return err
	}
	return s.write(conn, raw)
}

func (s *Server) write(conn net.Conn, raw []byte) error {
	if s.cfg.Wire.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.Wire.WriteTimeout))
	}
	_, err := conn.Write(raw)
	return err
}
