package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/danmuck/pars/internal/protocol/frame"
	"github.com/danmuck/pars/internal/protocol/schema"
	"github.com/danmuck/pars/internal/protocol/wire"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrHandshakeRejected = errors.New("transport: worker rejected session")

// TCPOptions configures a framed connection to a parsd worker.
type TCPOptions struct {
	Wire     wire.Config
	Token    string
	ClientID string
}

// TCP is one session with a parsd worker. Requests are strictly sequential.
type TCP struct {
	addr     string
	opts     TCPOptions
	workerID string

	mu     sync.Mutex
	conn   net.Conn
	nextID uint64
	closed bool
}

// DialTCP connects to addr and completes the hello handshake.
func DialTCP(ctx context.Context, addr string, opts TCPOptions) (*TCP, error) {
	if err := opts.Wire.ValidateClient(); err != nil {
		return nil, err
	}
	if opts.ClientID == "" {
		opts.ClientID = uuid.NewString()
	}

	dialer := net.Dialer{Timeout: opts.Wire.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	conn := rawConn
	if opts.Wire.TLS.Enabled {
		tlsCfg, err := opts.Wire.ClientTLSConfig(addr)
		if err != nil {
			_ = rawConn.Close()
			return nil, err
		}
		tlsConn := tls.Client(rawConn, tlsCfg)
		handshakeCtx, cancel := context.WithTimeout(ctx, opts.Wire.HandshakeTimeout)
		defer cancel()
		if err := tlsConn.HandshakeContext(handshakeCtx); err != nil {
			_ = rawConn.Close()
			return nil, fmt.Errorf("transport: tls handshake %s: %w", addr, err)
		}
		conn = tlsConn
	}

	t := &TCP{addr: addr, opts: opts, conn: conn}
	if err := t.hello(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	log.Debug().
		Str("addr", addr).
		Str("client_id", opts.ClientID).
		Str("worker_id", t.workerID).
		Msg("transport: session established")
	return t, nil
}

func (t *TCP) hello() error {
	t.nextID++
	id := t.nextID
	raw, err := wire.EncodeHelloFrame(id, wire.Hello{ClientID: t.opts.ClientID}, []byte(t.opts.Token))
	if err != nil {
		return err
	}
	if t.opts.Wire.HandshakeTimeout > 0 {
		_ = t.conn.SetDeadline(time.Now().Add(t.opts.Wire.HandshakeTimeout))
		defer t.conn.SetDeadline(time.Time{})
	}
	if _, err := t.conn.Write(raw); err != nil {
		return fmt.Errorf("transport: write hello: %w", err)
	}
	fr, err := frame.ReadFrame(t.conn, frame.DefaultLimits())
	if err != nil {
		return fmt.Errorf("transport: read hello.ack: %w", err)
	}
	if err := wire.ExpectResponse(fr, id, schema.MsgHelloAck); err != nil {
		return err
	}
	ack, err := wire.DecodeHelloAckFrame(fr)
	if err != nil {
		return err
	}
	if !ack.Accepted {
		return fmt.Errorf("%w: %s: %s", ErrHandshakeRejected, t.addr, ack.Reason)
	}
	t.workerID = ack.WorkerID
	return nil
}

// Execute forwards command and waits for its result. Once the exec frame is
// written the call waits for the worker regardless of ctx.
func (t *TCP) Execute(ctx context.Context, command string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return Result{}, ErrClosed
	}

	t.nextID++
	id := t.nextID
	raw, err := wire.EncodeExecFrame(id, wire.Exec{Command: command})
	if err != nil {
		return Result{}, err
	}
	if t.opts.Wire.WriteTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.opts.Wire.WriteTimeout))
	}
	if _, err := t.conn.Write(raw); err != nil {
		return Result{}, fmt.Errorf("transport: write exec to %s: %w", t.addr, err)
	}
	if t.opts.Wire.ExecTimeout > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(t.opts.Wire.ExecTimeout))
	} else {
		_ = t.conn.SetReadDeadline(time.Time{})
	}
	var stdout, stderr []byte
	for {
		fr, err := frame.ReadFrame(t.conn, frame.DefaultLimits())
		if err != nil {
			return Result{}, fmt.Errorf("transport: read result from %s: %w", t.addr, err)
		}
		if fr.Header.MessageType == schema.MsgOutput {
			if err := wire.ExpectResponse(fr, id, schema.MsgOutput); err != nil {
				return Result{}, err
			}
			out, err := wire.DecodeOutputFrame(fr)
			if err != nil {
				return Result{}, err
			}
			stdout = append(stdout, out.Stdout...)
			stderr = append(stderr, out.Stderr...)
			continue
		}
		if err := wire.ExpectResponse(fr, id, schema.MsgResult); err != nil {
			return Result{}, err
		}
		res, err := wire.DecodeResultFrame(fr)
		if err != nil {
			return Result{}, err
		}
		if stdout != nil || stderr != nil {
			res.Stdout = append(stdout, res.Stdout...)
			res.Stderr = append(stderr, res.Stderr...)
		}
		return Result{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode, Success: res.Success}, nil
	}
}

func (t *TCP) WorkerID() string { return t.workerID }

func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

func (t *TCP) String() string { return "tcp://" + t.addr }
