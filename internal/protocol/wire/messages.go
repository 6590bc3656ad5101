package wire

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/pars/internal/protocol/frame"
	"github.com/danmuck/pars/internal/protocol/schema"
	"github.com/danmuck/pars/internal/protocol/tlv"
)

var (
	ErrInvalidHello       = errors.New("wire: invalid hello")
	ErrInvalidExec        = errors.New("wire: invalid exec")
	ErrUnexpectedMessage  = errors.New("wire: unexpected message type")
	ErrMessageIDMismatch  = errors.New("wire: response message id mismatch")
	ErrRemoteError        = errors.New("wire: remote error")
	ErrHandshakeRejected  = errors.New("wire: handshake rejected")
	ErrMissingResponseBit = errors.New("wire: response flag not set")
)

// Hello opens a session from a dispatcher slot to a worker. The shared
// token, when configured, travels in the frame auth block.
type Hello struct {
	ClientID string
}

func (h Hello) Validate() error {
	if strings.TrimSpace(h.ClientID) == "" {
		return fmt.Errorf("%w: missing client_id", ErrInvalidHello)
	}
	return nil
}

// HelloAck answers a Hello.
type HelloAck struct {
	WorkerID string
	Accepted bool
	Reason   string
}

// Exec asks the worker to run one sub-command.
type Exec struct {
	Command string
}

func (e Exec) Validate() error {
	if e.Command == "" {
		return fmt.Errorf("%w: empty command", ErrInvalidExec)
	}
	return nil
}

// Result carries the outcome of one Exec.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int32
	Success  bool
}

// Output is a slice of a result's stdout and stderr sent ahead of the
// final result frame. Large results are streamed as output frames so no
// single frame exceeds the payload limit.
type Output struct {
	Stdout []byte
	Stderr []byte
}

// DefaultChunkSize bounds the stdout and stderr bytes carried by one frame.
const DefaultChunkSize = 1 << 20

// Error reports a request the worker could not process.
type Error struct {
	Message string
}

func EncodeHelloFrame(messageID uint64, hello Hello, token []byte) ([]byte, error) {
	if err := hello.Validate(); err != nil {
		return nil, err
	}
	fields := []tlv.Field{tlv.String(schema.FieldClientID, hello.ClientID)}
	return encode(messageID, schema.MsgHello, 0, token, fields)
}

func DecodeHelloFrame(f frame.Frame) (Hello, error) {
	fields, err := decode(f, schema.MsgHello)
	if err != nil {
		return Hello{}, err
	}
	return Hello{ClientID: getString(fields, schema.FieldClientID)}, nil
}

func EncodeHelloAckFrame(messageID uint64, ack HelloAck) ([]byte, error) {
	fields := []tlv.Field{
		tlv.String(schema.FieldWorkerID, ack.WorkerID),
		tlv.Bool(schema.FieldAccepted, ack.Accepted),
	}
	if v := strings.TrimSpace(ack.Reason); v != "" {
		fields = append(fields, tlv.String(schema.FieldMessage, v))
	}
	return encode(messageID, schema.MsgHelloAck, frame.FlagIsResponse, nil, fields)
}

func DecodeHelloAckFrame(f frame.Frame) (HelloAck, error) {
	fields, err := decode(f, schema.MsgHelloAck)
	if err != nil {
		return HelloAck{}, err
	}
	accepted, err := getBool(fields, schema.FieldAccepted)
	if err != nil {
		return HelloAck{}, err
	}
	return HelloAck{
		WorkerID: getString(fields, schema.FieldWorkerID),
		Accepted: accepted,
		Reason:   getString(fields, schema.FieldMessage),
	}, nil
}

func EncodeExecFrame(messageID uint64, exec Exec) ([]byte, error) {
	if err := exec.Validate(); err != nil {
		return nil, err
	}
	fields := []tlv.Field{tlv.String(schema.FieldCommand, exec.Command)}
	return encode(messageID, schema.MsgExec, 0, nil, fields)
}

func DecodeExecFrame(f frame.Frame) (Exec, error) {
	fields, err := decode(f, schema.MsgExec)
	if err != nil {
		return Exec{}, err
	}
	exec := Exec{Command: getString(fields, schema.FieldCommand)}
	if err := exec.Validate(); err != nil {
		return Exec{}, err
	}
	return exec, nil
}

func EncodeResultFrame(messageID uint64, result Result) ([]byte, error) {
	fields := []tlv.Field{
		tlv.Bytes(schema.FieldStdout, result.Stdout),
		tlv.I32(schema.FieldExitCode, result.ExitCode),
		tlv.Bool(schema.FieldSuccess, result.Success),
	}
	if len(result.Stderr) > 0 {
		fields = append(fields, tlv.Bytes(schema.FieldStderr, result.Stderr))
	}
	return encode(messageID, schema.MsgResult, frame.FlagIsResponse, nil, fields)
}

// EncodeResultFrames encodes result as zero or more output frames followed
// by one result frame, all answering messageID. No frame carries more than
// chunk bytes of stdout or of stderr.
func EncodeResultFrames(messageID uint64, result Result, chunk int) ([][]byte, error) {
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	stdout, stderr := result.Stdout, result.Stderr
	var frames [][]byte
	for len(stdout) > chunk || len(stderr) > chunk {
		var out Output
		out.Stdout, stdout = cut(stdout, chunk)
		out.Stderr, stderr = cut(stderr, chunk)
		raw, err := EncodeOutputFrame(messageID, out)
		if err != nil {
			return nil, err
		}
		frames = append(frames, raw)
	}
	result.Stdout, result.Stderr = stdout, stderr
	raw, err := EncodeResultFrame(messageID, result)
	if err != nil {
		return nil, err
	}
	return append(frames, raw), nil
}

func cut(b []byte, n int) ([]byte, []byte) {
	if len(b) <= n {
		return b, nil
	}
	return b[:n], b[n:]
}

func EncodeOutputFrame(messageID uint64, out Output) ([]byte, error) {
	var fields []tlv.Field
	if len(out.Stdout) > 0 {
		fields = append(fields, tlv.Bytes(schema.FieldStdout, out.Stdout))
	}
	if len(out.Stderr) > 0 {
		fields = append(fields, tlv.Bytes(schema.FieldStderr, out.Stderr))
	}
	return encode(messageID, schema.MsgOutput, frame.FlagIsResponse, nil, fields)
}

func DecodeOutputFrame(f frame.Frame) (Output, error) {
	fields, err := decode(f, schema.MsgOutput)
	if err != nil {
		return Output{}, err
	}
	var out Output
	if out.Stdout, err = getBytes(fields, schema.FieldStdout); err != nil {
		return Output{}, err
	}
	if out.Stderr, err = getBytes(fields, schema.FieldStderr); err != nil {
		return Output{}, err
	}
	return out, nil
}

func DecodeResultFrame(f frame.Frame) (Result, error) {
	fields, err := decode(f, schema.MsgResult)
	if err != nil {
		return Result{}, err
	}
	code, err := getI32(fields, schema.FieldExitCode)
	if err != nil {
		return Result{}, err
	}
	success, err := getBool(fields, schema.FieldSuccess)
	if err != nil {
		return Result{}, err
	}
	out := Result{ExitCode: code, Success: success}
	if out.Stdout, err = getBytes(fields, schema.FieldStdout); err != nil {
		return Result{}, err
	}
	if out.Stderr, err = getBytes(fields, schema.FieldStderr); err != nil {
		return Result{}, err
	}
	return out, nil
}

func EncodeErrorFrame(messageID uint64, e Error) ([]byte, error) {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "unspecified error"
	}
	fields := []tlv.Field{tlv.String(schema.FieldMessage, msg)}
	return encode(messageID, schema.MsgError, frame.FlagIsResponse|frame.FlagIsError, nil, fields)
}

func DecodeErrorFrame(f frame.Frame) (Error, error) {
	fields, err := decode(f, schema.MsgError)
	if err != nil {
		return Error{}, err
	}
	return Error{Message: getString(fields, schema.FieldMessage)}, nil
}

// ExpectResponse checks that f answers request id with the wanted message
// type. An error frame is surfaced as ErrRemoteError carrying its message.
func ExpectResponse(f frame.Frame, id uint64, want uint32) error {
	if !f.IsResponse() {
		return ErrMissingResponseBit
	}
	if f.Header.MessageID != id {
		return fmt.Errorf("%w: got %d want %d", ErrMessageIDMismatch, f.Header.MessageID, id)
	}
	if f.Header.MessageType == schema.MsgError {
		e, err := DecodeErrorFrame(f)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrRemoteError, e.Message)
	}
	if f.Header.MessageType != want {
		return fmt.Errorf(
			"%w: got %s want %s",
			ErrUnexpectedMessage,
			schema.MessageName(f.Header.MessageType),
			schema.MessageName(want),
		)
	}
	return nil
}

func encode(messageID uint64, messageType uint32, flags uint32, auth []byte, fields []tlv.Field) ([]byte, error) {
	if err := schema.Validate(messageType, fields); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	err := frame.WriteFrame(&buf, frame.Frame{
		Header: frame.Header{
			MessageID:   messageID,
			MessageType: messageType,
			Flags:       flags,
		},
		Auth:    auth,
		Payload: tlv.EncodeFields(fields),
	}, frame.DefaultLimits())
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(f frame.Frame, want uint32) ([]tlv.Field, error) {
	if f.Header.MessageType != want {
		return nil, fmt.Errorf(
			"%w: got %s want %s",
			ErrUnexpectedMessage,
			schema.MessageName(f.Header.MessageType),
			schema.MessageName(want),
		)
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(want, fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func getString(fields []tlv.Field, id uint16) string {
	f, ok := tlv.GetField(fields, id)
	if !ok {
		return ""
	}
	return string(f.Value)
}

// getBytes returns an optional bytes field; a field of another type is an
// error.
func getBytes(fields []tlv.Field, id uint16) ([]byte, error) {
	f, ok := tlv.GetField(fields, id)
	if !ok {
		return nil, nil
	}
	if err := tlv.MustType(f, tlv.TypeBytes); err != nil {
		return nil, err
	}
	return f.Value, nil
}

func getBool(fields []tlv.Field, id uint16) (bool, error) {
	f, _ := tlv.GetField(fields, id)
	if err := tlv.MustType(f, tlv.TypeBool); err != nil {
		return false, err
	}
	return tlv.BoolFromBytes(f.Value)
}

func getI32(fields []tlv.Field, id uint16) (int32, error) {
	f, _ := tlv.GetField(fields, id)
	if err := tlv.MustType(f, tlv.TypeI32); err != nil {
		return 0, err
	}
	return tlv.I32FromBytes(f.Value)
}
