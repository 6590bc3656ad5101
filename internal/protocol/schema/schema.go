package schema

import (
	"fmt"

	"github.com/danmuck/pars/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Message type IDs.
const (
	MsgHello    uint32 = 1
	MsgHelloAck uint32 = 2
	MsgExec     uint32 = 3
	MsgResult   uint32 = 4
	MsgError    uint32 = 5
	MsgOutput   uint32 = 6
)

// Field IDs.
const (
	FieldClientID uint16 = 1
	FieldWorkerID uint16 = 2
	FieldAccepted uint16 = 3

	FieldCommand uint16 = 100

	FieldStdout   uint16 = 200
	FieldStderr   uint16 = 201
	FieldExitCode uint16 = 202
	FieldSuccess  uint16 = 203

	FieldMessage uint16 = 300
)

func MessageName(messageType uint32) string {
	switch messageType {
	case MsgHello:
		return "hello"
	case MsgHelloAck:
		return "hello.ack"
	case MsgExec:
		return "exec"
	case MsgResult:
		return "result"
	case MsgError:
		return "error"
	case MsgOutput:
		return "output"
	default:
		return fmt.Sprintf("unknown(%d)", messageType)
	}
}

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgHello: {
		{FieldClientID, tlv.TypeString},
	},
	MsgHelloAck: {
		{FieldWorkerID, tlv.TypeString},
		{FieldAccepted, tlv.TypeBool},
	},
	MsgExec: {
		{FieldCommand, tlv.TypeString},
	},
	MsgResult: {
		{FieldStdout, tlv.TypeBytes},
		{FieldExitCode, tlv.TypeI32},
		{FieldSuccess, tlv.TypeBool},
	},
	MsgError: {
		{FieldMessage, tlv.TypeString},
	},
	// Output chunks carry optional stdout and stderr fields only.
	MsgOutput: {},
}

// Validate enforces required fields and their types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		log.Error().Uint32("message_type", messageType).Msg("schema: unknown message type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Error().
				Str("message", MessageName(messageType)).
				Uint16("field_id", req.ID).
				Msg("schema: missing required field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Error().
				Str("message", MessageName(messageType)).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema: type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	log.Trace().Str("message", MessageName(messageType)).Int("fields", len(fields)).Msg("schema: ok")
	return nil
}
