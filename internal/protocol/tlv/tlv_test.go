package tlv

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeFieldsPreservesUnknown(t *testing.T) {
	in := []Field{
		String(1, "sleep 1; echo 1"),
		{ID: 9999, Type: TypeBytes, Value: []byte{0xAA, 0xBB}},
	}
	out, err := DecodeFields(EncodeFields(in))
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(out))
	}
	if string(out[0].Value) != "sleep 1; echo 1" {
		t.Fatalf("string field mangled: %q", out[0].Value)
	}
	if out[1].ID != 9999 || out[1].Type != TypeBytes || !bytes.Equal(out[1].Value, []byte{0xAA, 0xBB}) {
		t.Fatalf("unknown field not preserved: %+v", out[1])
	}
}

func TestScalarHelpers(t *testing.T) {
	code, err := I32FromBytes(I32(1, -127).Value)
	if err != nil || code != -127 {
		t.Fatalf("i32 helper: got %d err=%v", code, err)
	}
	ok, err := BoolFromBytes(Bool(2, true).Value)
	if err != nil || !ok {
		t.Fatalf("bool helper: got %v err=%v", ok, err)
	}
	if _, err := BoolFromBytes([]byte{1, 0}); err == nil {
		t.Fatalf("expected bool length error")
	}
}

func TestMustType(t *testing.T) {
	if err := MustType(String(1, "x"), TypeString); err != nil {
		t.Fatalf("unexpected type error: %v", err)
	}
	if err := MustType(String(1, "x"), TypeBytes); err == nil {
		t.Fatalf("expected type mismatch")
	}
}

func TestDecodeFieldsMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := DecodeFields([]byte{1, 2, 3})
	if !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
}

func TestDecodeFieldsMalformedLengthIsDeterministic(t *testing.T) {
	// id=1, type=string, len=5, value only 2 bytes
	payload := []byte{0, 1, TypeString, 0, 0, 0, 5, 'a', 'b'}
	_, err := DecodeFields(payload)
	if !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}
