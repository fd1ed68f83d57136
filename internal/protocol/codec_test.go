package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	payload := []byte("This is some chunk data for testing purposes.")
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	if buf.Len() != FrameHeaderSize+len(payload) {
		t.Fatalf("Expected %d bytes on the wire, got %d", FrameHeaderSize+len(payload), buf.Len())
	}

	decoded, err := ReadFrame(&buf, DefaultMaxFrameSize)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}

	if !bytes.Equal(decoded, payload) {
		t.Errorf("Frame payload mismatch")
	}
}

func TestFrameHeaderIsBigEndian(t *testing.T) {
	var buf bytes.Buffer

	if err := WriteFrame(&buf, make([]byte, 258)); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	header := buf.Bytes()[:FrameHeaderSize]
	if !bytes.Equal(header, []byte{0, 0, 1, 2}) {
		t.Errorf("Expected header 00 00 01 02, got % x", header)
	}
}

func TestFrameEmpty(t *testing.T) {
	var buf bytes.Buffer

	if err := WriteFrame(&buf, nil); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	decoded, err := ReadFrame(&buf, DefaultMaxFrameSize)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}

	if len(decoded) != 0 {
		t.Errorf("Expected empty payload, got %d bytes", len(decoded))
	}
}

func TestFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer

	if err := WriteFrame(&buf, make([]byte, 1024)); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	_, err := ReadFrame(&buf, 512)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Expected ErrFrameTooLarge, got %v", err)
	}
}

func TestFrameTruncated(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 10, 1, 2, 3})

	if _, err := ReadFrame(buf, DefaultMaxFrameSize); err == nil {
		t.Error("Expected error for truncated frame")
	}
}

func TestIntCodecs(t *testing.T) {
	for _, v := range []int32{0, 1, -1, 42, 1 << 30, -(1 << 31)} {
		got, err := DecodeInt(EncodeInt(v))
		if err != nil {
			t.Fatalf("DecodeInt(%d) failed: %v", v, err)
		}
		if got != v {
			t.Errorf("DecodeInt(EncodeInt(%d)) = %d", v, got)
		}
	}

	for _, v := range []int64{0, -1, 1 << 40, -(1 << 62)} {
		got, err := DecodeLong(EncodeLong(v))
		if err != nil {
			t.Fatalf("DecodeLong(%d) failed: %v", v, err)
		}
		if got != v {
			t.Errorf("DecodeLong(EncodeLong(%d)) = %d", v, got)
		}
	}
}

func TestIntCodecsRejectBadLength(t *testing.T) {
	if _, err := DecodeInt([]byte{1, 2, 3}); KindOf(err) != KindProtocol {
		t.Errorf("Expected protocol error, got %v", err)
	}

	if _, err := DecodeLong([]byte{1, 2, 3, 4}); KindOf(err) != KindProtocol {
		t.Errorf("Expected protocol error, got %v", err)
	}

	if _, err := DecodeIntArray([]byte{1, 2, 3, 4, 5}); KindOf(err) != KindProtocol {
		t.Errorf("Expected protocol error, got %v", err)
	}
}

func TestIntArrayCodec(t *testing.T) {
	values := []int32{5001, 5002, -7, 0}

	decoded, err := DecodeIntArray(EncodeIntArray(values))
	if err != nil {
		t.Fatalf("DecodeIntArray failed: %v", err)
	}

	if len(decoded) != len(values) {
		t.Fatalf("Expected %d values, got %d", len(values), len(decoded))
	}

	for i := range values {
		if decoded[i] != values[i] {
			t.Errorf("value %d: expected %d, got %d", i, values[i], decoded[i])
		}
	}
}

func TestErrorKindString(t *testing.T) {
	tests := []struct {
		kind     ErrorKind
		expected string
	}{
		{KindConnection, "CONNECTION_FAILURE"},
		{KindHandshake, "HANDSHAKE_MISMATCH"},
		{KindIntegrity, "INTEGRITY_FAILURE"},
		{KindExhausted, "RESOLUTION_EXHAUSTED"},
		{KindClosed, "CLOSED"},
		{KindUnknown, "UNKNOWN"},
		{ErrorKind(0xFFFE), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.expected {
			t.Errorf("%v.String() = %s, want %s", tt.kind, got, tt.expected)
		}
	}
}

func TestErrorMatching(t *testing.T) {
	err := NewError(KindIntegrity, "pipe", errors.New("hash mismatch"))

	if !errors.Is(err, ErrIntegrity) {
		t.Error("Expected integrity error to match ErrIntegrity")
	}

	if errors.Is(err, ErrConnection) {
		t.Error("Integrity error must not match ErrConnection")
	}

	if !errors.Is(ErrTooManyHops, ErrExhausted) {
		t.Error("Expected ErrTooManyHops to be an exhaustion error")
	}

	if errors.Is(NewError(KindProtocol, "frame", nil), ErrFrameTooLarge) {
		t.Error("Generic protocol error must not match ErrFrameTooLarge")
	}

	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("Expected KindUnknown for a plain error")
	}
}
