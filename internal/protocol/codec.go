package protocol

import (
	"encoding/binary"
	"io"
)

// WriteFrame writes payload behind a 4-byte big-endian length prefix.
func WriteFrame(w io.Writer, payload []byte) error {
	header := make([]byte, FrameHeaderSize)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed frame. Frames longer than max are
// rejected before any payload allocation.
func ReadFrame(r io.Reader, max int) ([]byte, error) {
	header := make([]byte, FrameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header)
	if max > 0 && uint64(length) > uint64(max) {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func EncodeInt(v int32) []byte {
	b := make([]byte, IntSize)
	binary.BigEndian.PutUint32(b, uint32(v))
	return b
}

func DecodeInt(b []byte) (int32, error) {
	if len(b) != IntSize {
		return 0, Errorf(KindProtocol, "decode int", "expected %d bytes, got %d", IntSize, len(b))
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func EncodeLong(v int64) []byte {
	b := make([]byte, LongSize)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func DecodeLong(b []byte) (int64, error) {
	if len(b) != LongSize {
		return 0, Errorf(KindProtocol, "decode long", "expected %d bytes, got %d", LongSize, len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func EncodeIntArray(values []int32) []byte {
	b := make([]byte, len(values)*IntSize)
	for i, v := range values {
		binary.BigEndian.PutUint32(b[i*IntSize:], uint32(v))
	}
	return b
}

func DecodeIntArray(b []byte) ([]int32, error) {
	if len(b)%IntSize != 0 {
		return nil, Errorf(KindProtocol, "decode int array", "%d bytes is not a multiple of %d", len(b), IntSize)
	}
	values := make([]int32, len(b)/IntSize)
	for i := range values {
		values[i] = int32(binary.BigEndian.Uint32(b[i*IntSize:]))
	}
	return values, nil
}
