package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	Magic      = 0x504C // "PL"
	Version    = 0x0001
	MaxPayload = 64 << 10
	HeaderSize = 8 // 2 (magic) + 2 (version) + 4 (length)
)

// WriteFrame writes one link message: [2B magic][2B version][4B length][payload].
// The frame goes out in a single Write so it maps onto a single Noise message.
// A zero-length payload is a keepalive.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(payload), MaxPayload)
	}

	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	binary.BigEndian.PutUint16(buf[2:4], Version)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)

	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one link message, validating magic, version and length.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("reading frame header: %w", err)
	}

	if magic := binary.BigEndian.Uint16(hdr[0:2]); magic != Magic {
		return nil, fmt.Errorf("%w: invalid magic 0x%04X", ErrProtocol, magic)
	}
	if version := binary.BigEndian.Uint16(hdr[2:4]); version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrProtocol, version)
	}

	length := binary.BigEndian.Uint32(hdr[4:8])
	if length > MaxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, MaxPayload)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	return payload, nil
}
