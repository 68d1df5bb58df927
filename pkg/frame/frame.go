// Package frame implements the length-prefixed wire format.
//
// Every frame is a 4-byte big-endian unsigned body length followed by
// exactly that many body bytes. There is no other header, checksum or
// trailer.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
)

const (
	// HeaderSize is the length of the length prefix.
	HeaderSize = 4

	// DefaultMaxBodyLength is the largest body accepted by default (10 MiB).
	DefaultMaxBodyLength = 10 * 1024 * 1024
)

var (
	// ErrFrameTooLarge matches any *SizeError.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrBodyTooLong is returned when a body cannot be described by a
	// 32-bit length.
	ErrBodyTooLong = errors.New("frame body exceeds 32-bit length")
)

// SizeError reports a declared body length above the allowed maximum.
type SizeError struct {
	Length uint32
	Max    uint32
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("frame body length %d exceeds maximum %d", e.Length, e.Max)
}

func (e *SizeError) Is(target error) bool {
	return target == ErrFrameTooLarge
}

// PutHeader writes the length prefix for a body of n bytes into hdr.
func PutHeader(hdr []byte, n uint32) {
	binary.BigEndian.PutUint32(hdr[:HeaderSize], n)
}

// ParseHeader decodes a length prefix and checks it against limit.
func ParseHeader(hdr []byte, limit uint32) (uint32, error) {
	n := binary.BigEndian.Uint32(hdr[:HeaderSize])
	if n > limit {
		return n, &SizeError{Length: n, Max: limit}
	}
	return n, nil
}

// Encode returns header and body as one contiguous frame. The body is copied.
func Encode(body []byte) ([]byte, error) {
	if uint64(len(body)) > math.MaxUint32 {
		return nil, ErrBodyTooLong
	}
	buf := make([]byte, HeaderSize+len(body))
	PutHeader(buf, uint32(len(body)))
	copy(buf[HeaderSize:], body)
	return buf, nil
}

// WriteFrame writes one frame to w without copying the body.
func WriteFrame(w io.Writer, body []byte) error {
	if uint64(len(body)) > math.MaxUint32 {
		return ErrBodyTooLong
	}
	var hdr [HeaderSize]byte
	PutHeader(hdr[:], uint32(len(body)))

	bufs := net.Buffers{hdr[:], body}
	_, err := bufs.WriteTo(w)
	return err
}

// ReadFrame reads one frame from r. A header declaring more than limit bytes
// yields a *SizeError and the body is left unread.
func ReadFrame(r io.Reader, limit uint32) ([]byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	n, err := ParseHeader(hdr[:], limit)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []byte{}, nil
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
