package messages

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single wire frame. Frames announcing a larger
// payload are rejected before any of the payload is read.
const MaxFrameSize = 1 * 1024 * 1024

// ErrFrameTooLarge is returned when a frame header announces a payload
// exceeding MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// WriteFrame writes msg as one length-prefixed frame: a 4-byte big-endian
// payload length followed by the JSON payload. Header and payload go out
// in a single Write so a frame is never interleaved with another writer's.
func WriteFrame(w io.Writer, msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	if len(data) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(data)))
	copy(buf[4:], data)
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads exactly one frame payload from r. It blocks until the
// whole frame has arrived, so message boundaries survive any TCP
// segmentation. Decoding is left to the caller: a transport error here is
// fatal for the connection, a decode failure of the returned payload is not.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
