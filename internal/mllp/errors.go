package mllp

import (
	"errors"
	"fmt"

	"github.com/co-capacity/HeliosMLLP/internal/bytebuf"
)

var (
	ErrInvalidConfiguration = errors.New("mllp: invalid configuration")
	ErrCorruptedFrame       = errors.New("mllp: corrupted frame")
)

// CorruptedFrameError reports a frame that does not begin with the start
// sentinel. The stream cannot be resynchronised after it; callers usually
// close the connection.
type CorruptedFrameError struct {
	Expected byte
	Got      byte
	Offset   int64 // position in the connection's stream
}

func (e *CorruptedFrameError) Error() string {
	return fmt.Sprintf("mllp: corrupted frame: message doesn't start with 0x%02X (got 0x%02X at stream offset %d)",
		e.Expected, e.Got, e.Offset)
}

func (e *CorruptedFrameError) Unwrap() error { return ErrCorruptedFrame }

func (c Config) corrupted(in *bytebuf.Buffer, index int, got byte) error {
	return &CorruptedFrameError{
		Expected: c.Start,
		Got:      got,
		Offset:   in.StreamOffset(index),
	}
}
