package mllp

import (
	"fmt"
	"sort"

	"github.com/co-capacity/HeliosMLLP/internal/bytebuf"
	"github.com/co-capacity/HeliosMLLP/internal/protocol"
)

// Decoder strategies
const (
	StrategySimple    = "simple"
	StrategyMulti     = "multi"
	StrategyResumable = "resumable"
)

var strategies = map[string]func(Config) (protocol.FrameDecoder, error){
	StrategySimple: func(cfg Config) (protocol.FrameDecoder, error) {
		return NewSimpleDecoder(cfg)
	},
	StrategyMulti: func(cfg Config) (protocol.FrameDecoder, error) {
		return NewMultiDecoder(cfg)
	},
	StrategyResumable: func(cfg Config) (protocol.FrameDecoder, error) {
		return NewResumableDecoder(cfg)
	},
}

// NewDecoder builds a decoder prototype by strategy name.
func NewDecoder(strategy string, cfg Config) (protocol.FrameDecoder, error) {
	build, ok := strategies[strategy]
	if !ok {
		return nil, fmt.Errorf("%w: unknown decoder strategy %q", ErrInvalidConfiguration, strategy)
	}
	return build(cfg)
}

// Strategies lists the names NewDecoder accepts.
func Strategies() []string {
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// stepFunc extracts at most one frame. A nil frame with a nil error means
// the next frame is not complete yet.
type stepFunc func(conn protocol.Conn, in *bytebuf.Buffer) (*bytebuf.Buffer, error)

// decodeAll runs step until it stops producing frames. Frames extracted
// before a failure are returned with the error.
func decodeAll(conn protocol.Conn, in *bytebuf.Buffer, step stepFunc) ([]*bytebuf.Buffer, error) {
	var frames []*bytebuf.Buffer
	for {
		frame, err := step(conn, in)
		if err != nil {
			return frames, err
		}
		if frame == nil {
			return frames, nil
		}
		frames = append(frames, frame)
	}
}

// scanEnd consumes bytes from the reader index looking for the end pair.
// i is the payload offset of the first byte consumed, remaining bounds the
// scan. On a match the payload [payloadStart, payloadStart+i) is extracted
// and the reader index is left just after the pair. Without a match the
// reader index is left at payloadStart+remaining.
func (c Config) scanEnd(conn protocol.Conn, in *bytebuf.Buffer, payloadStart, i, remaining int) (*bytebuf.Buffer, error) {
	for ; i < remaining; i++ {
		b, err := in.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != c.FirstEnd {
			continue
		}
		if next, ok := in.GetByte(in.ReaderIndex()); !ok || next != c.LastEnd {
			continue
		}
		frame, err := ExtractFrame(conn, in, payloadStart, i)
		if err != nil {
			return nil, err
		}
		if err := in.SkipBytes(1); err != nil {
			return nil, err
		}
		in.ClearMark()
		return frame, nil
	}
	return nil, nil
}
