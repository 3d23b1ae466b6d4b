package mllp

import (
	"github.com/co-capacity/HeliosMLLP/internal/bytebuf"
	"github.com/co-capacity/HeliosMLLP/internal/protocol"
)

// Encoder surrounds outgoing payloads with the MLLP sentinels.
type Encoder struct {
	cfg Config
}

// NewEncoder returns an encoder for cfg. MinPayloadLen is ignored.
func NewEncoder(cfg Config) *Encoder {
	return &Encoder{cfg: cfg}
}

func DefaultEncoder() *Encoder {
	return NewEncoder(DefaultConfig())
}

// Encode reads payload fully and returns exactly one wrapped frame.
func (e *Encoder) Encode(conn protocol.Conn, payload *bytebuf.Buffer) []*bytebuf.Buffer {
	n := payload.ReadableBytes()
	out := allocator(conn).Buffer(n + Overhead)
	out.WriteByte(e.cfg.Start)
	out.Write(payload.Bytes())
	out.WriteByte(e.cfg.FirstEnd)
	out.WriteByte(e.cfg.LastEnd)
	payload.SkipBytes(n)
	return []*bytebuf.Buffer{out}
}

func (e *Encoder) Clone() protocol.FrameEncoder {
	return NewEncoder(e.cfg)
}

func (e *Encoder) Config() Config { return e.cfg }
