package mllp

import (
	"github.com/co-capacity/HeliosMLLP/internal/bytebuf"
	"github.com/co-capacity/HeliosMLLP/internal/protocol"
)

// MultiDecoder extracts every complete frame in the buffer. An incomplete
// trailing frame is rescanned from its start on the next call, which costs
// O(k*s) for a frame delivered in k reads of size s. Prefer
// ResumableDecoder for large messages on slow links.
type MultiDecoder struct {
	cfg Config
}

func NewMultiDecoder(cfg Config) (*MultiDecoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &MultiDecoder{cfg: cfg}, nil
}

func DefaultMultiDecoder() *MultiDecoder {
	return &MultiDecoder{cfg: DefaultConfig()}
}

func (d *MultiDecoder) Decode(conn protocol.Conn, in *bytebuf.Buffer) ([]*bytebuf.Buffer, error) {
	return decodeAll(conn, in, d.decodeFrame)
}

func (d *MultiDecoder) decodeFrame(conn protocol.Conn, in *bytebuf.Buffer) (*bytebuf.Buffer, error) {
	if in.ReadableBytes() < d.cfg.minFrameLen() {
		return nil, nil
	}

	in.MarkReaderIndex()
	start := in.ReaderIndex()
	if b, _ := in.ReadByte(); b != d.cfg.Start {
		in.ResetReaderIndex()
		return nil, d.cfg.corrupted(in, start, b)
	}

	payloadStart := in.ReaderIndex()
	remaining := in.ReadableBytes()
	frame, err := d.cfg.scanEnd(conn, in, payloadStart, 0, remaining)
	if err != nil || frame == nil {
		// the frame could get compacted away, leave it whole
		in.ResetReaderIndex()
		return nil, err
	}
	return frame, nil
}

func (d *MultiDecoder) Clone() protocol.FrameDecoder {
	return &MultiDecoder{cfg: d.cfg}
}

func (d *MultiDecoder) Config() Config { return d.cfg }
