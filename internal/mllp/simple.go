package mllp

import (
	"github.com/co-capacity/HeliosMLLP/internal/bytebuf"
	"github.com/co-capacity/HeliosMLLP/internal/protocol"
)

// SimpleDecoder treats the whole readable buffer as one frame once its last
// two bytes are the end sentinels. It never looks for end sentinels inside
// the buffer, so it is the fastest choice for large messages when the peer
// sends one message per exchange.
//
// Two frames arriving in one read come out as a single frame whose payload
// runs from after the first start byte to before the last end pair, interior
// sentinels included. Use MultiDecoder when the peer may pipeline.
type SimpleDecoder struct {
	cfg Config
}

func NewSimpleDecoder(cfg Config) (*SimpleDecoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SimpleDecoder{cfg: cfg}, nil
}

func DefaultSimpleDecoder() *SimpleDecoder {
	return &SimpleDecoder{cfg: DefaultConfig()}
}

// Decode returns zero or one frame.
func (d *SimpleDecoder) Decode(conn protocol.Conn, in *bytebuf.Buffer) ([]*bytebuf.Buffer, error) {
	frame, err := d.decodeFrame(conn, in)
	if err != nil || frame == nil {
		return nil, err
	}
	return []*bytebuf.Buffer{frame}, nil
}

func (d *SimpleDecoder) decodeFrame(conn protocol.Conn, in *bytebuf.Buffer) (*bytebuf.Buffer, error) {
	readable := in.ReadableBytes()
	if readable < d.cfg.minFrameLen() {
		return nil, nil
	}

	in.MarkReaderIndex()
	start := in.ReaderIndex()
	if b, _ := in.GetByte(start); b != d.cfg.Start {
		return nil, d.cfg.corrupted(in, start, b)
	}

	last := in.WriterIndex() - 1
	lastEnd, _ := in.GetByte(last)
	firstEnd, _ := in.GetByte(last - 1)
	if lastEnd != d.cfg.LastEnd || firstEnd != d.cfg.FirstEnd {
		// not a complete frame
		return nil, in.ResetReaderIndex()
	}

	frame, err := ExtractFrame(conn, in, start+1, readable-Overhead)
	if err != nil {
		in.ResetReaderIndex()
		return nil, err
	}
	if err := in.SetReaderIndex(in.WriterIndex()); err != nil {
		return nil, err
	}
	in.ClearMark()
	return frame, nil
}

func (d *SimpleDecoder) Clone() protocol.FrameDecoder {
	return &SimpleDecoder{cfg: d.cfg}
}

func (d *SimpleDecoder) Config() Config { return d.cfg }
