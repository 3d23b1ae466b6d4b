package mllp

import (
	"github.com/co-capacity/HeliosMLLP/internal/bytebuf"
	"github.com/co-capacity/HeliosMLLP/internal/protocol"
)

// ScanState is how far the end-sentinel search progressed on an incomplete
// frame. The offset is counted from the first payload byte of the frame
// whose start sentinel sits at stream position FrameStart.
type ScanState struct {
	PendingOffset int
	FrameStart    int64
}

// resume returns the offset to continue from for the frame starting at
// frameStart, or 0 when the state belongs to another frame.
func (s *ScanState) resume(frameStart int64, remaining int) int {
	if s.FrameStart != frameStart || s.PendingOffset >= remaining {
		s.reset()
		return 0
	}
	return s.PendingOffset
}

func (s *ScanState) record(frameStart int64, offset int) {
	s.FrameStart = frameStart
	s.PendingOffset = offset
}

func (s *ScanState) reset() {
	*s = ScanState{}
}

// ResumableDecoder has the MultiDecoder contract but keeps the scan progress
// of an incomplete frame between calls, so each byte of a frame is examined
// about once no matter how many reads deliver it.
//
// Bytes below MinPayloadLen are never examined for the end pair. Peers must
// not send payloads shorter than that.
//
// The state is tied to the stream position of the frame's start sentinel,
// not to a buffer index, so compacting the buffer between calls keeps the
// progress while any other movement of the reader index discards it.
type ResumableDecoder struct {
	cfg   Config
	state ScanState
}

func NewResumableDecoder(cfg Config) (*ResumableDecoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ResumableDecoder{cfg: cfg}, nil
}

func DefaultResumableDecoder() *ResumableDecoder {
	return &ResumableDecoder{cfg: DefaultConfig()}
}

func (d *ResumableDecoder) Decode(conn protocol.Conn, in *bytebuf.Buffer) ([]*bytebuf.Buffer, error) {
	return decodeAll(conn, in, d.decodeFrame)
}

func (d *ResumableDecoder) decodeFrame(conn protocol.Conn, in *bytebuf.Buffer) (*bytebuf.Buffer, error) {
	if in.ReadableBytes() < d.cfg.minFrameLen() {
		return nil, nil
	}

	start := in.ReaderIndex()
	if b, _ := in.GetByte(start); b != d.cfg.Start {
		return nil, d.cfg.corrupted(in, start, b)
	}
	in.MarkReaderIndex()
	in.ReadByte()

	payloadStart := in.ReaderIndex()
	remaining := in.ReadableBytes()
	frameStart := in.StreamOffset(start)

	skip := d.state.resume(frameStart, remaining)
	if skip < d.cfg.MinPayloadLen {
		skip = d.cfg.MinPayloadLen
	}
	if err := in.SkipBytes(skip); err != nil {
		in.ResetReaderIndex()
		return nil, err
	}

	frame, err := d.cfg.scanEnd(conn, in, payloadStart, skip, remaining)
	if err != nil {
		in.ResetReaderIndex()
		return nil, err
	}
	if frame != nil {
		d.state.reset()
		return frame, nil
	}

	// the last byte is scanned again: it may be a first end sentinel whose
	// partner has not arrived yet
	d.state.record(frameStart, in.ReaderIndex()-payloadStart-1)
	in.ResetReaderIndex()
	return nil, nil
}

// State returns a copy of the current scan progress.
func (d *ResumableDecoder) State() ScanState { return d.state }

// Clone copies the configuration and starts with an empty scan state.
func (d *ResumableDecoder) Clone() protocol.FrameDecoder {
	return &ResumableDecoder{cfg: d.cfg}
}

func (d *ResumableDecoder) Config() Config { return d.cfg }
