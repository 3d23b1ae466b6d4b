// Package bytebuf provides the growable byte buffer that sits between a
// stream transport and a frame decoder.
//
// A Buffer keeps two cursors over one contiguous region:
//
//	+-------------------+------------------+------------------+
//	| discardable bytes |  readable bytes  |  writable bytes  |
//	+-------------------+------------------+------------------+
//	0        <=     readerIndex   <=   writerIndex   <=   cap
//
// The transport appends at the writer index, the decoder consumes from the
// reader index. Mark/Reset let a decoder back out of an incomplete frame, and
// DiscardReadBytes compacts the region once consumed bytes are no longer
// needed.
package bytebuf

import (
	"errors"
	"fmt"
	"io"
)

var (
	ErrOutOfRange = errors.New("bytebuf: index out of range")
	ErrNoMark     = errors.New("bytebuf: reset without mark")
)

// Buffer is not safe for concurrent use. One Buffer belongs to one connection.
type Buffer struct {
	buf         []byte
	readerIndex int
	writerIndex int
	markedIndex int
	marked      bool
	discarded   int64
	compactions uint64
}

// New returns an empty buffer with room for size bytes.
func New(size int) *Buffer {
	if size < 0 {
		size = 0
	}
	return &Buffer{buf: make([]byte, size)}
}

// Wrap returns a buffer whose readable region is a copy of data.
func Wrap(data []byte) *Buffer {
	b := New(len(data))
	b.Write(data)
	return b
}

func (b *Buffer) ReaderIndex() int { return b.readerIndex }
func (b *Buffer) WriterIndex() int { return b.writerIndex }
func (b *Buffer) Capacity() int    { return len(b.buf) }

// ReadableBytes is the number of bytes between the reader and writer index.
func (b *Buffer) ReadableBytes() int { return b.writerIndex - b.readerIndex }

// SetReaderIndex moves the reader cursor to an absolute position.
func (b *Buffer) SetReaderIndex(i int) error {
	if i < 0 || i > b.writerIndex {
		return fmt.Errorf("%w: reader index %d (writer index %d)", ErrOutOfRange, i, b.writerIndex)
	}
	b.readerIndex = i
	return nil
}

// MarkReaderIndex remembers the current reader index for ResetReaderIndex.
func (b *Buffer) MarkReaderIndex() {
	b.markedIndex = b.readerIndex
	b.marked = true
}

// ResetReaderIndex moves the reader index back to the last mark.
func (b *Buffer) ResetReaderIndex() error {
	if !b.marked {
		return ErrNoMark
	}
	b.readerIndex = b.markedIndex
	return nil
}

// ClearMark drops the mark once a frame has been fully consumed.
func (b *Buffer) ClearMark() {
	b.marked = false
	b.markedIndex = 0
}

// GetByte peeks the byte at absolute index i without moving any cursor.
// Only readable positions are valid.
func (b *Buffer) GetByte(i int) (byte, bool) {
	if i < b.readerIndex || i >= b.writerIndex {
		return 0, false
	}
	return b.buf[i], true
}

// ReadByte consumes one byte.
func (b *Buffer) ReadByte() (byte, error) {
	if b.readerIndex >= b.writerIndex {
		return 0, io.EOF
	}
	c := b.buf[b.readerIndex]
	b.readerIndex++
	return c, nil
}

// SkipBytes advances the reader index by n unread bytes.
func (b *Buffer) SkipBytes(n int) error {
	if n < 0 || n > b.ReadableBytes() {
		return fmt.Errorf("%w: skip %d of %d readable", ErrOutOfRange, n, b.ReadableBytes())
	}
	b.readerIndex += n
	return nil
}

// Bytes returns the readable region. The slice aliases the buffer and is
// only valid until the next mutation.
func (b *Buffer) Bytes() []byte { return b.buf[b.readerIndex:b.writerIndex] }

// Slice returns length bytes starting at absolute index. It aliases the
// buffer like Bytes.
func (b *Buffer) Slice(index, length int) ([]byte, error) {
	if index < 0 || length < 0 || index+length > b.writerIndex {
		return nil, fmt.Errorf("%w: slice [%d:%d] (writer index %d)", ErrOutOfRange, index, index+length, b.writerIndex)
	}
	return b.buf[index : index+length], nil
}

// Write appends p at the writer index, growing the buffer when needed.
// It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.ensureWritable(len(p))
	n := copy(b.buf[b.writerIndex:], p)
	b.writerIndex += n
	return n, nil
}

// WriteByte appends a single byte.
func (b *Buffer) WriteByte(c byte) error {
	b.ensureWritable(1)
	b.buf[b.writerIndex] = c
	b.writerIndex++
	return nil
}

// WriteBytesFrom copies length bytes at absolute index of src into b.
// Neither buffer's reader index moves.
func (b *Buffer) WriteBytesFrom(src *Buffer, index, length int) error {
	p, err := src.Slice(index, length)
	if err != nil {
		return err
	}
	_, err = b.Write(p)
	return err
}

// ReadFrom fills the writable region from r with a single Read call, growing
// by at least min bytes first. It is the transport's append path.
func (b *Buffer) ReadFrom(r io.Reader, min int) (int, error) {
	b.ensureWritable(min)
	n, err := r.Read(b.buf[b.writerIndex:])
	if n > 0 {
		b.writerIndex += n
	}
	return n, err
}

// DiscardReadBytes compacts the buffer: bytes before the reader index are
// dropped and the readable region is moved to offset zero. The mark is
// shifted with it, or cleared when it pointed into the discarded region.
func (b *Buffer) DiscardReadBytes() {
	n := b.readerIndex
	if n == 0 {
		return
	}
	copy(b.buf, b.buf[n:b.writerIndex])
	b.writerIndex -= n
	b.readerIndex = 0
	if b.marked {
		if b.markedIndex >= n {
			b.markedIndex -= n
		} else {
			b.ClearMark()
		}
	}
	b.discarded += int64(n)
	b.compactions++
}

// StreamOffset converts an absolute index into a position in the whole
// stream written to this buffer. Stream offsets survive compaction.
func (b *Buffer) StreamOffset(index int) int64 { return b.discarded + int64(index) }

// Compactions reports how many times DiscardReadBytes moved data.
func (b *Buffer) Compactions() uint64 { return b.compactions }

// Reset empties the buffer without releasing its storage.
func (b *Buffer) Reset() {
	b.discarded += int64(b.writerIndex)
	b.readerIndex = 0
	b.writerIndex = 0
	b.ClearMark()
}

func (b *Buffer) ensureWritable(n int) {
	if len(b.buf)-b.writerIndex >= n {
		return
	}
	size := len(b.buf) * 2
	if need := b.writerIndex + n; size < need {
		size = need
	}
	if size < 64 {
		size = 64
	}
	grown := make([]byte, size)
	copy(grown, b.buf[:b.writerIndex])
	b.buf = grown
}
