package bytebuf

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestWriteGrowsAndReads(t *testing.T) {
	b := New(2)
	b.Write([]byte("hello"))
	b.WriteByte('!')
	if got := b.ReadableBytes(); got != 6 {
		t.Fatalf("readable = %d, want 6", got)
	}
	c, err := b.ReadByte()
	if err != nil || c != 'h' {
		t.Fatalf("ReadByte = %q, %v", c, err)
	}
	if !bytes.Equal(b.Bytes(), []byte("ello!")) {
		t.Fatalf("Bytes = %q", b.Bytes())
	}
}

func TestReadByteAtEnd(t *testing.T) {
	b := New(0)
	if _, err := b.ReadByte(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestMarkReset(t *testing.T) {
	b := Wrap([]byte{1, 2, 3, 4})
	if err := b.ResetReaderIndex(); !errors.Is(err, ErrNoMark) {
		t.Fatalf("expected ErrNoMark, got %v", err)
	}
	b.ReadByte()
	b.MarkReaderIndex()
	b.ReadByte()
	b.ReadByte()
	if err := b.ResetReaderIndex(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if b.ReaderIndex() != 1 {
		t.Fatalf("reader index = %d, want 1", b.ReaderIndex())
	}
}

func TestGetByteOnlyReadable(t *testing.T) {
	b := Wrap([]byte{9, 8, 7})
	b.ReadByte()
	if _, ok := b.GetByte(0); ok {
		t.Fatalf("GetByte before reader index should fail")
	}
	if c, ok := b.GetByte(2); !ok || c != 7 {
		t.Fatalf("GetByte(2) = %d, %v", c, ok)
	}
	if _, ok := b.GetByte(3); ok {
		t.Fatalf("GetByte at writer index should fail")
	}
	if b.ReaderIndex() != 1 {
		t.Fatalf("GetByte moved the reader index")
	}
}

func TestSkipAndSetReaderIndexBounds(t *testing.T) {
	b := Wrap([]byte{1, 2, 3})
	if err := b.SkipBytes(4); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if err := b.SkipBytes(2); err != nil {
		t.Fatalf("skip: %v", err)
	}
	if err := b.SetReaderIndex(4); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if err := b.SetReaderIndex(3); err != nil || b.ReadableBytes() != 0 {
		t.Fatalf("set reader index: %v readable=%d", err, b.ReadableBytes())
	}
}

func TestDiscardReadBytesShiftsMarkAndStreamOffset(t *testing.T) {
	b := Wrap([]byte("abcdef"))
	b.SkipBytes(2)
	b.MarkReaderIndex()
	b.SkipBytes(1)
	before := b.StreamOffset(b.ReaderIndex())

	b.DiscardReadBytes()

	if b.ReaderIndex() != 0 || b.WriterIndex() != 3 {
		t.Fatalf("cursors after compaction: r=%d w=%d", b.ReaderIndex(), b.WriterIndex())
	}
	if !bytes.Equal(b.Bytes(), []byte("def")) {
		t.Fatalf("Bytes = %q", b.Bytes())
	}
	// the mark pointed into the discarded region
	if err := b.ResetReaderIndex(); !errors.Is(err, ErrNoMark) {
		t.Fatalf("expected ErrNoMark, got %v", err)
	}
	if b.Compactions() != 1 {
		t.Fatalf("compactions = %d", b.Compactions())
	}
	if got := b.StreamOffset(0); got != before {
		t.Fatalf("stream offset = %d, want %d", got, before)
	}
}

func TestDiscardReadBytesKeepsMarkInsideReadable(t *testing.T) {
	b := Wrap([]byte("abcdef"))
	b.SkipBytes(2)
	b.DiscardReadBytes()
	b.SkipBytes(1)
	b.MarkReaderIndex()
	b.SkipBytes(1)
	b.SetReaderIndex(1)
	b.DiscardReadBytes()
	b.SkipBytes(2)
	if err := b.ResetReaderIndex(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if b.ReaderIndex() != 0 || !bytes.Equal(b.Bytes(), []byte("def")) {
		t.Fatalf("after reset r=%d bytes=%q", b.ReaderIndex(), b.Bytes())
	}
}

func TestReadFromAppends(t *testing.T) {
	b := New(0)
	n, err := b.ReadFrom(strings.NewReader("stream"), 16)
	if err != nil || n != 6 {
		t.Fatalf("ReadFrom = %d, %v", n, err)
	}
	if string(b.Bytes()) != "stream" {
		t.Fatalf("Bytes = %q", b.Bytes())
	}
}

func TestWriteBytesFrom(t *testing.T) {
	src := Wrap([]byte("0123456789"))
	dst := New(4)
	if err := dst.WriteBytesFrom(src, 3, 4); err != nil {
		t.Fatalf("WriteBytesFrom: %v", err)
	}
	if string(dst.Bytes()) != "3456" {
		t.Fatalf("dst = %q", dst.Bytes())
	}
	if src.ReaderIndex() != 0 {
		t.Fatalf("source reader index moved to %d", src.ReaderIndex())
	}
	if err := dst.WriteBytesFrom(src, 8, 3); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestCountingAllocator(t *testing.T) {
	a := &Counting{}
	a.Buffer(10)
	a.Buffer(5)
	if n, sz := a.Stats(); n != 2 || sz != 15 {
		t.Fatalf("stats = %d, %d", n, sz)
	}
}
