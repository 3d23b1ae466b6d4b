package mllp

import (
	"testing"

	"github.com/co-capacity/HeliosMLLP/internal/bytebuf"
)

func wrapBuf(p []byte) *bytebuf.Buffer { return bytebuf.Wrap(p) }

func TestEncoding(t *testing.T) {
	for _, enc := range []*Encoder{DefaultEncoder(), DefaultEncoder().Clone().(*Encoder)} {
		payload := wrapBuf([]byte("somebytes"))
		conn := newTestConn()
		out := enc.Encode(conn, payload)
		if len(out) != 1 {
			t.Fatalf("encode returned %d frames", len(out))
		}
		frame := out[0].Bytes()
		if len(frame) != len("somebytes")+3 {
			t.Fatalf("frame length = %d", len(frame))
		}
		if frame[0] != DefaultStart || frame[len(frame)-2] != DefaultFirstEnd || frame[len(frame)-1] != DefaultLastEnd {
			t.Fatalf("frame = % x", frame)
		}
		if string(frame[1:len(frame)-2]) != "somebytes" {
			t.Fatalf("payload = %q", frame[1:len(frame)-2])
		}
		if payload.ReadableBytes() != 0 {
			t.Fatalf("payload not consumed: %d readable", payload.ReadableBytes())
		}
		if n, size := conn.alloc.Stats(); n != 1 || size != len("somebytes")+3 {
			t.Fatalf("allocator stats = %d, %d", n, size)
		}
	}
}

func TestEncodeEmptyPayload(t *testing.T) {
	out := DefaultEncoder().Encode(nil, bytebuf.New(0))
	if got := out[0].Bytes(); string(got) != string([]byte{DefaultStart, DefaultFirstEnd, DefaultLastEnd}) {
		t.Fatalf("frame = % x", got)
	}
}

func TestEncodeMatchesWrap(t *testing.T) {
	p := []byte("MSH|^~\\&|A|B\r")
	out := DefaultEncoder().Encode(nil, wrapBuf(p))
	if string(out[0].Bytes()) != string(Wrap(p)) {
		t.Fatalf("encode and wrap disagree")
	}
}
