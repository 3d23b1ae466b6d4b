package protocol

import "github.com/co-capacity/HeliosMLLP/internal/bytebuf"

// Conn is the connection-scoped context a codec runs in.
type Conn interface {
	// Allocator returns the buffer factory owned by the connection
	Allocator() bytebuf.Allocator
}

// FrameDecoder extracts complete frames from a connection's buffered bytes.
type FrameDecoder interface {
	// Decode returns every frame it could extract, in stream order.
	// An incomplete trailing frame is not an error: its bytes stay in the
	// buffer for the next call. On failure the frames extracted before the
	// failure are returned together with the error.
	Decode(conn Conn, in *bytebuf.Buffer) ([]*bytebuf.Buffer, error)

	// Clone returns an independent decoder for a new connection
	Clone() FrameDecoder
}

// FrameEncoder wraps outgoing payloads for the wire.
type FrameEncoder interface {
	// Encode consumes the readable bytes of payload
	Encode(conn Conn, payload *bytebuf.Buffer) []*bytebuf.Buffer

	// Clone returns an independent encoder for a new connection
	Clone() FrameEncoder
}
