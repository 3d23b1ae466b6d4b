package mllp

import (
	"github.com/co-capacity/HeliosMLLP/internal/bytebuf"
	"github.com/co-capacity/HeliosMLLP/internal/protocol"
)

// ExtractFrame copies length bytes at absolute index of in into a new buffer
// from the connection's allocator. The cursors of in are left alone.
func ExtractFrame(conn protocol.Conn, in *bytebuf.Buffer, index, length int) (*bytebuf.Buffer, error) {
	frame := allocator(conn).Buffer(length)
	if err := frame.WriteBytesFrom(in, index, length); err != nil {
		return nil, err
	}
	return frame, nil
}

func allocator(conn protocol.Conn) bytebuf.Allocator {
	if conn != nil {
		if a := conn.Allocator(); a != nil {
			return a
		}
	}
	return bytebuf.Heap{}
}
