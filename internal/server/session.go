package server

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/co-capacity/HeliosMLLP/internal/bytebuf"
	"github.com/co-capacity/HeliosMLLP/internal/protocol"
	"github.com/co-capacity/HeliosMLLP/internal/session"
)

// Session is one MLLP connection. Its decoder and encoder are clones owned
// by the connection goroutine, so scan state never leaks across peers.
type Session struct {
	ConnID    string
	GatewayID string
	Conn      net.Conn
	ClientIP  string
	OpenedAt  time.Time

	decoder   protocol.FrameDecoder
	encoder   protocol.FrameEncoder
	buffer    *bytebuf.Buffer
	allocator *bytebuf.Counting

	frames     atomic.Uint64
	buffered   atomic.Int64
	lastActive atomic.Int64
	writeMu    sync.Mutex
}

// SessionSnapshot is the JSON view of a session served by the HTTP API
type SessionSnapshot struct {
	ConnID     string    `json:"conn_id"`
	RemoteAddr string    `json:"remote_addr"`
	OpenedAt   time.Time `json:"opened_at"`
	LastActive time.Time `json:"last_active"`
	Frames     uint64    `json:"frames"`
	Buffered   int       `json:"buffered_bytes"`
	Allocated  int       `json:"allocated_bytes"`
}

func newSession(connID, gatewayID string, conn net.Conn, dec protocol.FrameDecoder, enc protocol.FrameEncoder) *Session {
	now := time.Now()
	s := &Session{
		ConnID:    connID,
		GatewayID: gatewayID,
		Conn:      conn,
		ClientIP:  conn.RemoteAddr().String(),
		OpenedAt:  now,
		decoder:   dec,
		encoder:   enc,
		buffer:    bytebuf.New(0),
		allocator: &bytebuf.Counting{},
	}
	s.lastActive.Store(now.UnixNano())
	return s
}

// Allocator makes Session a protocol.Conn: frames extracted for this
// connection are accounted to it.
func (s *Session) Allocator() bytebuf.Allocator { return s.allocator }

// Send frames payload and writes it to the peer
func (s *Session) Send(payload []byte) error {
	frames := s.encoder.Encode(s, bytebuf.Wrap(payload))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for _, frame := range frames {
		if _, err := s.Conn.Write(frame.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// Frames is the number of frames decoded on this connection
func (s *Session) Frames() uint64 { return s.frames.Load() }

func (s *Session) nextSequence() uint64 { return s.frames.Add(1) }

func (s *Session) touch() { s.lastActive.Store(time.Now().UnixNano()) }

func (s *Session) info() session.Info {
	return session.Info{ConnID: s.ConnID, GatewayID: s.GatewayID, RemoteAddr: s.ClientIP}
}

// snapshot may run concurrently with the connection goroutine, so it reads
// only atomics and the allocator's locked counters
func (s *Session) snapshot() SessionSnapshot {
	_, allocated := s.allocator.Stats()
	return SessionSnapshot{
		ConnID:     s.ConnID,
		RemoteAddr: s.ClientIP,
		OpenedAt:   s.OpenedAt,
		LastActive: time.Unix(0, s.lastActive.Load()),
		Frames:     s.frames.Load(),
		Buffered:   int(s.buffered.Load()),
		Allocated:  allocated,
	}
}
