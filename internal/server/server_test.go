package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/co-capacity/HeliosMLLP/internal/config"
	"github.com/co-capacity/HeliosMLLP/internal/mllp"
	"github.com/co-capacity/HeliosMLLP/internal/protocol"
	"github.com/co-capacity/HeliosMLLP/internal/session"
)

const waitTimeout = 3 * time.Second

type fakePublisher struct {
	messages chan protocol.InboundMessage
}

func (p *fakePublisher) Publish(msg protocol.InboundMessage) error {
	p.messages <- msg
	return nil
}

func (p *fakePublisher) next(t *testing.T) protocol.InboundMessage {
	t.Helper()
	select {
	case msg := <-p.messages:
		return msg
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for a published frame")
		return protocol.InboundMessage{}
	}
}

type fakeRegistry struct {
	mu         sync.Mutex
	registered chan session.Info
	removed    chan string
	touched    map[string]int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		registered: make(chan session.Info, 16),
		removed:    make(chan string, 16),
		touched:    make(map[string]int),
	}
}

func (r *fakeRegistry) Register(_ context.Context, info session.Info) error {
	r.registered <- info
	return nil
}

func (r *fakeRegistry) Touch(_ context.Context, connID string) error {
	r.mu.Lock()
	r.touched[connID]++
	r.mu.Unlock()
	return nil
}

func (r *fakeRegistry) Remove(_ context.Context, connID string) error {
	r.removed <- connID
	return nil
}

func (r *fakeRegistry) waitRegistered(t *testing.T) session.Info {
	t.Helper()
	select {
	case info := <-r.registered:
		return info
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for session registration")
		return session.Info{}
	}
}

func (r *fakeRegistry) waitRemoved(t *testing.T) string {
	t.Helper()
	select {
	case id := <-r.removed:
		return id
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for session removal")
		return ""
	}
}

func startServer(t *testing.T, mutate func(*config.Config)) (*TCPServer, *fakePublisher, *fakeRegistry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Defaults()
	cfg.GatewayID = "test-gw"
	cfg.MLLPPort = 0
	cfg.HTTPPort = 0
	if mutate != nil {
		mutate(cfg)
	}

	pub := &fakePublisher{messages: make(chan protocol.InboundMessage, 64)}
	reg := newFakeRegistry()
	srv, err := NewTCPServer(cfg, pub, reg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv, pub, reg
}

func dial(t *testing.T, srv *TCPServer) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", srv.Addr().String(), waitTimeout)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func expectClosed(t *testing.T, conn net.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(waitTimeout))
	buf := make([]byte, 16)
	for {
		_, err := conn.Read(buf)
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatalf("connection still open")
		}
		return
	}
}

func TestNewTCPServerRejectsBadConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Decoder = "greedy"
	if _, err := NewTCPServer(cfg, nil, nil, zerolog.Nop()); !errors.Is(err, mllp.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
	cfg = config.Defaults()
	cfg.MinPayloadLen = -1
	if _, err := NewTCPServer(cfg, nil, nil, zerolog.Nop()); !errors.Is(err, mllp.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestServerPublishesFramesInOrder(t *testing.T) {
	for _, strategy := range []string{mllp.StrategyMulti, mllp.StrategyResumable} {
		t.Run(strategy, func(t *testing.T) {
			srv, pub, reg := startServer(t, func(c *config.Config) { c.Decoder = strategy })
			conn := dial(t, srv)
			info := reg.waitRegistered(t)

			wire := append(mllp.Wrap([]byte("MSH|first")), mllp.Wrap([]byte("MSH|second"))...)
			if _, err := conn.Write(wire); err != nil {
				t.Fatalf("write: %v", err)
			}

			for i, want := range []string{"MSH|first", "MSH|second"} {
				msg := pub.next(t)
				if string(msg.Payload) != want {
					t.Fatalf("frame %d = %q, want %q", i, msg.Payload, want)
				}
				if msg.Sequence != uint64(i+1) || msg.ConnID != info.ConnID || msg.GatewayID != "test-gw" {
					t.Fatalf("unexpected envelope: %+v", msg)
				}
			}
		})
	}
}

func TestServerReassemblesSplitFrames(t *testing.T) {
	srv, pub, reg := startServer(t, nil)
	conn := dial(t, srv)
	reg.waitRegistered(t)

	payload := bytes.Repeat([]byte("PID|"), 300)
	wire := mllp.Wrap(payload)
	for off := 0; off < len(wire); off += 97 {
		end := off + 97
		if end > len(wire) {
			end = len(wire)
		}
		if _, err := conn.Write(wire[off:end]); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(time.Millisecond)
	}

	if msg := pub.next(t); !bytes.Equal(msg.Payload, payload) {
		t.Fatalf("payload mismatch: got %d bytes", len(msg.Payload))
	}
}

func TestServerClosesOnCorruptedFrame(t *testing.T) {
	srv, pub, reg := startServer(t, nil)
	conn := dial(t, srv)
	info := reg.waitRegistered(t)

	wire := append(mllp.Wrap([]byte("good")), []byte("garbage")...)
	if _, err := conn.Write(wire); err != nil {
		t.Fatalf("write: %v", err)
	}

	if msg := pub.next(t); string(msg.Payload) != "good" {
		t.Fatalf("frame before the corruption was lost: %q", msg.Payload)
	}
	expectClosed(t, conn)
	if id := reg.waitRemoved(t); id != info.ConnID {
		t.Fatalf("removed %q, want %q", id, info.ConnID)
	}
}

func TestServerClosesWhenFrameTooLarge(t *testing.T) {
	srv, _, reg := startServer(t, func(c *config.Config) { c.MaxFrameSize = 32 })
	conn := dial(t, srv)
	reg.waitRegistered(t)

	wire := append([]byte{mllp.DefaultStart}, bytes.Repeat([]byte{'x'}, 64)...)
	if _, err := conn.Write(wire); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectClosed(t, conn)
}

func TestHandleCommand(t *testing.T) {
	srv, _, reg := startServer(t, nil)
	conn := dial(t, srv)
	info := reg.waitRegistered(t)

	if err := srv.HandleCommand(protocol.OutboundCommand{ConnID: info.ConnID, Payload: []byte("ACK")}); err != nil {
		t.Fatalf("handle command: %v", err)
	}
	want := mllp.Wrap([]byte("ACK"))
	got := make([]byte, len(want))
	conn.SetReadDeadline(time.Now().Add(waitTimeout))
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("wire = %v, want %v", got, want)
	}

	err := srv.HandleCommand(protocol.OutboundCommand{ConnID: "nobody", Payload: []byte("x")})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRouterSessionsAndSend(t *testing.T) {
	srv, pub, reg := startServer(t, nil)
	conn := dial(t, srv)
	info := reg.waitRegistered(t)

	conn.Write(mllp.Wrap([]byte("hello")))
	pub.next(t)

	router := srv.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"sessions":1`) {
		t.Fatalf("health = %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	var listed struct {
		Sessions []SessionSnapshot `json:"sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(listed.Sessions) != 1 || listed.Sessions[0].ConnID != info.ConnID || listed.Sessions[0].Frames != 1 {
		t.Fatalf("sessions = %+v", listed.Sessions)
	}
	if listed.Sessions[0].Allocated != len("hello") {
		t.Fatalf("allocated = %d", listed.Sessions[0].Allocated)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sessions/nobody/send", strings.NewReader("x")))
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown session status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sessions/"+info.ConnID+"/send", strings.NewReader("MSA|AA")))
	if w.Code != http.StatusOK {
		t.Fatalf("send status = %d %s", w.Code, w.Body.String())
	}
	want := mllp.Wrap([]byte("MSA|AA"))
	got := make([]byte, len(want))
	conn.SetReadDeadline(time.Now().Add(waitTimeout))
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("wire = %v, want %v", got, want)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "mllpgw_frames_decoded_total") {
		t.Fatalf("metrics endpoint missing frame counter")
	}
}

func TestWebSocketTail(t *testing.T) {
	srv, pub, reg := startServer(t, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/frames", nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	defer ws.Close()

	deadline := time.Now().Add(waitTimeout)
	for srv.hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("ws client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn := dial(t, srv)
	info := reg.waitRegistered(t)
	conn.Write(mllp.Wrap([]byte("tail me")))
	pub.next(t)

	ws.SetReadDeadline(time.Now().Add(waitTimeout))
	var event FrameEvent
	if err := ws.ReadJSON(&event); err != nil {
		t.Fatalf("ws read: %v", err)
	}
	if event.Type != "frame" || event.Data.ConnID != info.ConnID || string(event.Data.Payload) != "tail me" {
		t.Fatalf("event = %+v", event)
	}
}
