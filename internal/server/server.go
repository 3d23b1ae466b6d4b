package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/co-capacity/HeliosMLLP/internal/config"
	"github.com/co-capacity/HeliosMLLP/internal/mllp"
	"github.com/co-capacity/HeliosMLLP/internal/observability"
	"github.com/co-capacity/HeliosMLLP/internal/protocol"
	"github.com/co-capacity/HeliosMLLP/internal/session"
)

var (
	ErrSessionNotFound = errors.New("server: session not found")
	ErrBufferOverflow  = errors.New("server: buffered bytes exceed max frame size")
)

// Publisher receives every decoded frame
type Publisher interface {
	Publish(msg protocol.InboundMessage) error
}

// SessionRegistry records open connections outside the process
type SessionRegistry interface {
	Register(ctx context.Context, info session.Info) error
	Touch(ctx context.Context, connID string) error
	Remove(ctx context.Context, connID string) error
}

// TCPServer accepts MLLP connections and turns their byte streams into
// published messages
type TCPServer struct {
	config    *config.Config
	framing   mllp.Config
	decoder   protocol.FrameDecoder // prototype, cloned per connection
	encoder   protocol.FrameEncoder // prototype, cloned per connection
	publisher Publisher
	registry  SessionRegistry
	hub       *Hub
	logger    zerolog.Logger

	listener   net.Listener
	httpServer *http.Server
	sessions   sync.Map // map[string]*Session
	connSeq    atomic.Uint64
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewTCPServer creates a new TCP server. A nil publisher or registry
// disables publishing or registration.
func NewTCPServer(cfg *config.Config, publisher Publisher, registry SessionRegistry, logger zerolog.Logger) (*TCPServer, error) {
	framing, err := cfg.MLLP()
	if err != nil {
		return nil, err
	}
	decoder, err := mllp.NewDecoder(cfg.Decoder, framing)
	if err != nil {
		return nil, err
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if registry == nil {
		registry = session.Nop{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.With().Str("gateway", cfg.GatewayID).Logger()
	return &TCPServer{
		config:    cfg,
		framing:   framing,
		decoder:   decoder,
		encoder:   mllp.NewEncoder(framing),
		publisher: publisher,
		registry:  registry,
		hub:       NewHub(logger),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start starts the MLLP listener and, when HTTPPort is set, the management API
func (s *TCPServer) Start() error {
	addr := fmt.Sprintf(":%d", s.config.MLLPPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.logger.Info().
		Str("addr", listener.Addr().String()).
		Str("decoder", s.config.Decoder).
		Str("framing", s.framing.String()).
		Msg("mllp listener started")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(s.ctx)
	}()

	if s.config.HTTPPort != 0 {
		s.startHTTPServer()
	}

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr is the bound MLLP address, valid after Start
func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every session, then waits for the
// connection handlers to finish
func (s *TCPServer) Stop() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.httpServer.Shutdown(ctx)
		cancel()
	}
	s.sessions.Range(func(key, value interface{}) bool {
		if sess, ok := value.(*Session); ok {
			sess.Conn.Close()
		}
		return true
	})
	s.wg.Wait()
}

func (s *TCPServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn().Err(err).Msg("accept error")
			continue
		}

		connID := fmt.Sprintf("%s-%d", s.config.GatewayID, s.connSeq.Add(1))
		sess := newSession(connID, s.config.GatewayID, conn, s.decoder.Clone(), s.encoder.Clone())
		s.sessions.Store(connID, sess)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(sess)
		}()
	}
}

func (s *TCPServer) handleConnection(sess *Session) {
	logger := s.logger.With().Str("conn_id", sess.ConnID).Str("client_ip", sess.ClientIP).Logger()
	defer func() {
		s.cleanupSession(sess)
		sess.Conn.Close()
		logger.Info().Uint64("frames", sess.Frames()).Msg("connection closed")
	}()

	logger.Info().Msg("new connection")
	observability.ConnectionOpened(s.config.GatewayID)
	if err := s.registry.Register(s.ctx, sess.info()); err != nil {
		logger.Warn().Err(err).Msg("failed to register session")
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if s.config.IdleTimeout > 0 {
			sess.Conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
		}
		n, readErr := sess.buffer.ReadFrom(sess.Conn, s.config.ReadBufferSize)
		if n > 0 {
			sess.touch()
			observability.RecordReceived(s.config.GatewayID, n)
			if err := s.processBuffer(sess); err != nil {
				if errors.Is(err, mllp.ErrCorruptedFrame) {
					observability.RecordCorrupted(s.config.GatewayID)
				}
				logger.Warn().Err(err).Msg("closing connection")
				return
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) && !errors.Is(readErr, net.ErrClosed) {
				logger.Warn().Err(readErr).Msg("read error")
			}
			return
		}
	}
}

// processBuffer decodes everything the session has buffered, delivers the
// frames and compacts the buffer. Frames decoded before a corrupted one are
// still delivered.
func (s *TCPServer) processBuffer(sess *Session) error {
	frames, err := sess.decoder.Decode(sess, sess.buffer)
	for _, frame := range frames {
		s.deliver(sess, frame.Bytes())
	}
	if len(frames) > 0 {
		observability.RecordDecoded(s.config.GatewayID, s.config.Decoder, len(frames))
		if terr := s.registry.Touch(s.ctx, sess.ConnID); terr != nil {
			s.logger.Debug().Err(terr).Str("conn_id", sess.ConnID).Msg("failed to refresh session ttl")
		}
	}
	if err != nil {
		return err
	}

	sess.buffer.DiscardReadBytes()
	sess.buffered.Store(int64(sess.buffer.ReadableBytes()))
	if pending := sess.buffer.ReadableBytes(); pending > s.config.MaxFrameSize {
		return fmt.Errorf("%w: %d > %d", ErrBufferOverflow, pending, s.config.MaxFrameSize)
	}
	return nil
}

func (s *TCPServer) deliver(sess *Session, payload []byte) {
	msg := protocol.InboundMessage{
		GatewayID:  s.config.GatewayID,
		ConnID:     sess.ConnID,
		RemoteAddr: sess.ClientIP,
		Sequence:   sess.nextSequence(),
		ReceivedAt: time.Now().UnixMilli(),
		Payload:    payload,
	}
	if err := s.publisher.Publish(msg); err != nil {
		s.logger.Error().Err(err).Str("conn_id", sess.ConnID).Uint64("sequence", msg.Sequence).Msg("failed to publish frame")
	}
	s.hub.Broadcast(msg)
	s.logger.Debug().
		Str("conn_id", sess.ConnID).
		Uint64("sequence", msg.Sequence).
		Int("bytes", len(payload)).
		Msg("frame decoded")
}

func (s *TCPServer) cleanupSession(sess *Session) {
	s.sessions.Delete(sess.ConnID)
	observability.ConnectionClosed(s.config.GatewayID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.registry.Remove(ctx, sess.ConnID); err != nil {
		s.logger.Warn().Err(err).Str("conn_id", sess.ConnID).Msg("failed to remove session")
	}
}

// HandleCommand writes one framed payload to the addressed connection
func (s *TCPServer) HandleCommand(cmd protocol.OutboundCommand) error {
	value, ok := s.sessions.Load(cmd.ConnID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, cmd.ConnID)
	}
	sess := value.(*Session)
	if err := sess.Send(cmd.Payload); err != nil {
		return err
	}
	observability.RecordEncoded(s.config.GatewayID)
	s.logger.Debug().Str("conn_id", cmd.ConnID).Int("bytes", len(cmd.Payload)).Msg("frame sent")
	return nil
}

// Sessions returns a snapshot of the open sessions
func (s *TCPServer) Sessions() []SessionSnapshot {
	out := make([]SessionSnapshot, 0)
	s.sessions.Range(func(key, value interface{}) bool {
		if sess, ok := value.(*Session); ok {
			out = append(out, sess.snapshot())
		}
		return true
	})
	return out
}

type nopPublisher struct{}

func (nopPublisher) Publish(protocol.InboundMessage) error { return nil }
