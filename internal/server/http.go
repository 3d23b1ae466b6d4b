package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/co-capacity/HeliosMLLP/internal/mllp"
	"github.com/co-capacity/HeliosMLLP/internal/observability"
	"github.com/co-capacity/HeliosMLLP/internal/protocol"
)

// Router builds the management API
func (s *TCPServer) Router() *gin.Engine {
	observability.RegisterMetrics()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observability.RequestLogger(s.logger))
	router.Use(observability.RequestMetricsMiddleware(s.config.GatewayID))

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/sessions", s.handleSessions)
	router.POST("/sessions/:id/send", s.handleSend)
	router.GET("/ws/frames", s.hub.HandleWebSocket)

	return router
}

func (s *TCPServer) startHTTPServer() {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler: s.Router(),
	}

	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server started")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("http server error")
		}
	}()
}

func (s *TCPServer) handleHealth(c *gin.Context) {
	sessions := 0
	s.sessions.Range(func(_, _ interface{}) bool {
		sessions++
		return true
	})
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"gateway_id": s.config.GatewayID,
		"decoder":    s.config.Decoder,
		"framing":    s.framing.String(),
		"sessions":   sessions,
		"ws_clients": s.hub.ClientCount(),
	})
}

func (s *TCPServer) handleSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.Sessions()})
}

// handleSend frames the raw request body and writes it to one connection
func (s *TCPServer) handleSend(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, int64(s.config.MaxFrameSize)+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(body) > s.config.MaxFrameSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload exceeds max frame size"})
		return
	}
	if len(body) < s.framing.MinPayloadLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("payload shorter than %d bytes", s.framing.MinPayloadLen)})
		return
	}

	err = s.HandleCommand(protocol.OutboundCommand{ConnID: c.Param("id"), Payload: body})
	switch {
	case errors.Is(err, ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"conn_id": c.Param("id"), "bytes": len(body) + mllp.Overhead})
	}
}
