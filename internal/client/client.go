// Package client is a minimal MLLP sender used by the CLI and by tests.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/co-capacity/HeliosMLLP/internal/bytebuf"
	"github.com/co-capacity/HeliosMLLP/internal/mllp"
	"github.com/co-capacity/HeliosMLLP/internal/protocol"
)

var ErrClosed = errors.New("client: connection closed before a full frame arrived")

type Client struct {
	conn    net.Conn
	encoder protocol.FrameEncoder
	decoder protocol.FrameDecoder
	in      *bytebuf.Buffer
	pending [][]byte
	readMin int
}

// Dial connects to an MLLP listener using the given framing
func Dial(ctx context.Context, addr string, cfg mllp.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(conn, cfg), nil
}

// New wraps an established connection. cfg must already be valid.
func New(conn net.Conn, cfg mllp.Config) *Client {
	dec, _ := mllp.NewResumableDecoder(cfg)
	return &Client{
		conn:    conn,
		encoder: mllp.NewEncoder(cfg),
		decoder: dec,
		in:      bytebuf.New(0),
		readMin: 4096,
	}
}

// Allocator lets the client act as the decoder's connection.
func (c *Client) Allocator() bytebuf.Allocator { return bytebuf.Heap{} }

// Send writes one framed message
func (c *Client) Send(payload []byte) error {
	for _, frame := range c.encoder.Encode(c, bytebuf.Wrap(payload)) {
		if _, err := c.conn.Write(frame.Bytes()); err != nil {
			return fmt.Errorf("writing message: %w", err)
		}
	}
	return nil
}

// Receive returns the next payload from the peer. A zero timeout waits
// forever.
func (c *Client) Receive(timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}
	for len(c.pending) == 0 {
		n, readErr := c.in.ReadFrom(c.conn, c.readMin)
		if n > 0 {
			frames, err := c.decoder.Decode(c, c.in)
			for _, f := range frames {
				c.pending = append(c.pending, f.Bytes())
			}
			if err != nil {
				return nil, err
			}
			c.in.DiscardReadBytes()
		}
		if readErr != nil {
			if len(c.pending) > 0 {
				break
			}
			if errors.Is(readErr, net.ErrClosed) || c.in.ReadableBytes() > 0 {
				return nil, fmt.Errorf("%w: %v", ErrClosed, readErr)
			}
			return nil, readErr
		}
	}
	msg := c.pending[0]
	c.pending = c.pending[1:]
	return msg, nil
}

// Request sends payload and waits for one reply
func (c *Client) Request(payload []byte, timeout time.Duration) ([]byte, error) {
	if err := c.Send(payload); err != nil {
		return nil, err
	}
	return c.Receive(timeout)
}

func (c *Client) Close() error { return c.conn.Close() }
