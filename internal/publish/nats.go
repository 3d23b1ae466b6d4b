package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/co-capacity/HeliosMLLP/internal/protocol"
)

// StreamInbound is the JetStream stream that keeps decoded frames.
const StreamInbound = "MLLP_INBOUND"

// NATSPublisher publishes decoded frames. Every frame goes to the shared
// inbound subject and to the gateway's own inbound subject; the latter is
// persisted when JetStream is enabled.
type NATSPublisher struct {
	nc        *nats.Conn
	js        nats.JetStreamContext
	prefix    string
	gatewayID string
}

func NewNATSPublisher(nc *nats.Conn, prefix, gatewayID string, jetstream bool) (*NATSPublisher, error) {
	p := &NATSPublisher{
		nc:        nc,
		prefix:    prefix,
		gatewayID: gatewayID,
	}
	if !jetstream {
		return p, nil
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}
	if err := ensureStream(js, StreamConfig(prefix)); err != nil {
		return nil, err
	}
	p.js = js
	return p, nil
}

// StreamConfig is the inbound stream definition for a subject prefix.
func StreamConfig(prefix string) nats.StreamConfig {
	return nats.StreamConfig{
		Name:      StreamInbound,
		Subjects:  []string{protocol.InboundSubject(prefix) + ".*"},
		Retention: nats.LimitsPolicy,
		MaxMsgs:   -1,
		MaxBytes:  5 * 1024 * 1024 * 1024, // 5GB
		MaxAge:    7 * 24 * time.Hour,
		Storage:   nats.FileStorage,
		Replicas:  1,
	}
}

func ensureStream(js nats.JetStreamContext, cfg nats.StreamConfig) error {
	_, err := js.AddStream(&cfg)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
	}
	if _, err := js.UpdateStream(&cfg); err != nil {
		return fmt.Errorf("failed to update stream %s: %w", cfg.Name, err)
	}
	return nil
}

func (p *NATSPublisher) Publish(msg protocol.InboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	subject := protocol.GatewayInboundSubject(p.prefix, p.gatewayID)
	if p.js != nil {
		if _, err := p.js.Publish(subject, data); err != nil {
			return fmt.Errorf("jetstream publish %s: %w", subject, err)
		}
	} else if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	if err := p.nc.Publish(protocol.InboundSubject(p.prefix), data); err != nil {
		return fmt.Errorf("publish %s: %w", protocol.InboundSubject(p.prefix), err)
	}
	return nil
}

// SubscribeDownlink delivers OutboundCommands addressed to this gateway.
// Malformed commands are reported through onError and dropped.
func (p *NATSPublisher) SubscribeDownlink(handle func(protocol.OutboundCommand) error, onError func(error)) (*nats.Subscription, error) {
	subject := protocol.DownlinkSubject(p.prefix, p.gatewayID)
	return p.nc.Subscribe(subject, func(m *nats.Msg) {
		var cmd protocol.OutboundCommand
		if err := json.Unmarshal(m.Data, &cmd); err != nil {
			onError(fmt.Errorf("failed to unmarshal command: %w", err))
			return
		}
		if err := handle(cmd); err != nil {
			onError(fmt.Errorf("command for %s: %w", cmd.ConnID, err))
		}
	})
}

// Discard drops every message. It stands in when NATS is not configured.
type Discard struct{}

func (Discard) Publish(protocol.InboundMessage) error { return nil }
