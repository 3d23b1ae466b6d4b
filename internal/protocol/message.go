package protocol

import "fmt"

// InboundMessage is the envelope published for every decoded frame
type InboundMessage struct {
	GatewayID  string `json:"gateway_id"`
	ConnID     string `json:"conn_id"`
	RemoteAddr string `json:"remote_addr"`
	Sequence   uint64 `json:"sequence"`   // per-connection frame counter, starting at 1
	ReceivedAt int64  `json:"received_at"` // unix milliseconds
	Payload    []byte `json:"payload"`
}

// OutboundCommand asks a gateway to write one payload to a connection
type OutboundCommand struct {
	ConnID  string `json:"conn_id"`
	Payload []byte `json:"payload"`
}

// Subjects
const (
	DefaultSubjectPrefix = "mllp"
	SubjectInbound       = "inbound"
	SubjectDownlink      = "downlink"
)

// InboundSubject is the subject every gateway publishes decoded frames on.
func InboundSubject(prefix string) string {
	return fmt.Sprintf("%s.%s", prefix, SubjectInbound)
}

// GatewayInboundSubject narrows InboundSubject to one gateway.
func GatewayInboundSubject(prefix, gatewayID string) string {
	return fmt.Sprintf("%s.%s.%s", prefix, SubjectInbound, gatewayID)
}

// DownlinkSubject carries OutboundCommands addressed to one gateway.
func DownlinkSubject(prefix, gatewayID string) string {
	return fmt.Sprintf("%s.%s.%s", prefix, SubjectDownlink, gatewayID)
}
