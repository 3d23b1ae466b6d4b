package mllp

import "fmt"

const (
	DefaultStart    byte = 0x0B
	DefaultFirstEnd byte = 0x1C
	DefaultLastEnd  byte = 0x0D

	// Overhead is the number of sentinel bytes around every payload.
	Overhead = 3
)

// Config is the sentinel triple plus the minimum payload length a decoder
// waits for before scanning. It is a value type: copying it is cloning it.
type Config struct {
	Start         byte
	FirstEnd      byte
	LastEnd       byte
	MinPayloadLen int
}

// DefaultConfig returns the conventional MLLP sentinels and no minimum length.
func DefaultConfig() Config {
	return Config{
		Start:    DefaultStart,
		FirstEnd: DefaultFirstEnd,
		LastEnd:  DefaultLastEnd,
	}
}

// NewConfig builds and validates a Config.
func NewConfig(start, firstEnd, lastEnd byte, minPayloadLen int) (Config, error) {
	cfg := Config{
		Start:         start,
		FirstEnd:      firstEnd,
		LastEnd:       lastEnd,
		MinPayloadLen: minPayloadLen,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.MinPayloadLen < 0 {
		return fmt.Errorf("%w: minimum payload length %d should be zero or bigger", ErrInvalidConfiguration, c.MinPayloadLen)
	}
	return nil
}

// Wrap returns payload surrounded by the configured sentinels.
func (c Config) Wrap(payload []byte) []byte {
	out := make([]byte, len(payload)+Overhead)
	out[0] = c.Start
	copy(out[1:], payload)
	out[len(out)-2] = c.FirstEnd
	out[len(out)-1] = c.LastEnd
	return out
}

func (c Config) String() string {
	return fmt.Sprintf("start=0x%02X end=0x%02X,0x%02X min=%d", c.Start, c.FirstEnd, c.LastEnd, c.MinPayloadLen)
}

func (c Config) minFrameLen() int { return c.MinPayloadLen + Overhead }

// Wrap frames payload with the default sentinels.
func Wrap(payload []byte) []byte {
	return DefaultConfig().Wrap(payload)
}
