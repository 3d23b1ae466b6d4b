package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "mllp:sess:"

// Info describes one open connection
type Info struct {
	ConnID     string
	GatewayID  string
	RemoteAddr string
}

// Key is the Redis key a connection is registered under.
func Key(connID string) string {
	return keyPrefix + connID
}

// Value is what the registry stores for a connection.
func (i Info) Value() string {
	return fmt.Sprintf("%s|%s|%s", i.GatewayID, i.ConnID, i.RemoteAddr)
}

// ParseValue reverses Value.
func ParseValue(v string) (Info, error) {
	parts := strings.SplitN(v, "|", 3)
	if len(parts) != 3 {
		return Info{}, fmt.Errorf("session: malformed registry value %q", v)
	}
	return Info{GatewayID: parts[0], ConnID: parts[1], RemoteAddr: parts[2]}, nil
}

// RedisRegistry records open connections in Redis with a TTL, so other
// services can find which gateway holds a connection.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{client: client, ttl: ttl}
}

func (r *RedisRegistry) Register(ctx context.Context, info Info) error {
	if err := r.client.Set(ctx, Key(info.ConnID), info.Value(), r.ttl).Err(); err != nil {
		return fmt.Errorf("register session %s: %w", info.ConnID, err)
	}
	return nil
}

// Touch extends the TTL of a live connection.
func (r *RedisRegistry) Touch(ctx context.Context, connID string) error {
	if err := r.client.Expire(ctx, Key(connID), r.ttl).Err(); err != nil {
		return fmt.Errorf("touch session %s: %w", connID, err)
	}
	return nil
}

func (r *RedisRegistry) Remove(ctx context.Context, connID string) error {
	if err := r.client.Del(ctx, Key(connID)).Err(); err != nil {
		return fmt.Errorf("remove session %s: %w", connID, err)
	}
	return nil
}

// Lookup returns the registration of connID, if any.
func (r *RedisRegistry) Lookup(ctx context.Context, connID string) (Info, bool, error) {
	v, err := r.client.Get(ctx, Key(connID)).Result()
	if err == redis.Nil {
		return Info{}, false, nil
	}
	if err != nil {
		return Info{}, false, fmt.Errorf("lookup session %s: %w", connID, err)
	}
	info, err := ParseValue(v)
	if err != nil {
		return Info{}, false, err
	}
	return info, true, nil
}

// Nop is a registry that records nothing. It stands in when Redis is not
// configured.
type Nop struct{}

func (Nop) Register(context.Context, Info) error { return nil }
func (Nop) Touch(context.Context, string) error  { return nil }
func (Nop) Remove(context.Context, string) error { return nil }
