package mission

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrAgentUnknown is returned when an agent has no registered location.
var ErrAgentUnknown = errors.New("agent location unknown")

// Directory resolves an agent id to the recipient address it currently
// listens on.
type Directory interface {
	Resolve(ctx context.Context, agentID string) (string, error)
}

// MemoryDirectory is a static map. Agents missing from the map resolve to
// their own id when Passthrough is set.
type MemoryDirectory struct {
	mu          sync.RWMutex
	locations   map[string]string
	Passthrough bool
}

func NewMemoryDirectory(locations map[string]string) *MemoryDirectory {
	m := make(map[string]string, len(locations))
	for k, v := range locations {
		m[k] = v
	}
	return &MemoryDirectory{locations: m}
}

// Register sets or replaces an agent's location.
func (d *MemoryDirectory) Register(agentID, location string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locations[agentID] = location
}

func (d *MemoryDirectory) Resolve(ctx context.Context, agentID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if loc, ok := d.locations[agentID]; ok {
		return loc, nil
	}
	if d.Passthrough {
		return agentID, nil
	}
	return "", fmt.Errorf("%w: %s", ErrAgentUnknown, agentID)
}

// RedisDirectory reads locations from a hash shared by all agents.
type RedisDirectory struct {
	client redis.UniversalClient
	key    string
}

func NewRedisDirectory(client redis.UniversalClient, keyPrefix string) *RedisDirectory {
	if keyPrefix == "" {
		keyPrefix = "missionflow:"
	}
	return &RedisDirectory{client: client, key: keyPrefix + "agents:locations"}
}

// Register publishes agentID's location.
func (d *RedisDirectory) Register(ctx context.Context, agentID, location string) error {
	return d.client.HSet(ctx, d.key, agentID, location).Err()
}

func (d *RedisDirectory) Resolve(ctx context.Context, agentID string) (string, error) {
	loc, err := d.client.HGet(ctx, d.key, agentID).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: %s", ErrAgentUnknown, agentID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve agent %s: %w", agentID, err)
	}
	return loc, nil
}

var (
	_ Directory = (*MemoryDirectory)(nil)
	_ Directory = (*RedisDirectory)(nil)
)
