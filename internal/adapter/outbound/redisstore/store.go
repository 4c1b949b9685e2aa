// Package redisstore persists policies in a Redis hash.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sentinel-Gate/accessgate/internal/adapter/outbound/state"
	"github.com/Sentinel-Gate/accessgate/internal/domain/policy"
)

// DefaultKeyPrefix is used when Config.KeyPrefix is empty.
const DefaultKeyPrefix = "accessgate:"

// Config holds the Redis connection settings.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Store implements policy.PolicyRepository with one Redis hash
// (field = policy ID, value = JSON). HSET replaces a field atomically,
// so readers never see a partially written policy.
type Store struct {
	client *redis.Client
	key    string
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewWithClient(client, cfg.KeyPrefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{client: client, key: prefix + "policies"}
}

// Key returns the hash key holding the policies.
func (s *Store) Key() string { return s.key }

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) all(ctx context.Context) ([]policy.Policy, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read policies: %w", err)
	}
	result := make([]policy.Policy, 0, len(fields))
	for id, raw := range fields {
		p, err := decode(id, raw)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, nil
}

// GetEnabledPolicies returns all enabled policies. The hint is ignored.
func (s *Store) GetEnabledPolicies(ctx context.Context, _ policy.ScopeHint) ([]policy.Policy, error) {
	all, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	enabled := all[:0]
	for _, p := range all {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	return enabled, nil
}

// ListPolicies returns every policy ordered by priority.
func (s *Store) ListPolicies(ctx context.Context) ([]policy.Policy, error) {
	all, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	policy.SortByPriority(all)
	return all, nil
}

// GetPolicy returns a policy by ID or policy.ErrPolicyNotFound.
func (s *Store) GetPolicy(ctx context.Context, id string) (*policy.Policy, error) {
	raw, err := s.client.HGet(ctx, s.key, id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, policy.ErrPolicyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}
	p, err := decode(id, raw)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SavePolicy creates or replaces a policy.
func (s *Store) SavePolicy(ctx context.Context, p *policy.Policy) error {
	if p == nil {
		return fmt.Errorf("%w: nil policy", policy.ErrInvalidPolicy)
	}
	data, err := json.Marshal(state.EntryFromPolicy(*p))
	if err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}
	if err := s.client.HSet(ctx, s.key, p.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

// DeletePolicy removes a policy by ID or returns policy.ErrPolicyNotFound.
func (s *Store) DeletePolicy(ctx context.Context, id string) error {
	n, err := s.client.HDel(ctx, s.key, id).Result()
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	if n == 0 {
		return policy.ErrPolicyNotFound
	}
	return nil
}

func decode(id, raw string) (policy.Policy, error) {
	var e state.PolicyEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return policy.Policy{}, fmt.Errorf("decode policy %q: %w", id, err)
	}
	if e.ID == "" {
		e.ID = id
	}
	return e.ToPolicy(), nil
}

var _ policy.PolicyRepository = (*Store)(nil)
