package cache

import (
	"context"
	"strings"
	"time"

	"github.com/viccon/sturdyc"
)

// MemoryConfig sizes the in-process store.
type MemoryConfig struct {
	// Capacity is the maximum number of entries. Default 10000.
	Capacity int
	// NumShards spreads entries over independently locked shards. Default 64.
	NumShards int
	// TTL applies to every entry and must be positive.
	TTL time.Duration
	// EvictionPercentage of entries dropped when the store is full, 1-100.
	// Default 10.
	EvictionPercentage int
}

// ConfigError names the invalid field of a store configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "cache: invalid " + e.Field + ": " + e.Message
}

func (c MemoryConfig) withDefaults() MemoryConfig {
	if c.Capacity == 0 {
		c.Capacity = 10000
	}
	if c.NumShards == 0 {
		c.NumShards = 64
	}
	if c.EvictionPercentage == 0 {
		c.EvictionPercentage = 10
	}
	return c
}

func (c MemoryConfig) Validate() error {
	switch {
	case c.Capacity <= 0:
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	case c.NumShards <= 0:
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	case c.TTL <= 0:
		return &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	case c.EvictionPercentage < 1 || c.EvictionPercentage > 100:
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}
	return nil
}

// MemoryStore keeps entries in a sharded sturdyc client.
type MemoryStore struct {
	client *sturdyc.Client[[]byte]
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(cfg MemoryConfig) (*MemoryStore, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := sturdyc.New[[]byte](cfg.Capacity, cfg.NumShards, cfg.TTL, cfg.EvictionPercentage)
	return &MemoryStore{client: client}, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.client.Get(key)
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.client.Set(key, value)
	return nil
}

func (s *MemoryStore) DeletePrefix(_ context.Context, prefix string) (int, error) {
	n := 0
	for _, key := range s.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			s.client.Delete(key)
			n++
		}
	}
	return n, nil
}
