package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// ErrRulesNotFound is returned by a Store that holds no rules yet.
var ErrRulesNotFound = errors.New("business rules not found")

// Store is the source of truth the Provider refreshes from.
type Store interface {
	Load(ctx context.Context) (*BusinessRules, error)
	Save(ctx context.Context, r *BusinessRules) error
}

// MemoryStore keeps rules in process.
type MemoryStore struct {
	mu    sync.RWMutex
	rules *BusinessRules
	// Err, when set, is returned from Load.
	Err error
}

// NewMemoryStore seeds a memory store. A nil seed yields an empty store.
func NewMemoryStore(seed *BusinessRules) *MemoryStore {
	return &MemoryStore{rules: seed.Clone()}
}

// Load implements Store.
func (s *MemoryStore) Load(context.Context) (*BusinessRules, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if s.rules == nil {
		return nil, ErrRulesNotFound
	}
	return s.rules.Clone(), nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, r *BusinessRules) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = r.Clone()
	return nil
}

// SetError makes subsequent loads fail with err (nil restores normal loads).
func (s *MemoryStore) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}

// FileStore reads and writes rules as a YAML document.
type FileStore struct {
	Path string
}

// Load implements Store.
func (s FileStore) Load(context.Context) (*BusinessRules, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRulesNotFound, s.Path)
		}
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return DecodeYAML(raw)
}

// Save writes the document to a temporary file and renames it over Path so
// readers never observe a partial write.
func (s FileStore) Save(_ context.Context, r *BusinessRules) error {
	raw, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, ".rules-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp rules file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write rules file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close rules file: %w", err)
	}
	return os.Rename(tmp.Name(), s.Path)
}

// DecodeYAML parses a rules document.
func DecodeYAML(raw []byte) (*BusinessRules, error) {
	var r BusinessRules
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	return &r, nil
}

// DefaultRedisKey holds the shared rules snapshot.
const DefaultRedisKey = "quote:business-rules"

// RedisStore shares one JSON rules document between service instances.
type RedisStore struct {
	Client redis.UniversalClient
	Key    string
}

func (s RedisStore) key() string {
	if s.Key == "" {
		return DefaultRedisKey
	}
	return s.Key
}

// Load implements Store.
func (s RedisStore) Load(ctx context.Context) (*BusinessRules, error) {
	if s.Client == nil {
		return nil, errors.New("rules: redis client not configured")
	}
	raw, err := s.Client.Get(ctx, s.key()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRulesNotFound
		}
		return nil, fmt.Errorf("load rules from redis: %w", err)
	}
	var r BusinessRules
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	return &r, nil
}

// Save implements Store.
func (s RedisStore) Save(ctx context.Context, r *BusinessRules) error {
	if s.Client == nil {
		return errors.New("rules: redis client not configured")
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	return s.Client.Set(ctx, s.key(), raw, 0).Err()
}
