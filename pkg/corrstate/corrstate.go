// Package corrstate gives Tier 3 a shared, cross-instance view of recent
// anomalies per entity so correlation can span detector instances instead of
// only the batch currently in memory. A Store records each anomaly against
// its entity key (source IP) and answers "what else happened near this
// entity recently," with state expiring on its own TTL.
package corrstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/activecm/flowguard/pkg/flow"
)

// ErrNotFound is returned by Get when no state is recorded for an entity.
var ErrNotFound = errors.New("corrstate: no state for entity")

// ErrUnsupportedSchema is returned when a stored entity state was written by
// a schema version this build doesn't know how to read.
var ErrUnsupportedSchema = errors.New("corrstate: unsupported entity state schema version")

// EntitySchemaVersion is stamped on every EntityState this build writes, so
// a future format change can be detected on read instead of silently
// misinterpreting old data.
const EntitySchemaVersion = 1

// Entry is one recorded anomaly sighting, kept in an entity's history.
type Entry struct {
	AnomalyID  string    `json:"anomaly_id"`
	Kind       flow.Kind `json:"kind"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	SrcAddr    string    `json:"src_addr"`
	DstAddr    string    `json:"dst_addr"`
	DstPort    uint16    `json:"dst_port"`
}

// EntityState is the correlation history tracked for one entity key.
type EntityState struct {
	SchemaVersion int            `json:"schema_version"`
	EntityKey     string         `json:"entity_key"`
	History       []Entry        `json:"anomaly_history"`
	Context       map[string]any `json:"correlation_context"`
	LastUpdated   time.Time      `json:"last_updated"`
}

// RelatedEntity is another entity with anomalies recent enough to matter for
// correlating against the queried entity.
type RelatedEntity struct {
	EntityKey string
	Recent    []Entry
	Context   map[string]any
}

// Store is the correlation-state contract Tier 3 correlates against. All
// methods must be safe for concurrent use.
type Store interface {
	// Update appends entry to entityKey's history, bumping its TTL, merging
	// correlationContext into the entity's stored context.
	Update(ctx context.Context, entityKey string, entry Entry, correlationContext map[string]any) error

	// Get returns the current state for entityKey, or ErrNotFound.
	Get(ctx context.Context, entityKey string) (EntityState, error)

	// Related returns every other entity with history inside window of now,
	// optionally filtered to kinds (nil/empty means no filter).
	Related(ctx context.Context, entityKey string, window time.Duration, kinds map[flow.Kind]struct{}, now time.Time) ([]RelatedEntity, error)

	// Cleanup evicts state older than its TTL and reports how many entities
	// were removed. Safe to call frequently; implementations may no-op
	// between their own cleanup intervals.
	Cleanup(ctx context.Context, now time.Time) (int, error)

	// Close releases any held connections.
	Close() error
}

const (
	// DefaultTTL mirrors the 30 minute correlation-state TTL.
	DefaultTTL = 30 * time.Minute
	// DefaultMaxHistory caps anomaly_history length per entity.
	DefaultMaxHistory = 100
	// DefaultCleanupInterval gates how often Cleanup actually scans.
	DefaultCleanupInterval = 5 * time.Minute

	entityKeyPrefix = "correlation:entity:"
)

func trimHistory(history []Entry, max int) []Entry {
	if len(history) <= max {
		return history
	}
	return history[len(history)-max:]
}

func mergeContext(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// RedisStore is a Store backed by Redis (or a Redis-compatible server, e.g.
// an ElastiCache replication group), matching the key layout and TTL
// semantics of the cache-backed correlation state store: per-entity keys
// under a fixed prefix, each value a JSON-encoded EntityState, with TTL
// refreshed on every Update.
type RedisStore struct {
	client          *redis.Client
	ttl             time.Duration
	maxHistory      int
	cleanupInterval time.Duration

	mu          sync.Mutex
	lastCleanup time.Time
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) RedisOption { return func(s *RedisStore) { s.ttl = d } }

// WithMaxHistory overrides DefaultMaxHistory.
func WithMaxHistory(n int) RedisOption { return func(s *RedisStore) { s.maxHistory = n } }

// WithCleanupInterval overrides DefaultCleanupInterval.
func WithCleanupInterval(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.cleanupInterval = d }
}

// NewRedisStore wraps an existing *redis.Client. The caller owns the
// client's lifecycle except that Close closes it too.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:          client,
		ttl:             DefaultTTL,
		maxHistory:      DefaultMaxHistory,
		cleanupInterval: DefaultCleanupInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func entityKey(entityKey string) string {
	return entityKeyPrefix + entityKey
}

func (s *RedisStore) Update(ctx context.Context, key string, entry Entry, correlationContext map[string]any) error {
	state, err := s.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		state = EntityState{EntityKey: key, Context: map[string]any{}}
	}

	state.SchemaVersion = EntitySchemaVersion
	state.History = append(state.History, entry)
	state.History = trimHistory(state.History, s.maxHistory)
	state.Context = mergeContext(state.Context, correlationContext)
	state.LastUpdated = entry.Timestamp

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("corrstate: marshal entity state: %w", err)
	}
	return s.client.Set(ctx, entityKey(key), data, s.ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (EntityState, error) {
	data, err := s.client.Get(ctx, entityKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return EntityState{}, ErrNotFound
	}
	if err != nil {
		return EntityState{}, fmt.Errorf("corrstate: get entity state: %w", err)
	}
	var state EntityState
	if err := json.Unmarshal(data, &state); err != nil {
		return EntityState{}, fmt.Errorf("corrstate: unmarshal entity state: %w", err)
	}
	if state.SchemaVersion != 0 && state.SchemaVersion != EntitySchemaVersion {
		return EntityState{}, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedSchema, state.SchemaVersion, EntitySchemaVersion)
	}
	return state, nil
}

func (s *RedisStore) Related(ctx context.Context, key string, window time.Duration, kinds map[flow.Kind]struct{}, now time.Time) ([]RelatedEntity, error) {
	keys, err := s.client.Keys(ctx, entityKeyPrefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("corrstate: scan entity keys: %w", err)
	}

	skip := entityKey(key)
	var related []RelatedEntity
	for _, k := range keys {
		if k == skip {
			continue
		}
		data, err := s.client.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			continue
		}
		var state EntityState
		if err := json.Unmarshal(data, &state); err != nil {
			continue
		}
		if state.SchemaVersion != 0 && state.SchemaVersion != EntitySchemaVersion {
			continue
		}

		var recent []Entry
		for _, e := range state.History {
			if now.Sub(e.Timestamp) > window {
				continue
			}
			if len(kinds) > 0 {
				if _, ok := kinds[e.Kind]; !ok {
					continue
				}
			}
			recent = append(recent, e)
		}
		if len(recent) > 0 {
			related = append(related, RelatedEntity{EntityKey: state.EntityKey, Recent: recent, Context: state.Context})
		}
	}

	sort.Slice(related, func(i, j int) bool { return related[i].EntityKey < related[j].EntityKey })
	return related, nil
}

func (s *RedisStore) Cleanup(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	if now.Sub(s.lastCleanup) < s.cleanupInterval {
		s.mu.Unlock()
		return 0, nil
	}
	s.lastCleanup = now
	s.mu.Unlock()

	// Redis expires keys on its own TTL; this walks entries whose TTL was
	// lost (e.g. migrated without one) and removes anything stale relative
	// to LastUpdated.
	keys, err := s.client.Keys(ctx, entityKeyPrefix+"*").Result()
	if err != nil {
		return 0, fmt.Errorf("corrstate: scan entity keys: %w", err)
	}

	cleaned := 0
	for _, k := range keys {
		ttl, err := s.client.TTL(ctx, k).Result()
		if err != nil || ttl != -1 {
			continue
		}
		data, err := s.client.Get(ctx, k).Bytes()
		if err != nil {
			continue
		}
		var state EntityState
		if err := json.Unmarshal(data, &state); err != nil {
			continue
		}
		if now.Sub(state.LastUpdated) > s.ttl {
			s.client.Del(ctx, k)
			cleaned++
		}
	}
	return cleaned, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

// MemoryStore is an in-process Store for single-instance deployments and
// tests. It has the same TTL/history semantics as RedisStore.
type MemoryStore struct {
	ttl             time.Duration
	maxHistory      int
	cleanupInterval time.Duration

	mu          sync.Mutex
	states      map[string]EntityState
	lastCleanup time.Time
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore(opts ...RedisOption) *MemoryStore {
	// reuse RedisOption's shape via a throwaway RedisStore to keep the
	// option functions shared between both implementations.
	tmp := &RedisStore{ttl: DefaultTTL, maxHistory: DefaultMaxHistory, cleanupInterval: DefaultCleanupInterval}
	for _, opt := range opts {
		opt(tmp)
	}
	return &MemoryStore{
		ttl:             tmp.ttl,
		maxHistory:      tmp.maxHistory,
		cleanupInterval: tmp.cleanupInterval,
		states:          make(map[string]EntityState),
	}
}

func (s *MemoryStore) Update(_ context.Context, key string, entry Entry, correlationContext map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[key]
	if !ok {
		state = EntityState{EntityKey: key, Context: map[string]any{}}
	}
	state.SchemaVersion = EntitySchemaVersion
	state.History = append(state.History, entry)
	state.History = trimHistory(state.History, s.maxHistory)
	state.Context = mergeContext(state.Context, correlationContext)
	state.LastUpdated = entry.Timestamp
	s.states[key] = state
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (EntityState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[key]
	if !ok {
		return EntityState{}, ErrNotFound
	}
	return state, nil
}

func (s *MemoryStore) Related(_ context.Context, key string, window time.Duration, kinds map[flow.Kind]struct{}, now time.Time) ([]RelatedEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var related []RelatedEntity
	for k, state := range s.states {
		if k == key {
			continue
		}
		var recent []Entry
		for _, e := range state.History {
			if now.Sub(e.Timestamp) > window {
				continue
			}
			if len(kinds) > 0 {
				if _, ok := kinds[e.Kind]; !ok {
					continue
				}
			}
			recent = append(recent, e)
		}
		if len(recent) > 0 {
			related = append(related, RelatedEntity{EntityKey: state.EntityKey, Recent: recent, Context: state.Context})
		}
	}

	sort.Slice(related, func(i, j int) bool { return related[i].EntityKey < related[j].EntityKey })
	return related, nil
}

func (s *MemoryStore) Cleanup(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastCleanup) < s.cleanupInterval {
		return 0, nil
	}
	s.lastCleanup = now

	cleaned := 0
	for k, state := range s.states {
		if now.Sub(state.LastUpdated) > s.ttl {
			delete(s.states, k)
			cleaned++
		}
	}
	return cleaned, nil
}

func (s *MemoryStore) Close() error { return nil }
