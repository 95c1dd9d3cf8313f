package evc

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/newtron-network/eline/pkg/device"
	"github.com/newtron-network/eline/pkg/util"
)

// Store persists committed circuits.
type Store interface {
	Save(ctx context.Context, e *EVC) error
	Load(ctx context.Context, id string) (*EVC, error)
	List(ctx context.Context) ([]*EVC, error)
	Close() error
}

// MemoryStore keeps circuits in process memory as encoded JSON, so callers
// never share structure with what is stored.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Save implements Store
func (s *MemoryStore) Save(_ context.Context, e *EVC) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding circuit %s: %w", e.CircuitID, err)
	}
	s.mu.Lock()
	s.data[e.CircuitID] = data
	s.mu.Unlock()
	return nil
}

// Load implements Store
func (s *MemoryStore) Load(_ context.Context, id string) (*EVC, error) {
	s.mu.RLock()
	data, ok := s.data[id]
	s.mu.RUnlock()
	if !ok {
		return nil, util.NewNotFoundError("circuit", id)
	}
	return decodeEVC(data)
}

// List implements Store; circuits are ordered by id.
func (s *MemoryStore) List(_ context.Context) ([]*EVC, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*EVC, 0, len(ids))
	for _, id := range ids {
		e, err := decodeEVC(s.data[id])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Close implements Store
func (s *MemoryStore) Close() error { return nil }

// EVCTable is the Redis table holding circuits.
// Key format: EVC|<circuit_id>
const EVCTable = "EVC"

// RedisStore persists circuits as hashes. The data field holds the full
// JSON document; name, uni_a, uni_z and archived are denormalized for
// operators inspecting the database with redis-cli.
type RedisStore struct {
	db *device.Client
}

// NewRedisStore wraps a connected client
func NewRedisStore(db *device.Client) *RedisStore {
	return &RedisStore{db: db}
}

// Save implements Store
func (s *RedisStore) Save(ctx context.Context, e *EVC) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding circuit %s: %w", e.CircuitID, err)
	}
	fields := map[string]string{
		"data":     string(data),
		"name":     e.Name,
		"uni_a":    e.UNIA.InterfaceID,
		"uni_z":    e.UNIZ.InterfaceID,
		"archived": strconv.FormatBool(e.Archived),
	}
	if err := s.db.Set(ctx, EVCTable, e.CircuitID, fields); err != nil {
		return fmt.Errorf("saving circuit %s: %w", e.CircuitID, err)
	}
	return nil
}

// Load implements Store
func (s *RedisStore) Load(ctx context.Context, id string) (*EVC, error) {
	vals, err := s.db.Get(ctx, EVCTable, id)
	if err != nil {
		return nil, fmt.Errorf("loading circuit %s: %w", id, err)
	}
	data, ok := vals["data"]
	if !ok {
		return nil, util.NewNotFoundError("circuit", id)
	}
	return decodeEVC([]byte(data))
}

// List implements Store; entries that fail to decode are logged and skipped.
func (s *RedisStore) List(ctx context.Context) ([]*EVC, error) {
	keys, err := s.db.TableKeys(ctx, EVCTable, "*")
	if err != nil {
		return nil, fmt.Errorf("listing circuits: %w", err)
	}
	sort.Strings(keys)
	out := make([]*EVC, 0, len(keys))
	for _, id := range keys {
		e, err := s.Load(ctx, id)
		if err != nil {
			util.WithCircuit(id).Warnf("skipping stored circuit: %v", err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Close implements Store
func (s *RedisStore) Close() error {
	return s.db.Close()
}

func decodeEVC(data []byte) (*EVC, error) {
	var e EVC
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decoding circuit: %w", err)
	}
	return &e, nil
}
