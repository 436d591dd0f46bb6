// Package collection persists per-map collected/uncollected flags.
//
// The stored payload is a JSON object mapping marker id to boolean under the
// key "collect-map:v1:{mapId}". Reads are lenient (bad entries are dropped,
// a structurally corrupt payload resets the map's state), writes are strict:
// only well-formed id->bool objects are ever written back.
package collection

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/titanmap/tracker/internal/statedb"
	"github.com/titanmap/tracker/pkg/core"
)

const keyPrefix = "collect-map:v1:"

// maxPayloadBytes is the serialized-size cap for one map's collection
// payload. Larger payloads are refused at write time but kept in memory.
const maxPayloadBytes = 5 << 20

// ErrPayloadTooLarge is returned when the serialized collection state
// exceeds maxPayloadBytes.
var ErrPayloadTooLarge = errors.New("collection: serialized payload exceeds size cap")

// Store tracks collected flags for a single map. It is the sole writer of
// its persisted key. Zero is not usable; create with NewStore.
type Store struct {
	mapID string
	db    statedb.Store
	log   *slog.Logger

	mu     sync.Mutex
	loaded bool
	state  map[string]bool
}

// NewStore creates the collection store for one map. Stored state is loaded
// lazily on first access.
func NewStore(mapID string, db statedb.Store, log *slog.Logger) *Store {
	return &Store{
		mapID: mapID,
		db:    db,
		log:   log,
		state: make(map[string]bool),
	}
}

func (s *Store) key() string {
	return keyPrefix + s.mapID
}

// ensureLoaded populates state from storage once. Caller holds s.mu.
func (s *Store) ensureLoaded() {
	if s.loaded {
		return
	}
	s.loaded = true

	data, ok, err := s.db.Get(s.key())
	if err != nil {
		s.log.Warn("Failed to read collection state, starting empty", "map", s.mapID, "error", err)
		return
	}
	if !ok {
		return
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		// Not a JSON object (or JSON null): corrupt. Remove the entry so the
		// next write starts clean.
		s.log.Warn("Corrupt collection state, resetting", "map", s.mapID, "error", err)
		if derr := s.db.Delete(s.key()); derr != nil {
			s.log.Warn("Failed to remove corrupt collection state", "map", s.mapID, "error", derr)
		}
		return
	}

	for id, v := range raw {
		var collected bool
		if !core.ValidMarkerID(id) || json.Unmarshal(v, &collected) != nil {
			s.log.Debug("Dropping invalid collection entry", "map", s.mapID, "id", id)
			continue
		}
		s.state[id] = collected
	}
}

// IsCollected reports whether the marker has been collected. Malformed or
// unknown ids report false.
func (s *Store) IsCollected(markerID string) bool {
	if !core.ValidMarkerID(markerID) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	return s.state[markerID]
}

// ToggleCollection flips the marker's collected flag and persists the
// result. If persistence fails the flip is rolled back, making the call an
// observable no-op. The post-call value is returned either way.
func (s *Store) ToggleCollection(markerID string) bool {
	if !core.ValidMarkerID(markerID) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()

	old, existed := s.state[markerID]
	s.state[markerID] = !old

	if err := s.persistLocked(); err != nil {
		s.log.Warn("Failed to persist collection toggle, rolling back",
			"map", s.mapID, "id", markerID, "error", err)
		if existed {
			s.state[markerID] = old
		} else {
			delete(s.state, markerID)
		}
		return old
	}
	return !old
}

// SetCollected records the flag and persists it, returning whether the
// persist succeeded. Unlike ToggleCollection, the in-memory value keeps the
// requested state even when persistence fails.
func (s *Store) SetCollected(markerID string, collected bool) bool {
	if !core.ValidMarkerID(markerID) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()

	s.state[markerID] = collected

	if err := s.persistLocked(); err != nil {
		s.log.Warn("Failed to persist collection state",
			"map", s.mapID, "id", markerID, "error", err)
		return false
	}
	return true
}

// persistLocked serializes and writes the current state. Caller holds s.mu.
func (s *Store) persistLocked() error {
	data, err := json.Marshal(s.state)
	if err != nil {
		return fmt.Errorf("error serializing collection state for %s: %w", s.mapID, err)
	}
	if len(data) > maxPayloadBytes {
		return ErrPayloadTooLarge
	}

	err = s.db.Set(s.key(), data)
	if errors.Is(err, statedb.ErrQuota) {
		// Clear the stored key so a single oversized write cannot lock the
		// map out of all future writes.
		if derr := s.db.Delete(s.key()); derr != nil {
			s.log.Warn("Failed to clear key after quota failure", "map", s.mapID, "error", derr)
		}
		return err
	}
	return err
}

// Registry hands out one collection store per map id.
type Registry struct {
	db  statedb.Store
	log *slog.Logger

	mu     sync.Mutex
	stores map[string]*Store
}

// NewRegistry creates a registry backed by db.
func NewRegistry(db statedb.Store, log *slog.Logger) *Registry {
	return &Registry{
		db:     db,
		log:    log,
		stores: make(map[string]*Store),
	}
}

// ForMap returns the store for mapID, creating it on first use.
func (r *Registry) ForMap(mapID string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stores[mapID]
	if !ok {
		st = NewStore(mapID, r.db, r.log)
		r.stores[mapID] = st
	}
	return st
}

// IsCollected reports the collected flag for a marker on a given map.
func (r *Registry) IsCollected(mapID, markerID string) bool {
	return r.ForMap(mapID).IsCollected(markerID)
}
