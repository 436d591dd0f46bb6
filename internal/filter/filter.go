// Package filter owns the set of active marker categories.
//
// The manager starts uninitialized: the category universe is only known once
// marker data has loaded, so until InitializeCategories is called every
// inclusion query answers true (fail open) and every mutation is a no-op.
package filter

import (
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/titanmap/tracker/internal/statedb"
)

const storageKey = "filter-categories:v1"

type state int

const (
	uninitialized state = iota
	ready
)

// persisted is the stored form: the active selection plus the category
// universe it was made against, so newly observed categories can be told
// apart from ones the user deselected.
type persisted struct {
	Selected []string `json:"selected"`
	Known    []string `json:"known"`
}

// Listener receives the new active selection after every effective change.
type Listener func(selected []string)

// Manager is the single owner of the category filter selection.
type Manager struct {
	db  statedb.Store
	log *slog.Logger

	mu          sync.Mutex
	st          state
	known       []string
	selected    []string
	selectedSet map[string]bool
	subs        map[int]Listener
	nextSub     int
}

// NewManager creates an uninitialized filter manager.
func NewManager(db statedb.Store, log *slog.Logger) *Manager {
	return &Manager{
		db:   db,
		log:  log,
		subs: make(map[int]Listener),
	}
}

// Ready reports whether categories have been initialized.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st == ready
}

// Includes reports whether markers of the category should be shown. Before
// initialization nothing is known about categories, so everything is
// included rather than silently filtering the whole map away.
func (m *Manager) Includes(category string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st != ready {
		return true
	}
	return m.selectedSet[category]
}

// Selected returns a snapshot of the active selection in display order.
func (m *Manager) Selected() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.selected)
}

// Known returns a snapshot of the category universe in display order.
func (m *Manager) Known() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.known)
}

// Subscribe registers a listener for selection changes and returns an
// unsubscribe function.
func (m *Manager) Subscribe(fn Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// InitializeCategories reconciles the observed category universe with any
// stored selection and moves the manager to the ready state. Calling it
// again with the same universe re-derives the same selection and emits
// nothing. Reconciliation: with no valid prior selection every category is
// selected; otherwise the prior selection is restricted to the current
// universe and categories that are newly known default to selected, while
// previously-known deselected ones stay deselected.
func (m *Manager) InitializeCategories(categories []string) {
	m.mu.Lock()

	known := normalize(categories)

	prior, havePrior := m.loadPersisted()
	var selected []string
	if !havePrior {
		selected = slices.Clone(known)
	} else {
		priorKnown := toSet(normalize(prior.Known))
		priorSelected := toSet(normalize(prior.Selected))
		for _, c := range known {
			if priorSelected[c] || !priorKnown[c] {
				selected = append(selected, c)
			}
		}
	}

	changed := m.st != ready ||
		!slices.Equal(known, m.known) ||
		!slices.Equal(selected, m.selected)

	m.st = ready
	m.known = known
	m.applySelectionLocked(selected)

	if !changed {
		m.mu.Unlock()
		return
	}
	m.persistLocked()
	m.emitLocked()
}

// ToggleCategory flips one category's membership in the active selection.
// Returns false without side effects when uninitialized or when the
// category is unknown.
func (m *Manager) ToggleCategory(category string) bool {
	m.mu.Lock()

	category = strings.TrimSpace(category)
	if m.st != ready || !slices.Contains(m.known, category) {
		m.mu.Unlock()
		return false
	}

	var selected []string
	for _, c := range m.known {
		if c == category {
			if !m.selectedSet[c] {
				selected = append(selected, c)
			}
			continue
		}
		if m.selectedSet[c] {
			selected = append(selected, c)
		}
	}

	m.applySelectionLocked(selected)
	m.persistLocked()
	m.emitLocked()
	return true
}

// SelectAll activates every known category. No-op when the selection is
// already full or the manager is uninitialized.
func (m *Manager) SelectAll() bool {
	m.mu.Lock()
	if m.st != ready || slices.Equal(m.selected, m.known) {
		m.mu.Unlock()
		return false
	}
	m.applySelectionLocked(slices.Clone(m.known))
	m.persistLocked()
	m.emitLocked()
	return true
}

// SelectNone clears the active selection. No-op when already empty or the
// manager is uninitialized.
func (m *Manager) SelectNone() bool {
	m.mu.Lock()
	if m.st != ready || len(m.selected) == 0 {
		m.mu.Unlock()
		return false
	}
	m.applySelectionLocked(nil)
	m.persistLocked()
	m.emitLocked()
	return true
}

// applySelectionLocked installs a new active selection. Caller holds m.mu.
func (m *Manager) applySelectionLocked(selected []string) {
	m.selected = selected
	m.selectedSet = toSet(selected)
}

// persistLocked writes {selected, known} best-effort. Caller holds m.mu.
func (m *Manager) persistLocked() {
	data, err := json.Marshal(persisted{
		Selected: emptyNotNil(m.selected),
		Known:    emptyNotNil(m.known),
	})
	if err != nil {
		m.log.Warn("Failed to serialize filter selection", "error", err)
		return
	}
	if err := m.db.Set(storageKey, data); err != nil {
		m.log.Warn("Failed to persist filter selection", "error", err)
	}
}

// emitLocked snapshots listeners and the selection, releases the lock, and
// notifies. Listeners may call back into the manager.
func (m *Manager) emitLocked() {
	listeners := make([]Listener, 0, len(m.subs))
	for _, fn := range m.subs {
		listeners = append(listeners, fn)
	}
	snapshot := slices.Clone(m.selected)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(slices.Clone(snapshot))
	}
}

// loadPersisted reads any stored selection. The legacy plain-array form
// (selection only) is accepted and treated as both selected and known.
// Caller holds m.mu.
func (m *Manager) loadPersisted() (persisted, bool) {
	data, ok, err := m.db.Get(storageKey)
	if err != nil {
		m.log.Warn("Failed to read filter selection", "error", err)
		return persisted{}, false
	}
	if !ok {
		return persisted{}, false
	}

	var p persisted
	if err := json.Unmarshal(data, &p); err == nil && (p.Selected != nil || p.Known != nil) {
		return p, true
	}

	var legacy []string
	if err := json.Unmarshal(data, &legacy); err == nil && legacy != nil {
		return persisted{Selected: legacy, Known: legacy}, true
	}

	m.log.Warn("Corrupt filter selection, resetting")
	if err := m.db.Delete(storageKey); err != nil {
		m.log.Warn("Failed to remove corrupt filter selection", "error", err)
	}
	return persisted{}, false
}

// normalize trims, dedupes, and orders categories case-insensitively with
// an ordinal tie-break, so UI ordering is deterministic.
func normalize(categories []string) []string {
	seen := make(map[string]bool, len(categories))
	out := make([]string, 0, len(categories))
	for _, c := range categories {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := strings.ToLower(out[i]), strings.ToLower(out[j])
		if li != lj {
			return li < lj
		}
		return out[i] < out[j]
	})
	return out
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func emptyNotNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
