// Package view holds the map view state and resolves per-marker visibility.
//
// Visibility is a pure function of four inputs (forced override, category
// selection, hide-collected preference, collected flag); the view recomputes
// it whenever any input changes and pushes idempotent show/hide calls to the
// rendering layer. Marker loads are asynchronous and guarded by a generation
// counter so a newer map switch always wins over a stale in-flight load.
package view

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/titanmap/tracker/internal/collection"
	"github.com/titanmap/tracker/internal/feed"
	"github.com/titanmap/tracker/internal/filter"
	"github.com/titanmap/tracker/pkg/core"

	"go.opentelemetry.io/otel/metric"
)

// ErrSuperseded is returned by LoadMarkers when a newer load started before
// this one resolved. The stale result was discarded; the newer load's
// outcome is authoritative.
var ErrSuperseded = errors.New("view: marker load superseded by a newer load")

// Layer is the rendering collaborator. Show/hide calls are idempotent:
// showing an already-shown marker or hiding an already-hidden one must not
// change layer membership.
type Layer interface {
	EnsureShown(m core.Marker)
	EnsureHidden(markerID string)
	RemoveAll()
	// Focus pans to the marker and opens its detail, reporting whether the
	// marker was present on the layer.
	Focus(markerID string) bool
	SetZoom(zoom float64)
	Zoom() float64
}

// Dependencies holds the collaborators of a MapView.
type Dependencies struct {
	Layer       Layer
	Fetcher     feed.Fetcher
	Filters     *filter.Manager
	Collections *collection.Registry
	// HideCollected reports the current display preference.
	HideCollected func() bool
	Logger        *slog.Logger
}

// MapView tracks the markers of the currently displayed map.
type MapView struct {
	deps Dependencies

	// generation is the load token: each load attempt takes a fresh value
	// and only applies its result while still current.
	generation atomic.Uint64

	mu      sync.Mutex
	mapID   string
	markers map[string]core.Marker
	order   []string
	forced  string // single-slot forced-visible override, "" when unset

	loadsApplied metric.Int64Counter
	loadsStale   metric.Int64Counter
}

// New creates a MapView with no map loaded.
func New(deps Dependencies) (*MapView, error) {
	v := &MapView{
		deps:    deps,
		markers: make(map[string]core.Marker),
	}

	m := meter()
	var err error
	v.loadsApplied, err = m.Int64Counter(
		"view.loads.applied",
		metric.WithDescription("Marker loads whose result was applied"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating loads counter: %w", err)
	}
	v.loadsStale, err = m.Int64Counter(
		"view.loads.stale",
		metric.WithDescription("Marker loads discarded as stale"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stale counter: %w", err)
	}

	return v, nil
}

// Hidden is the per-marker visibility decision. It depends on nothing but
// its inputs.
func Hidden(forced, categorySelected, hideCollected, collected bool) bool {
	return !forced && (!categorySelected || (hideCollected && collected))
}

// LoadMarkers fetches and applies the marker set for mapID. If another load
// starts before this one resolves, the stale result is discarded and
// ErrSuperseded returned. On fetch failure the view falls back to an empty
// marker set for the map so stale markers from a previous map never remain
// visible.
func (v *MapView) LoadMarkers(ctx context.Context, mapID string) error {
	gen := v.generation.Add(1)

	markers, err := v.deps.Fetcher.Fetch(ctx, mapID)

	v.mu.Lock()
	defer v.mu.Unlock()

	if gen != v.generation.Load() {
		v.loadsStale.Add(context.Background(), 1)
		v.deps.Logger.Debug("Discarding stale marker load", "map", mapID)
		return ErrSuperseded
	}

	v.mapID = mapID
	v.markers = make(map[string]core.Marker, len(markers))
	v.order = v.order[:0]
	v.forced = ""
	v.deps.Layer.RemoveAll()

	if err != nil {
		v.deps.Logger.Warn("Marker load failed, showing empty map", "map", mapID, "error", err)
		return fmt.Errorf("error loading markers for %s: %w", mapID, err)
	}

	for _, m := range markers {
		v.markers[m.ID] = m
		v.order = append(v.order, m.ID)
	}
	v.refreshLocked()
	v.loadsApplied.Add(context.Background(), 1)
	v.deps.Logger.Info("Markers loaded", "map", mapID, "count", len(markers))
	return nil
}

// Refresh recomputes visibility for every marker on the current map.
// Recomputing with unchanged inputs is a no-op at the layer.
func (v *MapView) Refresh() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.refreshLocked()
}

// RefreshMarker recomputes visibility for a single marker, e.g. after its
// collection flag changed.
func (v *MapView) RefreshMarker(markerID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if m, ok := v.markers[markerID]; ok {
		v.applyLocked(m)
	}
}

func (v *MapView) refreshLocked() {
	for _, id := range v.order {
		v.applyLocked(v.markers[id])
	}
}

func (v *MapView) applyLocked(m core.Marker) {
	hidden := Hidden(
		v.forced == m.ID,
		v.deps.Filters.Includes(m.Category),
		v.deps.HideCollected(),
		v.deps.Collections.IsCollected(v.mapID, m.ID),
	)
	if hidden {
		v.deps.Layer.EnsureHidden(m.ID)
	} else {
		v.deps.Layer.EnsureShown(m)
	}
}

// ForceVisible marks one marker as always shown regardless of filters,
// clearing any previously forced marker. At most one marker is ever forced.
// Reports whether the marker exists on the current map.
func (v *MapView) ForceVisible(markerID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	prev := v.forced
	v.forced = markerID
	if m, ok := v.markers[prev]; ok && prev != markerID {
		v.applyLocked(m)
	}
	m, ok := v.markers[markerID]
	if ok {
		v.applyLocked(m)
	}
	return ok
}

// ClearForced removes the forced-visibility override.
func (v *MapView) ClearForced() {
	v.mu.Lock()
	defer v.mu.Unlock()

	prev := v.forced
	v.forced = ""
	if m, ok := v.markers[prev]; ok {
		v.applyLocked(m)
	}
}

// FocusMarker pans the layer to the marker, reporting success.
func (v *MapView) FocusMarker(markerID string) bool {
	v.mu.Lock()
	_, ok := v.markers[markerID]
	v.mu.Unlock()
	if !ok {
		return false
	}
	return v.deps.Layer.Focus(markerID)
}

// SetZoom forwards the zoom level to the rendering layer.
func (v *MapView) SetZoom(zoom float64) {
	v.deps.Layer.SetZoom(zoom)
}

// Zoom reports the rendering layer's current zoom level.
func (v *MapView) Zoom() float64 {
	return v.deps.Layer.Zoom()
}

// MapID returns the id of the currently loaded map ("" before any load).
func (v *MapView) MapID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mapID
}

// HasMarker reports whether the marker is present on the current map.
func (v *MapView) HasMarker(markerID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.markers[markerID]
	return ok
}

// MarkerCount returns the number of markers on the current map.
func (v *MapView) MarkerCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.markers)
}
