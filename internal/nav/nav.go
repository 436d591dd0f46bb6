// Package nav coordinates map switches and deep-link restoration across the
// view, the persisted state store and the shareable URL.
package nav

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/titanmap/tracker/internal/statedb"
	"github.com/titanmap/tracker/internal/urlstate"
	"github.com/titanmap/tracker/internal/view"
	"github.com/titanmap/tracker/pkg/core"
)

const lastMapKey = "last-selected-map:v1"

// URLSink abstracts the address bar: the coordinator replaces the current
// query in place so map switches never pollute history.
type URLSink interface {
	Replace(v url.Values)
	Current() url.Values
}

// Notifier surfaces non-fatal problems to the user, e.g. a deep link whose
// marker no longer exists.
type Notifier interface {
	Notify(message string)
}

// SwitchOptions modify a map switch.
type SwitchOptions struct {
	// FocusMarkerID pans to and opens this marker after the load, when set.
	FocusMarkerID string
	// Zoom is applied after the load when HasZoom is set.
	Zoom    float64
	HasZoom bool
	// ForceVisibility shows the focused marker even when filters hide it.
	ForceVisibility bool
	// SkipURLUpdate leaves the address bar untouched.
	SkipURLUpdate bool
}

// Dependencies holds the collaborators of a Coordinator.
type Dependencies struct {
	View     *view.MapView
	Codec    *urlstate.Codec
	DB       statedb.Store
	URL      URLSink
	Notifier Notifier
	// DefaultMap is shown when neither the URL nor the store names a map.
	DefaultMap string
	Logger     *slog.Logger
}

// Coordinator sequences the steps of a map switch: validate, load, focus,
// persist, publish.
type Coordinator struct {
	deps Dependencies
}

// NewCoordinator creates a navigation coordinator.
func NewCoordinator(deps Dependencies) *Coordinator {
	return &Coordinator{deps: deps}
}

// SwitchToMap switches the view to mapID. An unknown map is rejected before
// any state changes. A failed marker load still completes the switch with an
// empty map, skipping any requested focus. A failed focus notifies the user
// and downgrades the published URL to map-only; a successful focus publishes
// marker and zoom, using the map's current zoom when none was requested.
// Returns view.ErrSuperseded when a newer switch overtook this one; the
// newer switch's outcome stands.
func (c *Coordinator) SwitchToMap(ctx context.Context, mapID string, opts SwitchOptions) error {
	if !c.deps.Codec.KnownMap(mapID) {
		return fmt.Errorf("unknown map %q", mapID)
	}

	loaded := true
	if err := c.deps.View.LoadMarkers(ctx, mapID); err != nil {
		if errors.Is(err, view.ErrSuperseded) {
			return err
		}
		// the view already fell back to an empty marker set
		c.deps.Logger.Warn("Switching with empty marker set", "map", mapID, "error", err)
		loaded = false
	}

	if opts.HasZoom {
		c.deps.View.SetZoom(opts.Zoom)
	}

	focused := false
	if opts.FocusMarkerID != "" && loaded {
		if opts.ForceVisibility {
			c.deps.View.ForceVisible(opts.FocusMarkerID)
		}
		focused = c.deps.View.FocusMarker(opts.FocusMarkerID)
		if !focused {
			c.deps.View.ClearForced()
			c.deps.Logger.Warn("Marker to focus not found", "map", mapID, "marker", opts.FocusMarkerID)
			c.deps.Notifier.Notify(fmt.Sprintf("Marker %s was not found on this map", opts.FocusMarkerID))
		}
	}

	if err := c.deps.DB.Set(lastMapKey, []byte(mapID)); err != nil {
		c.deps.Logger.Warn("Failed to persist last selected map", "map", mapID, "error", err)
	}

	if !opts.SkipURLUpdate {
		st := core.NavigationState{MapID: mapID}
		if focused {
			st.MarkerID = opts.FocusMarkerID
			st.HasZoom = true
			if opts.HasZoom {
				st.Zoom = opts.Zoom
			} else {
				st.Zoom = c.deps.View.Zoom()
			}
		}
		c.deps.URL.Replace(c.deps.Codec.Encode(st))
	}

	c.deps.Logger.Info("Switched map", "map", mapID, "focused", focused)
	return nil
}

// RestoreFromURL boots navigation from the current URL, falling back to the
// last selected map and finally to the default map. Deep-linked markers are
// forced visible so the link works regardless of the viewer's filters.
func (c *Coordinator) RestoreFromURL(ctx context.Context) error {
	st := c.deps.Codec.Decode(c.deps.URL.Current())

	mapID := st.MapID
	if mapID == "" {
		mapID = c.LastSelectedMap()
	}
	if mapID == "" {
		mapID = c.deps.DefaultMap
	}

	return c.SwitchToMap(ctx, mapID, SwitchOptions{
		FocusMarkerID:   st.MarkerID,
		Zoom:            st.Zoom,
		HasZoom:         st.HasZoom,
		ForceVisibility: st.MarkerID != "",
	})
}

// LastSelectedMap returns the persisted last map, or "" when absent,
// unreadable or no longer a known map.
func (c *Coordinator) LastSelectedMap() string {
	raw, ok, err := c.deps.DB.Get(lastMapKey)
	if err != nil {
		c.deps.Logger.Warn("Failed to read last selected map", "error", err)
		return ""
	}
	if !ok {
		return ""
	}
	mapID := string(raw)
	if !c.deps.Codec.KnownMap(mapID) {
		c.deps.Logger.Warn("Persisted last map is not a known map", "map", mapID)
		return ""
	}
	return mapID
}
