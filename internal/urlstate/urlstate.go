// Package urlstate encodes navigation state into shareable URL query
// parameters and decodes it back, tolerating tampered or stale links.
package urlstate

import (
	"math"
	"net/url"
	"strconv"

	"github.com/titanmap/tracker/pkg/core"
)

const (
	paramMap    = "map"
	paramMarker = "marker"
	paramZoom   = "zoom"
)

// Codec validates navigation parameters against the set of known maps.
type Codec struct {
	knownMaps map[string]bool
}

// NewCodec creates a codec for the given known map ids.
func NewCodec(mapIDs []string) *Codec {
	known := make(map[string]bool, len(mapIDs))
	for _, id := range mapIDs {
		known[id] = true
	}
	return &Codec{knownMaps: known}
}

// KnownMap reports whether mapID is a known map.
func (c *Codec) KnownMap(mapID string) bool {
	return c.knownMaps[mapID]
}

// Encode renders the navigation state as query parameters. Empty or unknown
// fields are omitted entirely so the URL carries only meaningful intent.
func (c *Codec) Encode(st core.NavigationState) url.Values {
	v := url.Values{}
	if c.knownMaps[st.MapID] {
		v.Set(paramMap, st.MapID)
	}
	if st.MarkerID != "" && core.ValidMarkerID(st.MarkerID) {
		v.Set(paramMarker, st.MarkerID)
	}
	if st.HasZoom && !math.IsNaN(st.Zoom) && !math.IsInf(st.Zoom, 0) {
		v.Set(paramZoom, strconv.FormatFloat(st.Zoom, 'f', -1, 64))
	}
	return v
}

// Decode extracts navigation state from query parameters. Each parameter is
// validated independently; a bad value decodes to "absent" rather than
// failing the whole state, so a tampered link degrades instead of crashing.
func (c *Codec) Decode(v url.Values) core.NavigationState {
	var st core.NavigationState

	if mapID := v.Get(paramMap); c.knownMaps[mapID] {
		st.MapID = mapID
	}
	if markerID := v.Get(paramMarker); core.ValidMarkerID(markerID) {
		st.MarkerID = markerID
	}
	if raw := v.Get(paramZoom); raw != "" {
		if zoom, err := strconv.ParseFloat(raw, 64); err == nil &&
			!math.IsNaN(zoom) && !math.IsInf(zoom, 0) {
			st.Zoom = zoom
			st.HasZoom = true
		}
	}
	return st
}
