package core

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	geom "github.com/peterstace/simplefeatures/geom"
)

// CoordMax is the upper bound (inclusive) for marker pixel coordinates on
// both axes. Map images are authored on a 2000x2000 pixel grid.
const CoordMax = 2000.0

// markerIDPattern matches valid marker identifiers, e.g. "desert-054".
var markerIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)

// ValidMarkerID reports whether s is a well-formed marker identifier.
func ValidMarkerID(s string) bool {
	return markerIDPattern.MatchString(s)
}

// Marker is a single collectible point of interest on a map. Markers are
// immutable once loaded; anything that fails Validate never enters the
// data model.
type Marker struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Position    geom.XY  `json:"-"`
	Description string   `json:"description,omitempty"`
	Items       []string `json:"items,omitempty"`
}

// Validate checks the marker against the data-model constraints.
func (m Marker) Validate() error {
	if !ValidMarkerID(m.ID) {
		return fmt.Errorf("invalid marker id %q", m.ID)
	}
	if n := utf8.RuneCountInString(m.Name); n < 1 || n > 100 {
		return fmt.Errorf("marker %s: name length %d out of range [1,100]", m.ID, n)
	}
	if containsMarkup(m.Name) {
		return fmt.Errorf("marker %s: name contains markup", m.ID)
	}
	if m.Category == "" {
		return fmt.Errorf("marker %s: missing category", m.ID)
	}
	if n := utf8.RuneCountInString(m.Description); n > 500 {
		return fmt.Errorf("marker %s: description length %d exceeds 500", m.ID, n)
	}
	if containsMarkup(m.Description) {
		return fmt.Errorf("marker %s: description contains markup", m.ID)
	}
	if !inBounds(m.Position.X) || !inBounds(m.Position.Y) {
		return fmt.Errorf("marker %s: coordinates (%v, %v) out of bounds [0,%v]",
			m.ID, m.Position.X, m.Position.Y, CoordMax)
	}
	return nil
}

func inBounds(v float64) bool {
	return v >= 0 && v <= CoordMax
}

func containsMarkup(s string) bool {
	return strings.ContainsAny(s, "<>")
}

// MapInfo describes one known map.
type MapInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
