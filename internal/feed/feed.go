// Package feed loads and validates per-map marker data. Each map's markers
// are published as a GeoJSON FeatureCollection of point features; validation
// runs on every load, and a bad feature drops only itself.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/titanmap/tracker/internal/geo"
	"github.com/titanmap/tracker/pkg/core"

	json "github.com/goccy/go-json"
)

// Fetcher loads the marker set for one map. Implementations must treat a
// structurally invalid feed as a total load failure for that map.
type Fetcher interface {
	Fetch(ctx context.Context, mapID string) ([]core.Marker, error)
}

type featureCollection struct {
	Type     string            `json:"type"`
	Features []json.RawMessage `json:"features"`
}

type feature struct {
	Type     string `json:"type"`
	Geometry struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"`
	} `json:"geometry"`
	Properties struct {
		ID          string   `json:"id"`
		Name        string   `json:"name"`
		Category    string   `json:"category"`
		Description string   `json:"description"`
		Items       []string `json:"items"`
	} `json:"properties"`
}

// ParseCollection decodes a FeatureCollection payload into validated markers.
// Individual features that fail validation are dropped with a warning; a
// payload that is not a FeatureCollection fails as a whole.
func ParseCollection(data []byte, mapID string, log *slog.Logger) ([]core.Marker, error) {
	var fc featureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("error unmarshalling marker feed for %s: %w", mapID, err)
	}
	if fc.Type != "FeatureCollection" || fc.Features == nil {
		return nil, fmt.Errorf("marker feed for %s is not a FeatureCollection", mapID)
	}

	markers := make([]core.Marker, 0, len(fc.Features))
	seen := make(map[string]bool, len(fc.Features))

	for i, raw := range fc.Features {
		var f feature
		if err := json.Unmarshal(raw, &f); err != nil {
			log.Warn("Dropping undecodable feature", "map", mapID, "index", i, "error", err)
			continue
		}
		if f.Type != "Feature" || f.Geometry.Type != "Point" {
			log.Warn("Dropping non-point feature", "map", mapID, "index", i)
			continue
		}

		xy, err := geo.PixelXY(f.Geometry.Coordinates)
		if err != nil {
			log.Warn("Dropping feature with bad coordinates", "map", mapID, "index", i, "error", err)
			continue
		}

		m := core.Marker{
			ID:          f.Properties.ID,
			Name:        f.Properties.Name,
			Category:    f.Properties.Category,
			Position:    xy,
			Description: f.Properties.Description,
			Items:       f.Properties.Items,
		}
		if err := m.Validate(); err != nil {
			log.Warn("Dropping invalid feature", "map", mapID, "index", i, "error", err)
			continue
		}
		if seen[m.ID] {
			log.Warn("Dropping feature with duplicate id", "map", mapID, "id", m.ID)
			continue
		}
		seen[m.ID] = true
		markers = append(markers, m)
	}

	return markers, nil
}

// FileFetcher reads marker feeds from {dataDir}/{mapID}.geojson.
type FileFetcher struct {
	dataDir string
	log     *slog.Logger
}

// NewFileFetcher creates a fetcher rooted at dataDir.
func NewFileFetcher(dataDir string, log *slog.Logger) *FileFetcher {
	return &FileFetcher{dataDir: dataDir, log: log}
}

// Fetch loads and validates the feed for mapID.
func (f *FileFetcher) Fetch(ctx context.Context, mapID string) ([]core.Marker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !core.ValidMarkerID(mapID) {
		return nil, fmt.Errorf("invalid map id %q", mapID)
	}

	path := filepath.Join(f.dataDir, mapID+".geojson")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading marker feed for %s: %w", mapID, err)
	}
	return ParseCollection(data, mapID, f.log)
}
