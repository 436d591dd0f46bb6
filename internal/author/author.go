// Package author appends new markers to the per-map GeoJSON feeds, keeping
// the on-disk convention stable: ids follow {map}-NNN, features stay sorted
// by id, and existing feature bytes are preserved untouched.
package author

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/titanmap/tracker/internal/geo"
	"github.com/titanmap/tracker/pkg/core"
)

// ValidCategories are the marker categories the map frontend knows icons for.
var ValidCategories = []string{"bgm", "card", "chest", "decal", "enemy", "log"}

// ErrDuplicate is wrapped by AddMarker when the new marker collides with an
// existing id, coordinate pair or name.
var ErrDuplicate = errors.New("author: duplicate marker data")

// Author edits the GeoJSON marker files under a data directory.
type Author struct {
	dataDir string
	log     *slog.Logger
}

// New creates an Author for the given markers directory.
func New(dataDir string, log *slog.Logger) *Author {
	return &Author{dataDir: dataDir, log: log}
}

// AddRequest describes one marker to add.
type AddRequest struct {
	MapID       string
	Category    string
	Name        string
	Description string
	X, Y        float64
	// DryRun validates and previews without touching the file.
	DryRun bool
}

// Result reports what AddMarker produced.
type Result struct {
	Marker core.Marker
	Path   string
	// Applied is false for dry runs.
	Applied bool
}

type featureDoc struct {
	Type     string `json:"type"`
	Geometry struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"`
	} `json:"geometry"`
	Properties struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Category    string `json:"category"`
		Description string `json:"description,omitempty"`
	} `json:"properties"`
}

type collectionDoc struct {
	Type     string            `json:"type"`
	Features []json.RawMessage `json:"features"`
}

// AddMarker validates the request, assigns the next free {map}-NNN id and
// appends the marker to the map's GeoJSON file. A missing file is created as
// an empty FeatureCollection first.
func (a *Author) AddMarker(req AddRequest) (*Result, error) {
	if !core.ValidMarkerID(req.MapID) {
		return nil, fmt.Errorf("invalid map id %q", req.MapID)
	}
	if !slices.Contains(ValidCategories, req.Category) {
		return nil, fmt.Errorf("invalid category %q, valid categories: %s",
			req.Category, strings.Join(ValidCategories, ", "))
	}

	pos, err := geo.PixelXY([]float64{req.X, req.Y})
	if err != nil {
		return nil, fmt.Errorf("invalid coordinates (%v, %v): %w", req.X, req.Y, err)
	}

	path := filepath.Join(a.dataDir, req.MapID+".geojson")
	doc, err := a.loadCollection(path)
	if err != nil {
		return nil, err
	}

	ids, coords, names := existingData(doc)
	markerID := nextID(req.MapID, ids)

	marker := core.Marker{
		ID:          markerID,
		Name:        strings.TrimSpace(req.Name),
		Category:    req.Category,
		Position:    pos,
		Description: strings.TrimSpace(req.Description),
	}
	if err := marker.Validate(); err != nil {
		return nil, err
	}

	var conflicts []string
	if ids[markerID] {
		conflicts = append(conflicts, fmt.Sprintf("id %q already exists", markerID))
	}
	if coords[coordKey(req.X, req.Y)] {
		conflicts = append(conflicts, fmt.Sprintf("coordinates (%v, %v) already exist", req.X, req.Y))
	}
	if names[marker.Name] {
		conflicts = append(conflicts, fmt.Sprintf("name %q already exists", marker.Name))
	}
	if len(conflicts) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, strings.Join(conflicts, "; "))
	}

	res := &Result{Marker: marker, Path: path}
	if req.DryRun {
		a.log.Info("Dry run, marker not written", "id", markerID, "path", path)
		return res, nil
	}

	raw, err := encodeFeature(marker)
	if err != nil {
		return nil, err
	}
	doc.Features = append(doc.Features, raw)
	sortFeaturesByID(doc.Features)

	if err := a.saveCollection(path, doc); err != nil {
		return nil, err
	}

	res.Applied = true
	a.log.Info("Marker added", "id", markerID, "map", req.MapID, "path", path)
	return res, nil
}

func (a *Author) loadCollection(path string) (*collectionDoc, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &collectionDoc{Type: "FeatureCollection"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}

	var doc collectionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", path, err)
	}
	if doc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("%s is not a GeoJSON FeatureCollection", path)
	}
	return &doc, nil
}

func (a *Author) saveCollection(path string, doc *collectionDoc) error {
	if doc.Features == nil {
		doc.Features = []json.RawMessage{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding %s: %w", path, err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating markers directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return nil
}

// existingData pulls the ids, integer coordinate pairs and names already in
// the collection. Features it cannot decode contribute nothing.
func existingData(doc *collectionDoc) (ids, coords, names map[string]bool) {
	ids = make(map[string]bool)
	coords = make(map[string]bool)
	names = make(map[string]bool)

	for _, raw := range doc.Features {
		var f featureDoc
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		if f.Properties.ID != "" {
			ids[f.Properties.ID] = true
		}
		if len(f.Geometry.Coordinates) >= 2 {
			coords[coordKey(f.Geometry.Coordinates[0], f.Geometry.Coordinates[1])] = true
		}
		if f.Properties.Name != "" {
			names[f.Properties.Name] = true
		}
	}
	return ids, coords, names
}

func coordKey(x, y float64) string {
	return strconv.Itoa(int(x)) + "," + strconv.Itoa(int(y))
}

// nextID returns {mapID}-NNN one past the highest numeric suffix in use.
func nextID(mapID string, ids map[string]bool) string {
	prefix := mapID + "-"
	max := 0
	for id := range ids {
		suffix, ok := strings.CutPrefix(id, prefix)
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(suffix); err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s%03d", prefix, max+1)
}

func encodeFeature(m core.Marker) (json.RawMessage, error) {
	var f featureDoc
	f.Type = "Feature"
	f.Geometry.Type = "Point"
	f.Geometry.Coordinates = []float64{m.Position.X, m.Position.Y}
	f.Properties.ID = m.ID
	f.Properties.Name = m.Name
	f.Properties.Category = m.Category
	f.Properties.Description = m.Description

	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("error encoding feature: %w", err)
	}
	return raw, nil
}

func sortFeaturesByID(features []json.RawMessage) {
	slices.SortStableFunc(features, func(a, b json.RawMessage) int {
		return strings.Compare(featureID(a), featureID(b))
	})
}

func featureID(raw json.RawMessage) string {
	var f featureDoc
	if err := json.Unmarshal(raw, &f); err != nil {
		return ""
	}
	return f.Properties.ID
}

// batchLine matches: map_id x y category "name" ["description"]
var batchLine = regexp.MustCompile(`^(\w+)\s+(\d+)\s+(\d+)\s+(\w+)\s+"([^"]*)"(?:\s+"([^"]*)")?`)

// BatchOutcome summarizes a batch run.
type BatchOutcome struct {
	Added   []Result
	Skipped int
}

// BatchAdd reads marker lines ("map_id x y category "name" ["description"]"),
// skipping blank lines and #-comments, and adds each marker. A line that
// fails to parse or add is logged and skipped; the batch continues.
func (a *Author) BatchAdd(r io.Reader, dryRun bool) (*BatchOutcome, error) {
	out := &BatchOutcome{}
	scanner := bufio.NewScanner(r)
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		m := batchLine.FindStringSubmatch(line)
		if m == nil {
			a.log.Warn("Could not parse marker line", "line", lineNo)
			out.Skipped++
			continue
		}

		x, _ := strconv.Atoi(m[2])
		y, _ := strconv.Atoi(m[3])
		res, err := a.AddMarker(AddRequest{
			MapID:       m[1],
			Category:    m[4],
			Name:        m[5],
			Description: m[6],
			X:           float64(x),
			Y:           float64(y),
			DryRun:      dryRun,
		})
		if err != nil {
			a.log.Warn("Skipping marker line", "line", lineNo, "error", err)
			out.Skipped++
			continue
		}
		out.Added = append(out.Added, *res)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("error reading batch input: %w", err)
	}
	return out, nil
}
