// Package index builds the cross-map marker search index and answers
// filtered text queries.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/titanmap/tracker/internal/feed"
	"github.com/titanmap/tracker/internal/filter"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// DefaultMaxResults bounds query output so UI cost stays fixed regardless
// of dataset size.
const DefaultMaxResults = 100

// Entry is one searchable marker, flattened across maps.
type Entry struct {
	MapID       string
	MarkerID    string
	Name        string
	Category    string
	Description string
	Items       []string

	// lower-cased search keys, derived once at build time
	nameKey     string
	categoryKey string
	descKey     string
	itemKeys    []string
}

// Dependencies holds everything the index needs from the rest of the engine.
type Dependencies struct {
	Fetcher feed.Fetcher
	Filters *filter.Manager
	// Collected reports the collection flag for a marker on a map.
	Collected func(mapID, markerID string) bool
	// HideCollected reports the current display preference.
	HideCollected func() bool
	Logger        *slog.Logger
	MaxResults    int
}

// Index is the in-memory search index over all maps' markers. Build it once
// per session; queries are read-only afterwards.
type Index struct {
	deps Dependencies

	mu      sync.RWMutex
	built   bool
	entries []Entry

	queries metric.Int64Counter
}

// New creates an unbuilt index.
func New(deps Dependencies) (*Index, error) {
	if deps.MaxResults <= 0 {
		deps.MaxResults = DefaultMaxResults
	}

	idx := &Index{deps: deps}

	var err error
	idx.queries, err = meter().Int64Counter(
		"index.queries",
		metric.WithDescription("Total search queries answered"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating query counter: %w", err)
	}

	return idx, nil
}

// Build fetches every map's markers in parallel and finalizes the index.
// A map whose feed fails to load contributes zero entries and logs a
// warning; the index still builds. Observed categories are handed to the
// filter manager in first-seen order. Build is once per session; repeat
// calls are no-ops.
func (idx *Index) Build(ctx context.Context, mapIDs []string) error {
	idx.mu.Lock()
	if idx.built {
		idx.mu.Unlock()
		return nil
	}
	idx.built = true
	idx.mu.Unlock()

	results := make([][]Entry, len(mapIDs))

	g, ctx := errgroup.WithContext(ctx)
	for i, mapID := range mapIDs {
		g.Go(func() error {
			markers, err := idx.deps.Fetcher.Fetch(ctx, mapID)
			if err != nil {
				// tolerated: the map contributes nothing
				idx.deps.Logger.Warn("Skipping map in search index", "map", mapID, "error", err)
				return nil
			}
			entries := make([]Entry, 0, len(markers))
			for _, m := range markers {
				entries = append(entries, newEntry(mapID, m.ID, m.Name, m.Category, m.Description, m.Items))
			}
			results[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var entries []Entry
	var categories []string
	seenCategory := make(map[string]bool)
	for _, batch := range results {
		for _, e := range batch {
			if !seenCategory[e.Category] {
				seenCategory[e.Category] = true
				categories = append(categories, e.Category)
			}
			entries = append(entries, e)
		}
	}

	// locale-aware name ordering, stable so equal names keep feed order
	coll := collate.New(language.English, collate.IgnoreCase)
	sort.SliceStable(entries, func(i, j int) bool {
		if c := coll.CompareString(entries[i].Name, entries[j].Name); c != 0 {
			return c < 0
		}
		return entries[i].Name < entries[j].Name
	})

	idx.mu.Lock()
	idx.entries = entries
	idx.mu.Unlock()

	idx.deps.Logger.Info("Search index built",
		"entries", len(entries), "categories", len(categories), "maps", len(mapIDs))

	idx.deps.Filters.InitializeCategories(categories)
	return nil
}

// Len returns the number of indexed entries.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Query answers a text search. The empty query returns nothing (search is
// opt-in, not a browse-all). Matches are substring matches against name,
// category, description, or any item string, filtered by the active
// category selection and the hide-collected preference, capped at
// MaxResults, in index (name-sorted) order.
func (idx *Index) Query(q string) []Entry {
	idx.queries.Add(context.Background(), 1)

	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return nil
	}

	hideCollected := idx.deps.HideCollected()

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []Entry
	for _, e := range idx.entries {
		if !e.matches(q) {
			continue
		}
		if !idx.deps.Filters.Includes(e.Category) {
			continue
		}
		if hideCollected && idx.deps.Collected(e.MapID, e.MarkerID) {
			continue
		}
		out = append(out, e)
		if len(out) >= idx.deps.MaxResults {
			break
		}
	}
	return out
}

func (e *Entry) matches(q string) bool {
	if strings.Contains(e.nameKey, q) ||
		strings.Contains(e.categoryKey, q) ||
		strings.Contains(e.descKey, q) {
		return true
	}
	for _, k := range e.itemKeys {
		if strings.Contains(k, q) {
			return true
		}
	}
	return false
}

func newEntry(mapID, markerID, name, category, description string, items []string) Entry {
	itemKeys := make([]string, len(items))
	for i, it := range items {
		itemKeys[i] = strings.ToLower(it)
	}
	return Entry{
		MapID:       mapID,
		MarkerID:    markerID,
		Name:        name,
		Category:    category,
		Description: description,
		Items:       items,
		nameKey:     strings.ToLower(name),
		categoryKey: strings.ToLower(category),
		descKey:     strings.ToLower(description),
		itemKeys:    itemKeys,
	}
}
