package index

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titanmap/tracker/internal/filter"
	"github.com/titanmap/tracker/internal/statedb"
	"github.com/titanmap/tracker/pkg/core"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeFetcher struct {
	markers map[string][]core.Marker
	errs    map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, mapID string) ([]core.Marker, error) {
	if err := f.errs[mapID]; err != nil {
		return nil, err
	}
	return f.markers[mapID], nil
}

type fixture struct {
	idx       *Index
	filters   *filter.Manager
	collected map[string]bool
	hide      bool
}

func newFixture(t *testing.T, fetcher *fakeFetcher, maxResults int) *fixture {
	t.Helper()

	fx := &fixture{
		filters:   filter.NewManager(statedb.NewMemStore(), testLogger()),
		collected: make(map[string]bool),
	}

	idx, err := New(Dependencies{
		Fetcher: fetcher,
		Filters: fx.filters,
		Collected: func(mapID, markerID string) bool {
			return fx.collected[mapID+"/"+markerID]
		},
		HideCollected: func() bool { return fx.hide },
		Logger:        testLogger(),
		MaxResults:    maxResults,
	})
	require.NoError(t, err)
	fx.idx = idx
	return fx
}

func marker(id, name, category string, items ...string) core.Marker {
	return core.Marker{ID: id, Name: name, Category: category, Items: items}
}

func standardFetcher() *fakeFetcher {
	return &fakeFetcher{
		markers: map[string][]core.Marker{
			"desert": {
				marker("desert-001", "Zeta Decal", "decal"),
				marker("desert-002", "Ancient Chest", "chest", "Credits x500"),
			},
			"forest": {
				marker("forest-001", "Boss Arena", "enemy"),
				marker("forest-002", "Battle Theme", "bgm"),
			},
		},
	}
}

func TestIndex_BuildSortsByName(t *testing.T) {
	fx := newFixture(t, standardFetcher(), 0)
	require.NoError(t, fx.idx.Build(context.Background(), []string{"desert", "forest"}))

	require.Equal(t, 4, fx.idx.Len())

	results := fx.idx.Query("e")
	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.Name
	}
	assert.Equal(t, []string{"Ancient Chest", "Battle Theme", "Boss Arena", "Zeta Decal"}, names)
}

func TestIndex_BuildInitializesFilterCategories(t *testing.T) {
	fx := newFixture(t, standardFetcher(), 0)
	require.False(t, fx.filters.Ready())

	require.NoError(t, fx.idx.Build(context.Background(), []string{"desert", "forest"}))

	assert.True(t, fx.filters.Ready())
	assert.Equal(t, []string{"bgm", "chest", "decal", "enemy"}, fx.filters.Known())
}

func TestIndex_BuildToleratesFailedMap(t *testing.T) {
	fetcher := standardFetcher()
	fetcher.errs = map[string]error{"forest": fmt.Errorf("feed unavailable")}

	fx := newFixture(t, fetcher, 0)
	require.NoError(t, fx.idx.Build(context.Background(), []string{"desert", "forest"}))

	// the failed map contributes zero entries
	assert.Equal(t, 2, fx.idx.Len())
	assert.Equal(t, []string{"chest", "decal"}, fx.filters.Known())
}

func TestIndex_BuildIsOncePerSession(t *testing.T) {
	fx := newFixture(t, standardFetcher(), 0)
	require.NoError(t, fx.idx.Build(context.Background(), []string{"desert", "forest"}))
	require.NoError(t, fx.idx.Build(context.Background(), []string{"desert"}))

	assert.Equal(t, 4, fx.idx.Len())
}

func TestIndex_QueryEmptyReturnsNothing(t *testing.T) {
	fx := newFixture(t, standardFetcher(), 0)
	require.NoError(t, fx.idx.Build(context.Background(), []string{"desert", "forest"}))

	assert.Nil(t, fx.idx.Query(""))
	assert.Nil(t, fx.idx.Query("   "))
}

func TestIndex_QueryMatchesAllFields(t *testing.T) {
	fx := newFixture(t, standardFetcher(), 0)
	require.NoError(t, fx.idx.Build(context.Background(), []string{"desert", "forest"}))

	// name, case-insensitive
	results := fx.idx.Query("ZETA")
	require.Len(t, results, 1)
	assert.Equal(t, "desert-001", results[0].MarkerID)

	// category
	results = fx.idx.Query("bgm")
	require.Len(t, results, 1)
	assert.Equal(t, "forest-002", results[0].MarkerID)

	// item string
	results = fx.idx.Query("credits")
	require.Len(t, results, 1)
	assert.Equal(t, "desert-002", results[0].MarkerID)

	// no match
	assert.Empty(t, fx.idx.Query("nonexistent"))
}

func TestIndex_QueryRespectsCategoryFilter(t *testing.T) {
	fx := newFixture(t, standardFetcher(), 0)
	require.NoError(t, fx.idx.Build(context.Background(), []string{"desert", "forest"}))

	require.True(t, fx.filters.ToggleCategory("decal"))

	results := fx.idx.Query("e")
	for _, r := range results {
		assert.NotEqual(t, "decal", r.Category)
	}
	assert.Len(t, results, 3)
}

func TestIndex_QueryRespectsHideCollected(t *testing.T) {
	fx := newFixture(t, standardFetcher(), 0)
	require.NoError(t, fx.idx.Build(context.Background(), []string{"desert", "forest"}))

	fx.collected["desert/desert-002"] = true

	// preference off: collected markers still appear
	results := fx.idx.Query("chest")
	assert.Len(t, results, 1)

	// preference on: collected markers are excluded
	fx.hide = true
	assert.Empty(t, fx.idx.Query("chest"))
}

func TestIndex_QueryCapsResults(t *testing.T) {
	markers := make([]core.Marker, 10)
	for i := range markers {
		markers[i] = marker(fmt.Sprintf("desert-%03d", i), fmt.Sprintf("Chest %02d", i), "chest")
	}
	fetcher := &fakeFetcher{markers: map[string][]core.Marker{"desert": markers}}

	fx := newFixture(t, fetcher, 3)
	require.NoError(t, fx.idx.Build(context.Background(), []string{"desert"}))

	results := fx.idx.Query("chest")
	require.Len(t, results, 3)
	// cap keeps the name-sorted prefix
	assert.Equal(t, "Chest 00", results[0].Name)
	assert.Equal(t, "Chest 02", results[2].Name)
}
