package nav

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titanmap/tracker/internal/collection"
	"github.com/titanmap/tracker/internal/filter"
	"github.com/titanmap/tracker/internal/statedb"
	"github.com/titanmap/tracker/internal/urlstate"
	"github.com/titanmap/tracker/internal/view"
	"github.com/titanmap/tracker/pkg/core"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLayer struct {
	mu      sync.Mutex
	visible map[string]core.Marker
	zoom    float64
}

func newFakeLayer() *fakeLayer {
	return &fakeLayer{visible: make(map[string]core.Marker)}
}

func (l *fakeLayer) EnsureShown(m core.Marker) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visible[m.ID] = m
}

func (l *fakeLayer) EnsureHidden(markerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.visible, markerID)
}

func (l *fakeLayer) RemoveAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visible = make(map[string]core.Marker)
}

func (l *fakeLayer) Focus(markerID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.visible[markerID]
	return ok
}

func (l *fakeLayer) SetZoom(zoom float64) { l.zoom = zoom }
func (l *fakeLayer) Zoom() float64        { return l.zoom }

func (l *fakeLayer) shown(markerID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.visible[markerID]
	return ok
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

type fakeURL struct {
	current url.Values
	history []url.Values
}

func (u *fakeURL) Replace(v url.Values) {
	u.current = v
	u.history = append(u.history, v)
}

func (u *fakeURL) Current() url.Values {
	if u.current == nil {
		return url.Values{}
	}
	return u.current
}

type fakeNotifier struct {
	messages []string
}

func (n *fakeNotifier) Notify(message string) {
	n.messages = append(n.messages, message)
}

type fixture struct {
	coord    *Coordinator
	layer    *fakeLayer
	fetcher  *fakeFetcher
	filters  *filter.Manager
	db       *statedb.MemStore
	url      *fakeURL
	notifier *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := statedb.NewMemStore()
	fx := &fixture{
		layer: newFakeLayer(),
		fetcher: &fakeFetcher{
			markers: map[string][]core.Marker{
				"desert": {
					{ID: "desert-001", Name: "Zeta Decal", Category: "decal"},
					{ID: "desert-002", Name: "Ancient Chest", Category: "chest"},
				},
				"forest": {
					{ID: "forest-001", Name: "Boss Arena", Category: "enemy"},
				},
			},
		},
		filters:  filter.NewManager(db, testLogger()),
		db:       db,
		url:      &fakeURL{},
		notifier: &fakeNotifier{},
	}
	fx.filters.InitializeCategories([]string{"decal", "chest", "enemy"})

	v, err := view.New(view.Dependencies{
		Layer:         fx.layer,
		Fetcher:       fx.fetcher,
		Filters:       fx.filters,
		Collections:   collection.NewRegistry(db, testLogger()),
		HideCollected: func() bool { return false },
		Logger:        testLogger(),
	})
	require.NoError(t, err)

	fx.coord = NewCoordinator(Dependencies{
		View:       v,
		Codec:      urlstate.NewCodec([]string{"forest", "desert", "mountains"}),
		DB:         db,
		URL:        fx.url,
		Notifier:   fx.notifier,
		DefaultMap: "forest",
		Logger:     testLogger(),
	})
	return fx
}

func TestSwitchToMap_RejectsUnknownMap(t *testing.T) {
	fx := newFixture(t)

	err := fx.coord.SwitchToMap(context.Background(), "atlantis", SwitchOptions{})
	require.Error(t, err)

	// nothing was touched
	assert.Empty(t, fx.url.history)
	_, ok, err := fx.db.Get("last-selected-map:v1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSwitchToMap_PersistsAndPublishes(t *testing.T) {
	fx := newFixture(t)

	require.NoError(t, fx.coord.SwitchToMap(context.Background(), "desert", SwitchOptions{}))

	raw, ok, err := fx.db.Get("last-selected-map:v1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "desert", string(raw))

	require.Len(t, fx.url.history, 1)
	assert.Equal(t, "desert", fx.url.current.Get("map"))
	assert.Empty(t, fx.url.current.Get("marker"))
}

func TestSwitchToMap_FocusSuccessPublishesMarkerAndZoom(t *testing.T) {
	fx := newFixture(t)

	require.NoError(t, fx.coord.SwitchToMap(context.Background(), "desert", SwitchOptions{
		FocusMarkerID: "desert-002",
		Zoom:          1.5,
		HasZoom:       true,
	}))

	assert.Equal(t, "desert-002", fx.url.current.Get("marker"))
	assert.Equal(t, "1.5", fx.url.current.Get("zoom"))
	assert.Equal(t, 1.5, fx.layer.Zoom())
	assert.Empty(t, fx.notifier.messages)
}

func TestSwitchToMap_FocusWithoutZoomPublishesCurrentZoom(t *testing.T) {
	fx := newFixture(t)
	fx.layer.SetZoom(3)

	require.NoError(t, fx.coord.SwitchToMap(context.Background(), "desert", SwitchOptions{
		FocusMarkerID: "desert-002",
	}))

	// no explicit zoom requested: the map's effective zoom is shared
	assert.Equal(t, "desert-002", fx.url.current.Get("marker"))
	assert.Equal(t, "3", fx.url.current.Get("zoom"))
}

func TestSwitchToMap_FocusFailureNotifiesAndDowngradesURL(t *testing.T) {
	fx := newFixture(t)

	require.NoError(t, fx.coord.SwitchToMap(context.Background(), "desert", SwitchOptions{
		FocusMarkerID: "desert-999",
		Zoom:          2,
		HasZoom:       true,
	}))

	// the switch itself succeeded
	raw, ok, _ := fx.db.Get("last-selected-map:v1")
	require.True(t, ok)
	assert.Equal(t, "desert", string(raw))

	// but the published URL names only the map
	assert.Equal(t, "desert", fx.url.current.Get("map"))
	assert.Empty(t, fx.url.current.Get("marker"))
	assert.Empty(t, fx.url.current.Get("zoom"))

	require.Len(t, fx.notifier.messages, 1)
	assert.Contains(t, fx.notifier.messages[0], "desert-999")
}

func TestSwitchToMap_ForcedVisibilityForFocus(t *testing.T) {
	fx := newFixture(t)

	// hide the decal category, then deep-link to a decal marker
	require.NoError(t, fx.coord.SwitchToMap(context.Background(), "desert", SwitchOptions{}))
	require.True(t, fx.filters.ToggleCategory("decal"))

	require.NoError(t, fx.coord.SwitchToMap(context.Background(), "desert", SwitchOptions{
		FocusMarkerID:   "desert-001",
		ForceVisibility: true,
	}))

	assert.True(t, fx.layer.shown("desert-001"))
}

func TestSwitchToMap_LoadFailureCompletesSwitch(t *testing.T) {
	fx := newFixture(t)
	fx.fetcher.errs = map[string]error{"forest": fmt.Errorf("feed unavailable")}

	require.NoError(t, fx.coord.SwitchToMap(context.Background(), "forest", SwitchOptions{}))

	raw, ok, _ := fx.db.Get("last-selected-map:v1")
	require.True(t, ok)
	assert.Equal(t, "forest", string(raw))
	assert.Equal(t, "forest", fx.url.current.Get("map"))
	assert.False(t, fx.layer.shown("forest-001"))
}

func TestSwitchToMap_LoadFailureSkipsFocus(t *testing.T) {
	fx := newFixture(t)
	fx.fetcher.errs = map[string]error{"forest": fmt.Errorf("feed unavailable")}

	require.NoError(t, fx.coord.SwitchToMap(context.Background(), "forest", SwitchOptions{
		FocusMarkerID:   "forest-001",
		ForceVisibility: true,
	}))

	// with no markers loaded there is nothing to focus; the user is not
	// told the marker is missing on top of the load failure
	assert.Empty(t, fx.notifier.messages)
	assert.Equal(t, "forest", fx.url.current.Get("map"))
	assert.Empty(t, fx.url.current.Get("marker"))
}

func TestSwitchToMap_SkipURLUpdate(t *testing.T) {
	fx := newFixture(t)

	require.NoError(t, fx.coord.SwitchToMap(context.Background(), "desert", SwitchOptions{SkipURLUpdate: true}))
	assert.Empty(t, fx.url.history)
}

func TestRestoreFromURL_DeepLink(t *testing.T) {
	fx := newFixture(t)
	require.True(t, fx.filters.ToggleCategory("chest"))

	fx.url.current = url.Values{
		"map":    {"desert"},
		"marker": {"desert-002"},
		"zoom":   {"2.5"},
	}

	require.NoError(t, fx.coord.RestoreFromURL(context.Background()))

	// the deep-linked marker is shown despite its category being deselected,
	// and following the link does not re-select the category
	assert.True(t, fx.layer.shown("desert-002"))
	assert.Equal(t, 2.5, fx.layer.Zoom())
	assert.NotContains(t, fx.filters.Selected(), "chest")
}

func TestRestoreFromURL_FallsBackToLastMap(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.db.Set("last-selected-map:v1", []byte("desert")))

	require.NoError(t, fx.coord.RestoreFromURL(context.Background()))
	assert.Equal(t, "desert", fx.url.current.Get("map"))
}

func TestRestoreFromURL_FallsBackToDefault(t *testing.T) {
	fx := newFixture(t)

	require.NoError(t, fx.coord.RestoreFromURL(context.Background()))
	assert.Equal(t, "forest", fx.url.current.Get("map"))
}

func TestLastSelectedMap_IgnoresUnknown(t *testing.T) {
	fx := newFixture(t)

	assert.Empty(t, fx.coord.LastSelectedMap())

	require.NoError(t, fx.db.Set("last-selected-map:v1", []byte("atlantis")))
	assert.Empty(t, fx.coord.LastSelectedMap())

	require.NoError(t, fx.db.Set("last-selected-map:v1", []byte("mountains")))
	assert.Equal(t, "mountains", fx.coord.LastSelectedMap())
}
