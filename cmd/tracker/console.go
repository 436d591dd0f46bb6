package main

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"sync"

	"github.com/titanmap/tracker/pkg/core"
)

// consoleLayer is the terminal rendering layer: it tracks the visible marker
// set and prints it on demand instead of drawing a map.
type consoleLayer struct {
	mu      sync.Mutex
	visible map[string]core.Marker
	focused string
	zoom    float64
}

func newConsoleLayer() *consoleLayer {
	return &consoleLayer{visible: make(map[string]core.Marker)}
}

func (l *consoleLayer) EnsureShown(m core.Marker) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visible[m.ID] = m
}

func (l *consoleLayer) EnsureHidden(markerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.visible, markerID)
}

func (l *consoleLayer) RemoveAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visible = make(map[string]core.Marker)
	l.focused = ""
}

func (l *consoleLayer) Focus(markerID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.visible[markerID]; !ok {
		return false
	}
	l.focused = markerID
	return true
}

func (l *consoleLayer) SetZoom(zoom float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.zoom = zoom
}

func (l *consoleLayer) Zoom() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.zoom
}

func (l *consoleLayer) printSummary(mapID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, len(l.visible))
	for id := range l.visible {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Printf("Map %s: %d visible markers\n", mapID, len(ids))
	for _, id := range ids {
		m := l.visible[id]
		cursor := " "
		if id == l.focused {
			cursor = ">"
		}
		fmt.Printf("%s %-14s %-8s %-30s (%.0f, %.0f)\n",
			cursor, m.ID, m.Category, m.Name, m.Position.X, m.Position.Y)
	}
}

// consoleURL stands in for the address bar.
type consoleURL struct {
	mu      sync.Mutex
	current url.Values
}

func (u *consoleURL) Replace(v url.Values) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.current = v
}

func (u *consoleURL) Current() url.Values {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.current == nil {
		return url.Values{}
	}
	return u.current
}

func (u *consoleURL) link() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.current) == 0 {
		return ""
	}
	return "?" + u.current.Encode()
}

type consoleNotifier struct{}

func (consoleNotifier) Notify(message string) {
	fmt.Fprintf(os.Stderr, "Notice: %s\n", message)
}
