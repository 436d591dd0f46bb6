package core

// NavigationState is the navigation intent carried by a shareable URL:
// which map, optionally which marker, optionally at what zoom.
// MarkerID is empty when no marker is targeted; Zoom is only meaningful
// when HasZoom is true.
type NavigationState struct {
	MapID    string
	MarkerID string
	Zoom     float64
	HasZoom  bool
}
