// Package mapsync translates the reconciled agent set into minimal marker
// operations against a map widget, and decides viewport framing.
package mapsync

import (
	"fmt"
	"math"
	"sync"

	"github.com/fieldtrack/tracker/internal/model"
)

const (
	ColorOnline  = "green"
	ColorOffline = "red"

	// SingleMarkerZoom frames a lone agent up close.
	SingleMarkerZoom = 15
	// MaxFitZoom caps fit-to-bounds so tightly clustered markers do not
	// over-zoom the viewport.
	MaxFitZoom = 16
)

// Marker is one rendered agent position. Coordinates are pre-rounded to
// 5 decimal places (~1.1m) so GPS jitter below meaningful resolution does
// not churn the widget.
type Marker struct {
	AgentID   string  `json:"agentId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Color     string  `json:"color"`
	Tooltip   string  `json:"tooltip"`
}

// Bounds is the bounding box of a marker set.
type Bounds struct {
	MinLat float64 `json:"minLat"`
	MinLng float64 `json:"minLng"`
	MaxLat float64 `json:"maxLat"`
	MaxLng float64 `json:"maxLng"`
}

// Widget is the map-rendering collaborator. Markers are updated in place,
// never destroyed and recreated, so open popups survive position changes.
type Widget interface {
	// Ready reports whether the widget can accept operations. Sync cycles
	// against an unready widget are skipped.
	Ready() bool
	CreateMarker(m Marker)
	UpdateMarker(m Marker)
	RemoveMarker(agentID string)
	FitBounds(b Bounds, maxZoom int)
	SetView(lat, lng float64, zoom int)
}

// Synchronizer diffs reconciled presence against the markers it has
// already drawn. Framing is either overview (fit all markers) or focus
// (center one agent); the mode is selected by the caller, never inferred.
type Synchronizer struct {
	widget Widget

	mu           sync.Mutex
	known        map[string]Marker
	focus        string
	lastFocusPos *model.Position
}

func NewSynchronizer(w Widget) *Synchronizer {
	return &Synchronizer{
		widget: w,
		known:  make(map[string]Marker),
	}
}

// SetFocus switches to detail framing on one agent. Overview fitting is
// suppressed until ClearFocus.
func (s *Synchronizer) SetFocus(agentID string) {
	s.mu.Lock()
	s.focus = agentID
	s.lastFocusPos = nil
	s.mu.Unlock()
}

// ClearFocus returns to overview framing.
func (s *Synchronizer) ClearFocus() {
	s.mu.Lock()
	s.focus = ""
	s.lastFocusPos = nil
	s.mu.Unlock()
}

// Sync applies create/update marker operations for every agent with a
// known position, then frames the viewport. Agents without a position are
// skipped; markers are never removed here (no eviction).
func (s *Synchronizer) Sync(agents []model.AgentPresence) {
	if s.widget == nil || !s.widget.Ready() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, a := range agents {
		if a.Position == nil {
			continue
		}
		m := markerFor(a)
		prev, exists := s.known[a.AgentID]
		if exists && prev == m {
			continue
		}
		s.known[a.AgentID] = m
		if exists {
			s.widget.UpdateMarker(m)
		} else {
			s.widget.CreateMarker(m)
		}
		changed = true
	}

	if s.focus != "" {
		s.frameFocus(agents)
		return
	}
	if changed {
		s.frameOverview()
	}
}

// Markers returns a copy of the currently drawn markers, for replaying
// state to late-joining widget clients.
func (s *Synchronizer) Markers() []Marker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Marker, 0, len(s.known))
	for _, m := range s.known {
		out = append(out, m)
	}
	return out
}

func (s *Synchronizer) frameFocus(agents []model.AgentPresence) {
	for _, a := range agents {
		if a.AgentID != s.focus || a.Position == nil {
			continue
		}
		if s.lastFocusPos != nil && *s.lastFocusPos == *a.Position {
			return
		}
		pos := *a.Position
		s.lastFocusPos = &pos
		s.widget.SetView(Round5(pos.Latitude), Round5(pos.Longitude), SingleMarkerZoom)
		return
	}
}

func (s *Synchronizer) frameOverview() {
	if len(s.known) == 0 {
		return
	}
	if len(s.known) == 1 {
		for _, m := range s.known {
			s.widget.SetView(m.Latitude, m.Longitude, SingleMarkerZoom)
		}
		return
	}
	b := Bounds{MinLat: math.MaxFloat64, MinLng: math.MaxFloat64, MaxLat: -math.MaxFloat64, MaxLng: -math.MaxFloat64}
	for _, m := range s.known {
		b.MinLat = math.Min(b.MinLat, m.Latitude)
		b.MinLng = math.Min(b.MinLng, m.Longitude)
		b.MaxLat = math.Max(b.MaxLat, m.Latitude)
		b.MaxLng = math.Max(b.MaxLng, m.Longitude)
	}
	s.widget.FitBounds(b, MaxFitZoom)
}

func markerFor(a model.AgentPresence) Marker {
	color := ColorOffline
	if a.State == model.StateOnline || a.IsOnline {
		color = ColorOnline
	}
	tooltip := a.DisplayName()
	if tooltip == "" {
		tooltip = a.AgentID
	}
	if a.MobileNo != "" {
		tooltip = fmt.Sprintf("%s (%s)", tooltip, a.MobileNo)
	}
	return Marker{
		AgentID:   a.AgentID,
		Latitude:  Round5(a.Position.Latitude),
		Longitude: Round5(a.Position.Longitude),
		Color:     color,
		Tooltip:   tooltip,
	}
}

// Round5 rounds a coordinate to 5 decimal places (~1.1m precision).
func Round5(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}
