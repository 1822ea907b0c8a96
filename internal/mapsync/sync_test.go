package mapsync

import (
	"testing"

	"github.com/fieldtrack/tracker/internal/model"
)

type widgetCall struct {
	op      string
	marker  Marker
	bounds  Bounds
	maxZoom int
	lat     float64
	lng     float64
	zoom    int
}

type fakeWidget struct {
	ready bool
	calls []widgetCall
}

func (w *fakeWidget) Ready() bool          { return w.ready }
func (w *fakeWidget) CreateMarker(m Marker) { w.calls = append(w.calls, widgetCall{op: "create", marker: m}) }
func (w *fakeWidget) UpdateMarker(m Marker) { w.calls = append(w.calls, widgetCall{op: "update", marker: m}) }
func (w *fakeWidget) RemoveMarker(id string) {
	w.calls = append(w.calls, widgetCall{op: "remove", marker: Marker{AgentID: id}})
}
func (w *fakeWidget) FitBounds(b Bounds, maxZoom int) {
	w.calls = append(w.calls, widgetCall{op: "fit", bounds: b, maxZoom: maxZoom})
}
func (w *fakeWidget) SetView(lat, lng float64, zoom int) {
	w.calls = append(w.calls, widgetCall{op: "view", lat: lat, lng: lng, zoom: zoom})
}

func (w *fakeWidget) count(op string) int {
	n := 0
	for _, c := range w.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

func (w *fakeWidget) last(op string) (widgetCall, bool) {
	for i := len(w.calls) - 1; i >= 0; i-- {
		if w.calls[i].op == op {
			return w.calls[i], true
		}
	}
	return widgetCall{}, false
}

func agent(id string, lat, lng float64, state model.ConnectionState) model.AgentPresence {
	return model.AgentPresence{
		AgentID:  id,
		Position: &model.Position{Latitude: lat, Longitude: lng},
		State:    state,
		IsOnline: state == model.StateOnline,
	}
}

func TestSubMeterJitterCausesNoChurn(t *testing.T) {
	w := &fakeWidget{ready: true}
	s := NewSynchronizer(w)

	s.Sync([]model.AgentPresence{agent("A1", 28.610001, 77.200001, model.StateOnline)})
	created := w.count("create")

	// Differs only beyond the 5th decimal place.
	s.Sync([]model.AgentPresence{agent("A1", 28.610002, 77.200003, model.StateOnline)})

	if w.count("create") != created {
		t.Fatalf("jitter caused marker recreation: %d creates", w.count("create"))
	}
	if got := w.count("update"); got > 1 {
		t.Fatalf("jitter caused %d updates, want at most 1", got)
	}
}

func TestMarkersUpdatedInPlaceNeverRecreated(t *testing.T) {
	w := &fakeWidget{ready: true}
	s := NewSynchronizer(w)

	s.Sync([]model.AgentPresence{agent("A1", 10, 20, model.StateOnline)})
	s.Sync([]model.AgentPresence{agent("A1", 11, 21, model.StateOnline)})
	s.Sync([]model.AgentPresence{agent("A1", 12, 22, model.StateOffline)})

	if got := w.count("create"); got != 1 {
		t.Fatalf("expected 1 create, got %d", got)
	}
	if got := w.count("update"); got != 2 {
		t.Fatalf("expected 2 updates, got %d", got)
	}
	if got := w.count("remove"); got != 0 {
		t.Fatalf("synchronizer removed a marker: %d", got)
	}
}

func TestMarkerColorIsPureFunctionOfState(t *testing.T) {
	w := &fakeWidget{ready: true}
	s := NewSynchronizer(w)

	s.Sync([]model.AgentPresence{
		agent("on", 1, 1, model.StateOnline),
		agent("off", 2, 2, model.StateOffline),
		agent("gone", 3, 3, model.StateDisconnected),
	})

	colors := map[string]string{}
	for _, c := range w.calls {
		if c.op == "create" {
			colors[c.marker.AgentID] = c.marker.Color
		}
	}
	if colors["on"] != ColorOnline {
		t.Fatalf("online agent: got %s", colors["on"])
	}
	if colors["off"] != ColorOffline || colors["gone"] != ColorOffline {
		t.Fatalf("non-online agents must be red: %v", colors)
	}
}

func TestSingleMarkerCentersAtCloseZoom(t *testing.T) {
	w := &fakeWidget{ready: true}
	s := NewSynchronizer(w)

	s.Sync([]model.AgentPresence{agent("A1", 28.61, 77.20, model.StateOnline)})

	v, ok := w.last("view")
	if !ok {
		t.Fatal("no view op for a single marker")
	}
	if v.zoom != SingleMarkerZoom || v.lat != 28.61 || v.lng != 77.20 {
		t.Fatalf("unexpected view: %+v", v)
	}
	if w.count("fit") != 0 {
		t.Fatal("fit-to-bounds used for a single marker")
	}
}

func TestClusteredMarkersFitWithZoomClamp(t *testing.T) {
	w := &fakeWidget{ready: true}
	s := NewSynchronizer(w)

	// Three agents within ~50m of each other.
	s.Sync([]model.AgentPresence{
		agent("A1", 28.61000, 77.20000, model.StateOnline),
		agent("A2", 28.61020, 77.20020, model.StateOnline),
		agent("A3", 28.61040, 77.20040, model.StateOnline),
	})

	f, ok := w.last("fit")
	if !ok {
		t.Fatal("no fit op for multiple markers")
	}
	if f.maxZoom > MaxFitZoom {
		t.Fatalf("zoom clamp exceeded: %d", f.maxZoom)
	}
	if f.bounds.MinLat != 28.61 || f.bounds.MaxLat != 28.6104 {
		t.Fatalf("unexpected bounds: %+v", f.bounds)
	}
	if f.bounds.MinLng != 77.2 || f.bounds.MaxLng != 77.2004 {
		t.Fatalf("unexpected bounds: %+v", f.bounds)
	}
}

func TestFocusModeSuppressesOverviewFitting(t *testing.T) {
	w := &fakeWidget{ready: true}
	s := NewSynchronizer(w)
	s.SetFocus("A2")

	s.Sync([]model.AgentPresence{
		agent("A1", 10, 10, model.StateOnline),
		agent("A2", 50, 60, model.StateOnline),
	})

	if w.count("fit") != 0 {
		t.Fatal("overview fit ran while an agent was focused")
	}
	v, ok := w.last("view")
	if !ok {
		t.Fatal("focus did not center the viewport")
	}
	if v.lat != 50 || v.lng != 60 {
		t.Fatalf("focused on wrong position: %+v", v)
	}

	// Unchanged focus position: no re-centering noise.
	views := w.count("view")
	s.Sync([]model.AgentPresence{
		agent("A1", 11, 11, model.StateOnline),
		agent("A2", 50, 60, model.StateOnline),
	})
	if w.count("view") != views {
		t.Fatal("re-centered on an unchanged focus position")
	}

	s.ClearFocus()
	s.Sync([]model.AgentPresence{
		agent("A1", 12, 12, model.StateOnline),
		agent("A2", 50, 60, model.StateOnline),
	})
	if w.count("fit") == 0 {
		t.Fatal("overview fitting did not resume after ClearFocus")
	}
}

func TestUnreadyWidgetSkipsCycle(t *testing.T) {
	w := &fakeWidget{ready: false}
	s := NewSynchronizer(w)

	s.Sync([]model.AgentPresence{agent("A1", 1, 2, model.StateOnline)})
	if len(w.calls) != 0 {
		t.Fatalf("unready widget received %d ops", len(w.calls))
	}

	w.ready = true
	s.Sync([]model.AgentPresence{agent("A1", 1, 2, model.StateOnline)})
	if w.count("create") != 1 {
		t.Fatal("marker not drawn once widget became ready")
	}
}

func TestAgentsWithoutPositionAreSkipped(t *testing.T) {
	w := &fakeWidget{ready: true}
	s := NewSynchronizer(w)

	s.Sync([]model.AgentPresence{
		{AgentID: "nofix", State: model.StateOnline},
		agent("A1", 1, 2, model.StateOnline),
	})

	if got := w.count("create"); got != 1 {
		t.Fatalf("expected 1 marker, got %d", got)
	}
}

func TestRound5(t *testing.T) {
	if got := Round5(28.6100049); got != 28.61 {
		t.Fatalf("got %v", got)
	}
	if got := Round5(-77.123456); got != -77.12346 {
		t.Fatalf("got %v", got)
	}
}
