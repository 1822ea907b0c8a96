package webmap

import (
	"encoding/json"
	"testing"

	"github.com/fieldtrack/tracker/internal/mapsync"
	"github.com/fieldtrack/tracker/internal/model"
)

func TestHubIsAlwaysReady(t *testing.T) {
	h := NewHub(nil)
	if !h.Ready() {
		t.Fatal("hub must accept ops with zero clients")
	}
}

func TestReplayContainsMarkersFramingAndHealth(t *testing.T) {
	h := NewHub(nil)
	h.PushHealth(model.ConnectionHealth{Connected: true})
	h.CreateMarker(mapsync.Marker{AgentID: "A1", Latitude: 1, Longitude: 2, Color: "green"})
	h.CreateMarker(mapsync.Marker{AgentID: "A2", Latitude: 3, Longitude: 4, Color: "red"})
	h.UpdateMarker(mapsync.Marker{AgentID: "A1", Latitude: 1.5, Longitude: 2.5, Color: "green"})
	h.FitBounds(mapsync.Bounds{MinLat: 1, MinLng: 2, MaxLat: 3, MaxLng: 4}, 16)

	replay := h.replayOps()
	// health + one create per agent + last framing op.
	if len(replay) != 4 {
		t.Fatalf("expected 4 replay ops, got %d", len(replay))
	}

	var ops []mapOp
	for _, buf := range replay {
		var op mapOp
		if err := json.Unmarshal(buf, &op); err != nil {
			t.Fatalf("replay op not valid JSON: %v", err)
		}
		ops = append(ops, op)
	}

	if ops[0].Op != "health" || !ops[0].Health.Connected {
		t.Fatalf("first replay op should be health: %+v", ops[0])
	}
	if ops[1].Op != "create" || ops[1].Marker.AgentID != "A1" || ops[1].Marker.Latitude != 1.5 {
		t.Fatalf("replay lost the latest A1 position: %+v", ops[1])
	}
	if ops[2].Op != "create" || ops[2].Marker.AgentID != "A2" {
		t.Fatalf("unexpected second marker: %+v", ops[2])
	}
	if ops[3].Op != "fit" || ops[3].MaxZoom != 16 {
		t.Fatalf("framing op not replayed: %+v", ops[3])
	}
}

func TestSetViewReplacesLastFrame(t *testing.T) {
	h := NewHub(nil)
	h.FitBounds(mapsync.Bounds{}, 16)
	h.SetView(28.61, 77.2, 15)

	replay := h.replayOps()
	var last mapOp
	if err := json.Unmarshal(replay[len(replay)-1], &last); err != nil {
		t.Fatal(err)
	}
	if last.Op != "view" || last.Zoom != 15 {
		t.Fatalf("expected latest framing op to win: %+v", last)
	}
}

func TestRemoveMarkerDropsReplayState(t *testing.T) {
	h := NewHub(nil)
	h.CreateMarker(mapsync.Marker{AgentID: "A1"})
	h.RemoveMarker("A1")

	for _, buf := range h.replayOps() {
		var op mapOp
		_ = json.Unmarshal(buf, &op)
		if op.Op == "create" {
			t.Fatalf("removed marker still replayed: %+v", op)
		}
	}
}

func TestBroadcastWithoutClientsIsNoOp(t *testing.T) {
	h := NewHub(nil)
	// Must not panic or block.
	h.Notice("snapshot failed")
	h.SetView(1, 2, 15)
	if h.ClientCount() != 0 {
		t.Fatalf("phantom clients: %d", h.ClientCount())
	}
}
