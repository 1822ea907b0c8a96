package presence

import (
	"testing"
	"time"

	"github.com/fieldtrack/tracker/internal/model"
)

func ptr[T any](v T) *T { return &v }

func TestLocationUpdateCreatesRecord(t *testing.T) {
	s := NewStore()
	s.ApplyLocationUpdate(model.LocationUpdate{
		AgentID:   "A1",
		Latitude:  ptr(28.61),
		Longitude: ptr(77.20),
		Status:    "ONLINE",
	})

	if s.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", s.Len())
	}
	p, ok := s.Get("A1")
	if !ok {
		t.Fatal("record not found")
	}
	if p.Position == nil || p.Position.Latitude != 28.61 {
		t.Fatalf("position not stored: %+v", p.Position)
	}
	if p.State != model.StateOnline || !p.IsOnline {
		t.Fatalf("state: %s isOnline: %v", p.State, p.IsOnline)
	}
}

func TestStatusUpdateNeverCreatesRecord(t *testing.T) {
	s := NewStore()
	s.ApplyStatusUpdate(model.StatusUpdate{AgentID: "ghost", Status: "ONLINE"})
	if s.Len() != 0 {
		t.Fatalf("status update created a record; store size %d", s.Len())
	}
}

func TestMergePreservesAbsentFields(t *testing.T) {
	s := NewStore()
	s.ApplyLocationUpdate(model.LocationUpdate{
		AgentID:      "A1",
		Latitude:     ptr(10.0),
		Longitude:    ptr(20.0),
		BatteryLevel: ptr(80),
		Accuracy:     ptr(12.5),
	})

	// Sparse ping: position only, no battery, no accuracy.
	s.ApplyLocationUpdate(model.LocationUpdate{
		AgentID:   "A1",
		Latitude:  ptr(10.1),
		Longitude: ptr(20.1),
	})

	p, _ := s.Get("A1")
	if p.BatteryLevel == nil || *p.BatteryLevel != 80 {
		t.Fatalf("battery erased by sparse delta: %v", p.BatteryLevel)
	}
	if p.Accuracy == nil || *p.Accuracy != 12.5 {
		t.Fatalf("accuracy erased by sparse delta: %v", p.Accuracy)
	}
	if p.Position.Latitude != 10.1 {
		t.Fatalf("position not updated: %+v", p.Position)
	}
}

func TestIsOnlineInvariantOnEveryMutationPath(t *testing.T) {
	s := NewStore()

	check := func(when string) {
		t.Helper()
		for _, p := range s.All() {
			if p.IsOnline != (p.State == model.StateOnline) {
				t.Fatalf("%s: isOnline=%v but state=%s for %s", when, p.IsOnline, p.State, p.AgentID)
			}
		}
	}

	s.ApplySnapshot([]model.AgentPresence{
		{AgentID: "A1", State: model.StateOffline, IsOnline: true}, // inconsistent input
		{AgentID: "A2", State: model.StateOnline},
	})
	check("after snapshot")

	s.ApplyLocationUpdate(model.LocationUpdate{AgentID: "A1", Status: "ONLINE"})
	check("after location update")

	s.ApplyLocationUpdate(model.LocationUpdate{AgentID: "A3", IsOnline: ptr(true)})
	check("after isOnline-only delta")

	s.ApplyStatusUpdate(model.StatusUpdate{AgentID: "A2", Status: "DISCONNECTED"})
	check("after status update")
}

func TestSnapshotThenDelta(t *testing.T) {
	s := NewStore()
	s.ApplySnapshot([]model.AgentPresence{{
		AgentID:  "A1",
		Position: &model.Position{Latitude: 28.61, Longitude: 77.20},
		State:    model.StateOffline,
	}})

	s.ApplyLocationUpdate(model.LocationUpdate{
		AgentID:   "A1",
		Latitude:  ptr(28.615),
		Longitude: ptr(77.205),
		Status:    "ONLINE",
	})

	all := s.All()
	if len(all) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(all))
	}
	p := all[0]
	if p.Position.Latitude != 28.615 || p.Position.Longitude != 77.205 {
		t.Fatalf("coordinates not updated: %+v", p.Position)
	}
	if p.State != model.StateOnline || !p.IsOnline {
		t.Fatalf("state not updated: %s isOnline=%v", p.State, p.IsOnline)
	}
}

func TestSnapshotDoesNotEvict(t *testing.T) {
	s := NewStore()
	s.ApplyLocationUpdate(model.LocationUpdate{AgentID: "old", Latitude: ptr(1.0), Longitude: ptr(2.0)})
	s.ApplySnapshot([]model.AgentPresence{{AgentID: "new"}})

	if s.Len() != 2 {
		t.Fatalf("refreshed snapshot evicted a record; size %d", s.Len())
	}
}

func TestAllReturnsInsertionOrder(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"c", "a", "b"} {
		s.ApplyLocationUpdate(model.LocationUpdate{AgentID: id})
	}
	// Updating an existing agent must not reorder it.
	s.ApplyLocationUpdate(model.LocationUpdate{AgentID: "c", Status: "ONLINE"})

	var got []string
	for _, p := range s.All() {
		got = append(got, p.AgentID)
	}
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order: got %v want %v", got, want)
		}
	}
}

func TestReceiptTimeStampingIsMonotonic(t *testing.T) {
	s := NewStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.ApplyLocationUpdate(model.LocationUpdate{AgentID: "A1"})
	p, _ := s.Get("A1")
	if !p.LastUpdate.Equal(now) {
		t.Fatalf("receipt time not stamped: %s", p.LastUpdate)
	}

	// Clock skew backwards must not regress displayed freshness.
	s.now = func() time.Time { return now.Add(-time.Minute) }
	s.ApplyLocationUpdate(model.LocationUpdate{AgentID: "A1", Status: "ONLINE"})
	p, _ = s.Get("A1")
	if p.LastUpdate.Before(now) {
		t.Fatalf("freshness regressed: %s", p.LastUpdate)
	}
	if p.State != model.StateOnline {
		t.Fatal("older-clock event should still update fields")
	}
}

func TestStats(t *testing.T) {
	s := NewStore()
	s.ApplyLocationUpdate(model.LocationUpdate{AgentID: "A1", Status: "ONLINE"})
	s.ApplyLocationUpdate(model.LocationUpdate{AgentID: "A2", Status: "OFFLINE"})
	s.ApplyLocationUpdate(model.LocationUpdate{AgentID: "A3", Status: "DISCONNECTED"})

	st := s.Stats()
	if st.TotalAgents != 3 || st.OnlineAgents != 1 || st.OfflineAgents != 2 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}
