// Package presence is the single place agent presence is mutated. It
// merges REST snapshots with streaming deltas into one deduplicated,
// insertion-ordered view keyed by agent identity.
package presence

import (
	"sync"
	"time"

	"github.com/fieldtrack/tracker/internal/model"
)

// Store holds one AgentPresence per agent id. Records are created on
// first sight and never evicted; staleness is surfaced, not reaped.
type Store struct {
	mu    sync.Mutex
	byID  map[string]*model.AgentPresence
	order []string
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{
		byID: make(map[string]*model.AgentPresence),
		now:  time.Now,
	}
}

// ApplySnapshot upserts every record of a REST snapshot. Agents missing
// from the snapshot are kept: absence does not evict.
func (s *Store) ApplySnapshot(agents []model.AgentPresence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, a := range agents {
		if a.AgentID == "" {
			continue
		}
		a.State = model.ParseConnectionState(string(a.State))
		a.IsOnline = a.State == model.StateOnline
		if a.LastUpdate.IsZero() {
			a.LastUpdate = now
		}
		if cur, ok := s.byID[a.AgentID]; ok {
			if a.LastUpdate.Before(cur.LastUpdate) {
				a.LastUpdate = cur.LastUpdate
			}
			*cur = a
			continue
		}
		rec := a
		s.byID[a.AgentID] = &rec
		s.order = append(s.order, a.AgentID)
	}
}

// ApplyLocationUpdate merges a streaming delta field-wise over the stored
// record, or inserts a new record for an unseen agent. Absent fields never
// erase previously known values. Freshness is stamped with receipt time,
// not the event's own timestamp.
func (s *Store) ApplyLocationUpdate(ev model.LocationUpdate) {
	if ev.AgentID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[ev.AgentID]
	if !ok {
		cur = &model.AgentPresence{AgentID: ev.AgentID, State: model.StateOffline}
		s.byID[ev.AgentID] = cur
		s.order = append(s.order, ev.AgentID)
	}

	if ev.FirstName != "" {
		cur.FirstName = ev.FirstName
	}
	if ev.LastName != "" {
		cur.LastName = ev.LastName
	}
	if ev.MobileNo != "" {
		cur.MobileNo = ev.MobileNo
	}
	if ev.Latitude != nil && ev.Longitude != nil {
		cur.Position = &model.Position{Latitude: *ev.Latitude, Longitude: *ev.Longitude}
	}
	if ev.Accuracy != nil {
		cur.Accuracy = ev.Accuracy
	}
	if ev.BatteryLevel != nil {
		cur.BatteryLevel = ev.BatteryLevel
	}
	if ev.IsCharging != nil {
		cur.IsCharging = ev.IsCharging
	}

	switch {
	case ev.Status != "":
		cur.State = model.ParseConnectionState(ev.Status)
	case ev.IsOnline != nil:
		if *ev.IsOnline {
			cur.State = model.StateOnline
		} else {
			cur.State = model.StateOffline
		}
	}
	cur.IsOnline = cur.State == model.StateOnline

	s.stamp(cur)
}

// ApplyStatusUpdate sets the connection state of an existing record.
// Unknown agent ids are ignored: only location updates create records.
func (s *Store) ApplyStatusUpdate(ev model.StatusUpdate) {
	if ev.AgentID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[ev.AgentID]
	if !ok {
		return
	}
	cur.State = model.ParseConnectionState(ev.Status)
	cur.IsOnline = cur.State == model.StateOnline
	s.stamp(cur)
}

// stamp sets LastUpdate to the receipt time, keeping it monotonically
// non-decreasing under clock skew.
func (s *Store) stamp(p *model.AgentPresence) {
	if now := s.now(); now.After(p.LastUpdate) {
		p.LastUpdate = now
	}
}

// All returns a copy of every record in insertion order.
func (s *Store) All() []model.AgentPresence {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.AgentPresence, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

// Get returns a copy of one record.
func (s *Store) Get(agentID string) (model.AgentPresence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.byID[agentID]; ok {
		return *p, true
	}
	return model.AgentPresence{}, false
}

// Len returns the number of tracked agents.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Stats computes the online/offline summary from the current view.
func (s *Store) Stats() model.AgentStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := model.AgentStats{TotalAgents: len(s.order)}
	for _, p := range s.byID {
		if p.IsOnline {
			st.OnlineAgents++
		} else {
			st.OfflineAgents++
		}
	}
	return st
}
