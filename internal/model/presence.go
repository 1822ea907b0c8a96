package model

import "time"

// ConnectionState is the broker-reported connectivity of a field agent.
// DISCONNECTED is a broker-observed signal and is stronger than the
// client-computed OFFLINE.
type ConnectionState string

const (
	StateOnline       ConnectionState = "ONLINE"
	StateOffline      ConnectionState = "OFFLINE"
	StateDisconnected ConnectionState = "DISCONNECTED"
)

// Position is a reported GPS fix.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// AgentPresence is the last-known state of one field agent. Exactly one
// record exists per AgentID in the reconciliation store.
type AgentPresence struct {
	AgentID      string          `json:"agentId"`
	FirstName    string          `json:"firstName"`
	LastName     string          `json:"lastName"`
	MobileNo     string          `json:"mobileNo"`
	Position     *Position       `json:"position"`
	Accuracy     *float64        `json:"accuracy,omitempty"`
	State        ConnectionState `json:"connectionStatus"`
	IsOnline     bool            `json:"isOnline"`
	LastUpdate   time.Time       `json:"lastUpdate"`
	BatteryLevel *int            `json:"batteryLevel,omitempty"`
	IsCharging   *bool           `json:"isCharging,omitempty"`
}

// DisplayName joins the name pair for tooltips and table rows.
func (p AgentPresence) DisplayName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// StaleAfter reports whether the record has not been refreshed within d.
// Records are never evicted, so the UI uses this to flag stale rows.
func (p AgentPresence) StaleAfter(d time.Duration, now time.Time) bool {
	return now.Sub(p.LastUpdate) > d
}

// LocationUpdate is a streaming delta on the location (or disconnection)
// topic. Deltas are sparse: nil pointers and empty strings mean the field
// was not present in the payload and must not overwrite stored values.
type LocationUpdate struct {
	AgentID      string     `json:"agentId"`
	FirstName    string     `json:"firstName,omitempty"`
	LastName     string     `json:"lastName,omitempty"`
	MobileNo     string     `json:"mobileNo,omitempty"`
	Latitude     *float64   `json:"latitude,omitempty"`
	Longitude    *float64   `json:"longitude,omitempty"`
	Accuracy     *float64   `json:"accuracy,omitempty"`
	Status       string     `json:"connectionStatus,omitempty"`
	LastUpdate   *time.Time `json:"lastUpdate,omitempty"`
	BatteryLevel *int       `json:"batteryLevel,omitempty"`
	IsCharging   *bool      `json:"isCharging,omitempty"`
	IsOnline     *bool      `json:"isOnline,omitempty"`
}

// StatusUpdate is a streaming delta on the status topic.
type StatusUpdate struct {
	AgentID   string     `json:"agentId"`
	Status    string     `json:"status"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// ConnectionHealth is the process-wide view of the streaming session.
type ConnectionHealth struct {
	Connected        bool          `json:"connected"`
	ReconnectAttempt int           `json:"reconnectAttempt"`
	LastAttemptDelay time.Duration `json:"lastAttemptDelay"`
}

// AgentStats is the summary returned by the REST stats endpoints.
type AgentStats struct {
	OnlineAgents  int `json:"onlineAgents"`
	OfflineAgents int `json:"offlineAgents"`
	TotalAgents   int `json:"totalAgents"`
}

// ParseConnectionState maps a wire status string onto the tri-state,
// defaulting unknown values to OFFLINE.
func ParseConnectionState(s string) ConnectionState {
	switch ConnectionState(s) {
	case StateOnline, StateOffline, StateDisconnected:
		return ConnectionState(s)
	default:
		return StateOffline
	}
}
