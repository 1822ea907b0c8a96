// Package stream owns the persistent session to the location broker and
// insulates the rest of the process from transport failures. It exposes
// three typed subscriptions (location, status, connection) and drives its
// own bounded exponential-backoff reconnect loop.
package stream

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/fieldtrack/tracker/internal/auth"
	"github.com/fieldtrack/tracker/internal/config"
	"github.com/fieldtrack/tracker/internal/model"
)

// transport is one broker session. The production implementation wraps
// paho; tests inject fakes.
type transport interface {
	Connect() error
	Disconnect()
	Subscribe(topic string, qos byte, handler func(payload []byte)) error
	IsConnected() bool
}

// transportFactory builds a fresh session. onLost fires when an
// established session drops (error, protocol error, missed keepalive).
type transportFactory func(o Options, onLost func(error)) transport

// Options configures a Manager.
type Options struct {
	BrokerURL string
	ClientID  string
	QoS       byte

	TopicLocation   string
	TopicStatus     string
	TopicDisconnect string

	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	Tokens auth.TokenSource
	Logger *log.Logger

	// Quarantine receives malformed payloads. They are dropped either way;
	// a nil hook just skips the hand-off.
	Quarantine func(topic string, payload []byte, err error)
}

// OptionsFromConfig maps the process config onto stream options.
func OptionsFromConfig(cfg *config.Config, tokens auth.TokenSource) Options {
	return Options{
		BrokerURL:       cfg.BrokerURL,
		ClientID:        cfg.BrokerClientID,
		QoS:             cfg.BrokerQoS,
		TopicLocation:   cfg.TopicLocation,
		TopicStatus:     cfg.TopicStatus,
		TopicDisconnect: cfg.TopicDisconnect,
		BaseDelay:       cfg.ReconnectBaseDelay,
		MaxDelay:        cfg.ReconnectMaxDelay,
		MaxAttempts:     cfg.MaxReconnectAttempts,
		Tokens:          tokens,
		Logger:          cfg.Logger,
	}
}

// Manager maintains one logical streaming session with an explicit
// lifecycle. Construct with NewManager, start with Connect, stop with
// Disconnect.
type Manager struct {
	opts         Options
	log          *log.Logger
	newTransport transportFactory

	mu             sync.Mutex
	tr             transport
	active         bool
	connecting     bool
	reconnectTimer *time.Timer
	gen            int
	health         model.ConnectionHealth

	locations emitter[model.LocationUpdate]
	statuses  emitter[model.StatusUpdate]
	conns     emitter[bool]
}

func NewManager(opts Options) *Manager {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		opts:         opts,
		log:          logger,
		newTransport: newPahoTransport,
	}
}

// OnLocationUpdate registers a listener for location deltas (including
// disconnection payloads, which reuse the location shape). Returns an
// unsubscribe function.
func (m *Manager) OnLocationUpdate(fn func(model.LocationUpdate)) func() {
	return m.locations.subscribe(fn)
}

// OnStatusUpdate registers a listener for status deltas.
func (m *Manager) OnStatusUpdate(fn func(model.StatusUpdate)) func() {
	return m.statuses.subscribe(fn)
}

// OnConnectionChange registers a listener for session up/down transitions.
func (m *Manager) OnConnectionChange(fn func(connected bool)) func() {
	return m.conns.subscribe(fn)
}

// IsConnected reports the current session state. No side effects.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health.Connected
}

// Health returns a copy of the connection-health counters.
func (m *Manager) Health() model.ConnectionHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}

// Connect establishes the session. Idempotent: a connected, connecting or
// reconnect-pending manager is left untouched. Connect never returns an
// error; a failed handshake rolls into the reconnect path and surfaces
// through the connection-change listeners. An explicit Connect after the
// retry budget was exhausted starts over with a fresh attempt counter.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.health.Connected || m.connecting || m.reconnectTimer != nil {
		m.mu.Unlock()
		return
	}
	m.active = true
	m.connecting = true
	m.health.ReconnectAttempt = 0
	m.health.LastAttemptDelay = 0
	gen := m.gen
	m.mu.Unlock()

	m.dial(gen)
}

// Disconnect tears the session down, cancels any pending reconnect and
// notifies listeners. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.active = false
	m.connecting = false
	m.gen++
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	tr := m.tr
	m.tr = nil
	wasConnected := m.health.Connected
	m.health.Connected = false
	m.mu.Unlock()

	if tr != nil {
		tr.Disconnect()
	}
	if wasConnected {
		m.conns.emit(m.log, false)
	}
}

// dial performs one connect+subscribe attempt for session generation gen.
func (m *Manager) dial(gen int) {
	m.mu.Lock()
	if !m.active || gen != m.gen {
		m.connecting = false
		m.mu.Unlock()
		return
	}
	tr := m.newTransport(m.opts, func(err error) { m.onConnectionLost(gen, err) })
	m.tr = tr
	m.mu.Unlock()

	if err := tr.Connect(); err != nil {
		m.log.Printf("[stream] connect failed: %v", err)
		m.afterFailedAttempt(gen)
		return
	}
	if err := m.subscribeAll(tr); err != nil {
		m.log.Printf("[stream] subscribe failed: %v", err)
		tr.Disconnect()
		m.afterFailedAttempt(gen)
		return
	}

	m.mu.Lock()
	if !m.active || gen != m.gen {
		// Disconnect raced the handshake; drop the session.
		m.mu.Unlock()
		tr.Disconnect()
		return
	}
	m.connecting = false
	m.health.Connected = true
	m.health.ReconnectAttempt = 0
	m.mu.Unlock()

	m.log.Printf("[stream] connected to broker %s", m.opts.BrokerURL)
	m.conns.emit(m.log, true)
}

func (m *Manager) subscribeAll(tr transport) error {
	if err := tr.Subscribe(m.opts.TopicLocation, m.opts.QoS, func(p []byte) {
		m.handleLocation(m.opts.TopicLocation, p, false)
	}); err != nil {
		return err
	}
	if err := tr.Subscribe(m.opts.TopicStatus, m.opts.QoS, m.handleStatus); err != nil {
		return err
	}
	// Disconnection payloads share the location shape and are delivered on
	// the location channel so downstream consumers see one event kind.
	return tr.Subscribe(m.opts.TopicDisconnect, m.opts.QoS, func(p []byte) {
		m.handleLocation(m.opts.TopicDisconnect, p, true)
	})
}

func (m *Manager) onConnectionLost(gen int, err error) {
	m.mu.Lock()
	if !m.active || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.health.Connected = false
	m.mu.Unlock()

	m.log.Printf("[stream] connection lost: %v", err)
	m.conns.emit(m.log, false)
	m.afterFailedAttempt(gen)
}

// afterFailedAttempt schedules the next reconnect, or goes idle once the
// retry budget is spent. delay = min(base * 2^(attempt-1), max).
func (m *Manager) afterFailedAttempt(gen int) {
	m.mu.Lock()
	if !m.active || gen != m.gen {
		m.connecting = false
		m.mu.Unlock()
		return
	}
	m.health.ReconnectAttempt++
	attempt := m.health.ReconnectAttempt
	if attempt > m.opts.MaxAttempts {
		m.active = false
		m.connecting = false
		m.mu.Unlock()
		m.log.Printf("[stream] giving up after %d attempts; waiting for explicit connect", m.opts.MaxAttempts)
		return
	}
	delay := ReconnectDelay(attempt, m.opts.BaseDelay, m.opts.MaxDelay)
	m.health.LastAttemptDelay = delay
	m.connecting = true
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.reconnectTimer = nil
		m.mu.Unlock()
		m.dial(gen)
	})
	m.mu.Unlock()
	m.log.Printf("[stream] reconnect attempt %d/%d in %s", attempt, m.opts.MaxAttempts, delay)
}

// ReconnectDelay computes the backoff for the given 1-based attempt.
func ReconnectDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

var errMissingAgentID = errors.New("missing field: agentId")

// handleLocation parses and fans out one location (or disconnection)
// payload. Malformed payloads are dropped: the periodic snapshot poll
// restores consistency eventually.
func (m *Manager) handleLocation(topic string, payload []byte, disconnection bool) {
	var ev model.LocationUpdate
	if err := json.Unmarshal(payload, &ev); err != nil {
		m.dropPayload(topic, payload, err)
		return
	}
	if ev.AgentID == "" {
		m.dropPayload(topic, payload, errMissingAgentID)
		return
	}
	if disconnection && ev.Status == "" {
		ev.Status = string(model.StateDisconnected)
	}
	m.locations.emit(m.log, ev)
}

func (m *Manager) handleStatus(payload []byte) {
	var ev model.StatusUpdate
	if err := json.Unmarshal(payload, &ev); err != nil {
		m.dropPayload(m.opts.TopicStatus, payload, err)
		return
	}
	if ev.AgentID == "" {
		m.dropPayload(m.opts.TopicStatus, payload, errMissingAgentID)
		return
	}
	m.statuses.emit(m.log, ev)
}

func (m *Manager) dropPayload(topic string, payload []byte, err error) {
	m.log.Printf("[stream] dropping malformed payload on %s: %v | %s", topic, err, config.Truncate(payload, 256))
	if m.opts.Quarantine != nil {
		m.opts.Quarantine(topic, payload, err)
	}
}
