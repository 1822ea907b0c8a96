package presence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/fieldtrack/tracker/internal/model"
	"github.com/fieldtrack/tracker/internal/restapi"
)

// ErrSnapshotExhausted wraps the last fetch error once the retry budget
// is spent.
var ErrSnapshotExhausted = errors.New("snapshot retries exhausted")

// snapshotter is the REST collaborator surface the loader needs.
type snapshotter interface {
	FetchAgents(ctx context.Context, scope restapi.Scope) ([]model.AgentPresence, error)
}

// Loader fills the store from REST snapshots: once at startup, on manual
// refresh, and periodically while the stream is down.
type Loader struct {
	api     snapshotter
	store   *Store
	scope   restapi.Scope
	retries int
	backoff time.Duration
	log     *log.Logger

	// notify surfaces a user-visible message once all retries exhaust.
	notify func(msg string)
	// sleep is injectable so tests do not wait out real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewLoader(api snapshotter, store *Store, scope restapi.Scope, retries int, backoff time.Duration, logger *log.Logger, notify func(string)) *Loader {
	if retries < 1 {
		retries = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	if notify == nil {
		notify = func(string) {}
	}
	return &Loader{
		api:     api,
		store:   store,
		scope:   scope,
		retries: retries,
		backoff: backoff,
		log:     logger,
		notify:  notify,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LoadSnapshot fetches the snapshot with linearly increasing retry delays
// (attempt x backoff). The user-visible notice fires only after the final
// attempt fails; earlier failures are just logged. A request timeout reads
// as any other retryable failure.
func (l *Loader) LoadSnapshot(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= l.retries; attempt++ {
		agents, err := l.api.FetchAgents(ctx, l.scope)
		if err == nil {
			l.store.ApplySnapshot(agents)
			l.log.Printf("[snapshot] loaded %d agents (scope=%s)", len(agents), l.scope)
			return nil
		}
		lastErr = err
		l.log.Printf("[snapshot] attempt %d/%d failed: %v", attempt, l.retries, err)
		if attempt == l.retries {
			break
		}
		if err := l.sleep(ctx, time.Duration(attempt)*l.backoff); err != nil {
			return err
		}
	}
	l.notify("Unable to load agent locations. Check your connection and refresh.")
	return fmt.Errorf("%w after %d attempts: %v", ErrSnapshotExhausted, l.retries, lastErr)
}

// RunFallbackPoll re-snapshots every interval while the stream is down,
// bounding staleness when real-time delivery is unavailable. Polling is
// suppressed while the stream is healthy to avoid duplicate racing writes.
// Blocks until ctx is cancelled.
func (l *Loader) RunFallbackPoll(ctx context.Context, interval time.Duration, streamUp func() bool) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if streamUp() {
				continue
			}
			agents, err := l.api.FetchAgents(ctx, l.scope)
			if err != nil {
				l.log.Printf("[snapshot] fallback poll failed: %v", err)
				continue
			}
			l.store.ApplySnapshot(agents)
			l.log.Printf("[snapshot] fallback poll refreshed %d agents", len(agents))
		}
	}
}
