package webmap

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fieldtrack/tracker/internal/mapsync"
	"github.com/fieldtrack/tracker/internal/model"
	"github.com/fieldtrack/tracker/internal/presence"
	"github.com/fieldtrack/tracker/internal/restapi"
	"github.com/fieldtrack/tracker/internal/stream"
)

// Server exposes the dashboard page, the live websocket feed, and the
// JSON API used by the page's controls (manual reconnect, refresh, focus).
type Server struct {
	hub    *Hub
	store  *presence.Store
	loader *presence.Loader
	mgr    *stream.Manager
	syncer *mapsync.Synchronizer
	api    *restapi.Client
	scope  restapi.Scope
	stale  time.Duration
	log    *log.Logger
}

func NewServer(hub *Hub, store *presence.Store, loader *presence.Loader, mgr *stream.Manager,
	syncer *mapsync.Synchronizer, api *restapi.Client, scope restapi.Scope,
	stale time.Duration, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		hub:    hub,
		store:  store,
		loader: loader,
		mgr:    mgr,
		syncer: syncer,
		api:    api,
		scope:  scope,
		stale:  stale,
		log:    logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/ws", s.hub.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/agents", s.handleAgents)
		r.Get("/stats", s.handleStats)
		r.Get("/health", s.handleHealth)
		r.Post("/stream/connect", s.handleConnect)
		r.Post("/stream/disconnect", s.handleDisconnect)
		r.Post("/snapshot/refresh", s.handleRefresh)
		r.Post("/focus/{agentID}", s.handleFocus)
		r.Post("/focus", s.handleClearFocus)
	})

	return r
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.Printf("[webmap] dashboard listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexPage))
}

type agentRow struct {
	model.AgentPresence
	Stale bool `json:"stale"`
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	agents := s.store.All()
	rows := make([]agentRow, 0, len(agents))
	for _, a := range agents {
		rows = append(rows, agentRow{AgentPresence: a, Stale: a.StaleAfter(s.stale, now)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": rows})
}

// handleStats prefers the backend's summary; a stats-only failure is
// non-critical and falls back to counting the local store.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.api.FetchStats(r.Context(), s.scope)
	if err != nil {
		s.log.Printf("[webmap] stats fetch failed (using local view): %v", err)
		stats = s.store.Stats()
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": stats})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": s.mgr.Health()})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	go s.mgr.Connect()
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.mgr.Disconnect()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.loader.LoadSnapshot(r.Context()); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "message": err.Error()})
		return
	}
	s.syncer.Sync(s.store.All())
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if _, ok := s.store.Get(agentID); !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "unknown agent"})
		return
	}
	s.syncer.SetFocus(agentID)
	s.syncer.Sync(s.store.All())
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleClearFocus(w http.ResponseWriter, r *http.Request) {
	s.syncer.ClearFocus()
	s.syncer.Sync(s.store.All())
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
