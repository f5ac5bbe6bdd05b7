package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hoopadvisors/courtside/internal/game"
	"github.com/hoopadvisors/courtside/internal/scope"
	"github.com/hoopadvisors/courtside/internal/telemetry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// Server is the thin HTTP surface over the scope actors: event updates in,
// state and live subscriptions out, operator-triggered reconciliation and
// scope resets. Rendering, sessions, and routing polish live elsewhere.
type Server struct {
	registry   *scope.Registry
	loc        *time.Location
	accessCode string
}

func New(registry *scope.Registry, loc *time.Location, accessCode string) *Server {
	return &Server{
		registry:   registry,
		loc:        loc,
		accessCode: accessCode,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /update", s.guarded(s.handleUpdate))
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("GET /connect", s.handleConnect)
	mux.HandleFunc("POST /reconcile", s.guarded(s.handleReconcile))
	mux.HandleFunc("POST /clear", s.guarded(s.handleClear))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// guarded rejects mutating requests without the shared access code.
// An empty configured code disables the check (local development).
func (s *Server) guarded(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.accessCode != "" && r.Header.Get("X-Access-Code") != s.accessCode {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var u game.Record
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		http.Error(w, fmt.Sprintf("bad update: %v", err), http.StatusBadRequest)
		return
	}
	if u.EventID == "" {
		http.Error(w, "missing gameId", http.StatusBadRequest)
		return
	}
	if u.Scope == "" {
		u.Scope = s.today()
	}

	if err := s.registry.Get(u.Scope).Update(&u); err != nil {
		telemetry.Errorf("update %s/%s: %v", u.Scope, u.EventID, err)
		http.Error(w, "persist failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	actor := s.registry.Get(s.scopeKey(r))
	writeJSON(w, struct {
		Games []*game.Record `json:"games"`
	}{Games: actor.State()})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	actor := s.registry.Get(s.scopeKey(r))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		telemetry.Warnf("connect: upgrade failed: %v", err)
		return
	}
	actor.Hub().Register(conn)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	key := s.scopeKey(r)
	telemetry.Infof("reconcile requested for scope %s", key)

	sum := s.registry.Get(key).Reconcile(r.Context())
	telemetry.Infof("reconcile %s: %s (snapshots=%d)", key, sum.Message, sum.Snapshots)
	writeJSON(w, sum)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	key := s.scopeKey(r)
	if err := s.registry.Get(key).Reset(); err != nil {
		telemetry.Errorf("clear %s: %v", key, err)
		http.Error(w, "clear failed", http.StatusInternalServerError)
		return
	}
	telemetry.Infof("scope %s cleared", key)
	w.WriteHeader(http.StatusOK)
}

// scopeKey resolves the target scope from ?date=YYYYMMDD, defaulting to
// today in the configured location.
func (s *Server) scopeKey(r *http.Request) string {
	if d := r.URL.Query().Get("date"); d != "" {
		return d
	}
	return s.today()
}

func (s *Server) today() string {
	return time.Now().In(s.loc).Format("20060102")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		telemetry.Warnf("write response: %v", err)
	}
}
