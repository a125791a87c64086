// Package api is the agent's HTTP surface: trigger endpoints the player
// front-end calls (throttle, skip, repair), operator controls for the bulk
// scanner and maintenance RPCs, and a websocket stream of status events.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/clipdeck/mediameta/internal/bulkscan"
	"github.com/clipdeck/mediameta/internal/catalog"
	"github.com/clipdeck/mediameta/internal/config"
	"github.com/clipdeck/mediameta/internal/coord"
	"github.com/clipdeck/mediameta/internal/httputil"
	"github.com/clipdeck/mediameta/internal/repair"
	"github.com/clipdeck/mediameta/internal/worker"
)

type Server struct {
	config   *config.Config
	catalog  *catalog.Client
	coord    *coord.Coordinator
	idle     *worker.Idle
	scanner  *bulkscan.Scanner
	repairer *repair.Repairer
	hub      *WSHub
	router   *http.ServeMux
}

func NewServer(cfg *config.Config, cat *catalog.Client, c *coord.Coordinator,
	idle *worker.Idle, scanner *bulkscan.Scanner, repairer *repair.Repairer, hub *WSHub) *Server {

	s := &Server{
		config:   cfg,
		catalog:  cat,
		coord:    c,
		idle:     idle,
		scanner:  scanner,
		repairer: repairer,
		hub:      hub,
		router:   http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /api/status", s.handleStatus)
	s.router.HandleFunc("GET /api/ws", s.handleWebSocket)

	// Player-driven triggers
	s.router.HandleFunc("POST /api/worker/throttle", s.handleThrottle)
	s.router.HandleFunc("POST /api/worker/skip", s.handleSkip)
	s.router.HandleFunc("POST /api/repair/card", s.handleRepairCard)
	s.router.HandleFunc("POST /api/repair/watch", s.handleRepairWatch)

	// Operator surface
	s.router.HandleFunc("POST /api/admin/scan", s.requireOperator(s.handleScanStart))
	s.router.HandleFunc("POST /api/admin/scan/cancel", s.requireOperator(s.handleScanCancel))
	s.router.HandleFunc("GET /api/admin/scan/status", s.requireOperator(s.handleScanStatus))
	s.router.HandleFunc("POST /api/admin/organize", s.requireOperator(s.handleOrganize))
	s.router.HandleFunc("POST /api/admin/fix", s.requireOperator(s.handleFix))
	s.router.HandleFunc("POST /api/admin/resync", s.requireOperator(s.handleResync))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requireOperator guards the admin surface with the configured operator
// token. The agent has no user database; a shared bearer token is the whole
// story, same as the catalog API key it holds itself.
func (s *Server) requireOperator(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.OperatorToken == "" {
			httputil.WriteError(w, http.StatusForbidden, "NO_OPERATOR_TOKEN", "operator token not configured")
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.config.OperatorToken)) != 1 {
			httputil.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "operator token required")
			return
		}
		next(w, r)
	}
}
