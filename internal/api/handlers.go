package api

import (
	"log"
	"net/http"
	"time"

	"github.com/clipdeck/mediameta/internal/bulkscan"
	"github.com/clipdeck/mediameta/internal/catalog"
	"github.com/clipdeck/mediameta/internal/httputil"
	"github.com/clipdeck/mediameta/internal/version"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Load().Version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"worker":        s.idle.Status(),
		"mutex_busy":    s.coord.Busy(),
		"mutex_holder":  s.coord.Holder(),
		"catalog_stale": s.catalog.Stale(),
	})
}

func (s *Server) handleThrottle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Throttled bool `json:"throttled"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body")
		return
	}
	s.idle.SetThrottled(req.Throttled)
	log.Printf("API: idle worker throttled=%v", req.Throttled)
	httputil.WriteJSON(w, http.StatusOK, s.idle.Status())
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	s.idle.Skip()
	httputil.WriteJSON(w, http.StatusOK, s.idle.Status())
}

type repairRequest struct {
	Item    catalog.MediaItem `json:"item"`
	Elapsed float64           `json:"elapsed,omitempty"` // seconds of playback
}

// handleRepairCard is called when an item card scrolls into view. The
// request context carries the visibility signal: the front-end aborts the
// request when the card leaves the viewport, cancelling the debounce.
func (s *Server) handleRepairCard(w http.ResponseWriter, r *http.Request) {
	var req repairRequest
	if err := httputil.ReadJSON(r, &req); err != nil || req.Item.ID == "" {
		httputil.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "item required")
		return
	}
	out := s.repairer.CardVisible(r.Context(), req.Item)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"outcome": string(out)})
}

func (s *Server) handleRepairWatch(w http.ResponseWriter, r *http.Request) {
	var req repairRequest
	if err := httputil.ReadJSON(r, &req); err != nil || req.Item.ID == "" {
		httputil.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "item required")
		return
	}
	elapsed := time.Duration(req.Elapsed * float64(time.Second))
	out := s.repairer.WatchProgress(r.Context(), req.Item, elapsed)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"outcome": string(out)})
}

func (s *Server) handleScanStart(w http.ResponseWriter, r *http.Request) {
	if err := s.scanner.Start(); err != nil {
		httputil.WriteError(w, http.StatusConflict, "SCAN_RUNNING", err.Error())
		return
	}
	log.Println("API: bulk scan started")
	httputil.WriteJSON(w, http.StatusAccepted, s.scanner.Status())
}

func (s *Server) handleScanCancel(w http.ResponseWriter, r *http.Request) {
	s.scanner.Cancel()
	httputil.WriteJSON(w, http.StatusOK, s.scanner.Status())
}

func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.scanner.Status())
}

func (s *Server) handleOrganize(w http.ResponseWriter, r *http.Request) {
	processed, err := bulkscan.OrganizeAll(r.Context(), s.catalog)
	if err != nil {
		httputil.WriteError(w, http.StatusBadGateway, "ORGANIZE_FAILED", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"processed": processed})
}

func (s *Server) handleFix(w http.ResponseWriter, r *http.Request) {
	fixed, err := bulkscan.FixBroken(r.Context(), s.catalog)
	if err != nil {
		httputil.WriteError(w, http.StatusBadGateway, "FIX_FAILED", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"fixed": fixed})
}

func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	processed, err := bulkscan.ResyncAll(r.Context(), s.catalog)
	if err != nil {
		httputil.WriteError(w, http.StatusBadGateway, "RESYNC_FAILED", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"processed": processed})
}
