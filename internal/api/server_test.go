package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipdeck/mediameta/internal/bulkscan"
	"github.com/clipdeck/mediameta/internal/catalog"
	"github.com/clipdeck/mediameta/internal/config"
	"github.com/clipdeck/mediameta/internal/coord"
	"github.com/clipdeck/mediameta/internal/probe"
	"github.com/clipdeck/mediameta/internal/repair"
	"github.com/clipdeck/mediameta/internal/worker"
)

type stubEngine struct {
	result probe.Result
}

func (e *stubEngine) Extract(ctx context.Context, locator string, hint probe.Kind, opts probe.Options) probe.Result {
	return e.result
}

// newTestServer wires a full agent against a fake catalog service. The idle
// worker is constructed but not started, so tests control all activity.
func newTestServer(t *testing.T, catalogHandler http.Handler) (*Server, *coord.Coordinator) {
	t.Helper()

	backend := httptest.NewServer(catalogHandler)
	t.Cleanup(backend.Close)

	cfg := config.Load()
	cfg.OperatorToken = "op-secret"

	cat := catalog.NewClient(backend.URL, "key")
	co := coord.New()
	engine := &stubEngine{result: probe.Result{Duration: 30, Success: true}}

	idle := worker.NewIdle(cat, cat, engine, co, NewWSHub())
	scanner := bulkscan.New(cat, cat, engine, co, nil)
	repairer := repair.New(cat, engine, co)
	repairer.Debounce = time.Millisecond

	return NewServer(cfg, cat, co, idle, scanner, repairer, NewWSHub()), co
}

func emptyCatalog() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/items/pending":
			json.NewEncoder(w).Encode([]catalog.MediaItem{})
		default:
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("{}"))
		}
	})
}

func doJSON(t *testing.T, s *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, emptyCatalog())
	rec := doJSON(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusReportsMutexAndWorker(t *testing.T) {
	s, co := newTestServer(t, emptyCatalog())
	require.True(t, co.TryClaim("some-item"))

	rec := doJSON(t, s, http.MethodGet, "/api/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			MutexBusy   bool   `json:"mutex_busy"`
			MutexHolder string `json:"mutex_holder"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.MutexBusy)
	assert.Equal(t, "some-item", resp.Data.MutexHolder)
}

func TestThrottleEndpoint(t *testing.T) {
	s, _ := newTestServer(t, emptyCatalog())

	rec := doJSON(t, s, http.MethodPost, "/api/worker/throttle", "", map[string]bool{"throttled": true})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data worker.Status `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Throttled)
}

func TestRepairCardEndpoint(t *testing.T) {
	s, co := newTestServer(t, emptyCatalog())

	item := catalog.MediaItem{ID: "a1", Locator: "/m/a1.mp3", DeclaredKind: "audio", ThumbnailIsDefault: true}
	rec := doJSON(t, s, http.MethodPost, "/api/repair/card", "", map[string]interface{}{"item": item})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "repaired", resp.Data["outcome"])
	assert.False(t, co.Busy())
}

func TestRepairCardRequiresItem(t *testing.T) {
	s, _ := newTestServer(t, emptyCatalog())
	rec := doJSON(t, s, http.MethodPost, "/api/repair/card", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRequiresOperatorToken(t *testing.T) {
	s, _ := newTestServer(t, emptyCatalog())

	rec := doJSON(t, s, http.MethodGet, "/api/admin/scan/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/admin/scan/status", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/admin/scan/status", "op-secret", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminOrganizePassthrough(t *testing.T) {
	backend := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/maintenance/organize" {
			json.NewEncoder(w).Encode(catalog.OrganizeResult{Processed: 12, Remaining: 0})
			return
		}
		w.Write([]byte("{}"))
	})
	s, _ := newTestServer(t, backend)

	rec := doJSON(t, s, http.MethodPost, "/api/admin/organize", "op-secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data map[string]int `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 12, resp.Data["processed"])
}

func TestScanStartConflict(t *testing.T) {
	// A catalog that never returns items but delays, keeping the scan alive
	// long enough to observe the conflict.
	backend := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		json.NewEncoder(w).Encode([]catalog.MediaItem{})
	})
	s, _ := newTestServer(t, backend)

	rec := doJSON(t, s, http.MethodPost, "/api/admin/scan", "op-secret", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/admin/scan", "op-secret", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	s.scanner.Cancel()
}
