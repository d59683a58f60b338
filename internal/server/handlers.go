package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"statecache/internal/cache"
	"statecache/internal/inspect"
	"statecache/internal/ledger"
	"statecache/internal/obs"
)

const (
	RequestIDHeader = "X-Request-Id"

	maxValueBytes        = 1 << 20
	maxTTLSeconds        = math.MaxInt64 / int64(time.Second)
	defaultFlagThreshold = 100
	defaultFlagWindow    = time.Hour
)

type Deps struct {
	Facade  *cache.Facade
	Ledger  *ledger.Ledger
	Metrics *obs.Metrics
	Inspect inspect.Config
}

type handler struct {
	facade  *cache.Facade
	ledger  *ledger.Ledger
	metrics *obs.Metrics
	inspect inspect.Config
}

// NewHandler serves the cache API under /v1/ and the ops endpoints. Only
// /v1/ traffic is fingerprinted.
func NewHandler(deps Deps) http.Handler {
	h := &handler{
		facade:  deps.Facade,
		ledger:  deps.Ledger,
		metrics: deps.Metrics,
		inspect: deps.Inspect,
	}
	if h.inspect.Metrics == nil {
		h.inspect.Metrics = deps.Metrics
	}

	api := http.NewServeMux()
	api.HandleFunc("/v1/cache/{key}", h.handleCache)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.Handle("/metrics", deps.Metrics.Handler())
	mux.HandleFunc("/debug/cache/stats", h.handleStats)
	mux.HandleFunc("/debug/cache/keys", h.handleLocalKeys)
	mux.HandleFunc("/debug/fingerprints/flagged", h.handleFlagged)
	mux.HandleFunc("/debug/fingerprints/{session}", h.handleFingerprint)
	mux.Handle("/v1/", inspect.Middleware(deps.Ledger, h.inspect, api))

	return withRequestID(mux)
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(RequestIDHeader) == "" {
			r.Header.Set(RequestIDHeader, newRequestID())
		}
		w.Header().Set(RequestIDHeader, r.Header.Get(RequestIDHeader))
		next.ServeHTTP(w, r)
	})
}

func newRequestID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	backend := cache.HealthUnconfigured
	if h.facade != nil {
		backend = h.facade.Health()
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"backend": backend.String(),
	})
}

func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.facade == nil {
		writeError(w, http.StatusServiceUnavailable, "cache unavailable")
		return
	}
	writeJSON(w, http.StatusOK, h.facade.Stats())
}

// handleLocalKeys lists the keys held by the local fallback store, which is
// where writes land while the remote is degraded.
func (h *handler) handleLocalKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.facade == nil {
		writeError(w, http.StatusServiceUnavailable, "cache unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"backend": h.facade.Health().String(),
		"keys":    h.facade.Local().Keys(),
	})
}

func (h *handler) handleFingerprint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}
	rec, ok := h.ledger.Lookup(r.PathValue("session"))
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) handleFlagged(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}
	query := r.URL.Query()

	threshold := defaultFlagThreshold
	if h.inspect.Threshold > 0 {
		threshold = h.inspect.Threshold
	}
	if raw := query.Get("threshold"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "threshold must be a non-negative integer")
			return
		}
		threshold = parsed
	}

	window := defaultFlagWindow
	if raw := query.Get("window_seconds"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "window_seconds must be a positive integer")
			return
		}
		window = time.Duration(parsed) * time.Second
	}

	origins := h.ledger.Flagged(threshold, window)
	h.metrics.SetFlaggedOrigins(len(origins))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"threshold":      threshold,
		"window_seconds": int(window / time.Second),
		"origins":        origins,
		"records":        h.ledger.Len(),
		"capacity":       h.ledger.Capacity(),
	})
}

func (h *handler) handleCache(w http.ResponseWriter, r *http.Request) {
	if h.facade == nil {
		writeError(w, http.StatusServiceUnavailable, "cache unavailable")
		return
	}
	key := strings.TrimSpace(r.PathValue("key"))
	if key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		var value json.RawMessage
		if !h.facade.GetJSON(r.Context(), key, &value) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "value": value})
	case http.MethodPut:
		ttl, err := parseTTL(r.URL.Query().Get("ttl_seconds"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		value, err := readValue(w, r)
		if err != nil {
			status := http.StatusBadRequest
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			writeError(w, status, "invalid body")
			return
		}
		h.facade.Set(r.Context(), key, value, ttl)
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		h.facade.Delete(r.Context(), key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// parseTTL returns zero for an absent value so the facade applies its
// default.
func parseTTL(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seconds <= 0 || seconds > maxTTLSeconds {
		return 0, fmt.Errorf("ttl_seconds must be an integer between 1 and %d", maxTTLSeconds)
	}
	return time.Duration(seconds) * time.Second, nil
}

func readValue(w http.ResponseWriter, r *http.Request) (any, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxValueBytes))
	if err != nil {
		return nil, err
	}
	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return nil, err
	}
	return value, nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
