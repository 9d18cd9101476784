package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/qbit_mover/internal/logctx"
	"github.com/italolelis/qbit_mover/internal/reconcile"
	"github.com/italolelis/qbit_mover/internal/storage"
	"github.com/italolelis/qbit_mover/internal/telemetry"
)

const (
	defaultRelocationsLimit = 50
	maxRelocationsLimit     = 500
)

// CycleStatus keeps the most recent cycle result for the status endpoint.
type CycleStatus struct {
	mu   sync.RWMutex
	last *reconcile.CycleResult
}

// Record stores result. Its signature matches scheduler.CycleHook.
func (s *CycleStatus) Record(_ context.Context, result reconcile.CycleResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.last = &result
}

// Last returns the most recent result, or nil before the first cycle ends.
func (s *CycleStatus) Last() *reconcile.CycleResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.last == nil {
		return nil
	}

	last := *s.last

	return &last
}

type cycleView struct {
	reconcile.CycleResult
	DurationSeconds float64  `json:"duration_seconds"`
	ErrorCount      int      `json:"error_count"`
	Errors          []string `json:"errors"`
}

type statusResponse struct {
	State     string     `json:"state"`
	LastCycle *cycleView `json:"last_cycle"`
}

// StatusHandler serves read-only views of the mover. It has no endpoints
// that change anything.
type StatusHandler struct {
	status    *CycleStatus
	state     func() string
	ledger    storage.RelocationReadRepository
	telemetry *telemetry.Telemetry
}

// NewStatusHandler builds the handler. ledger and tel may be nil.
func NewStatusHandler(status *CycleStatus, state func() string, ledger storage.RelocationReadRepository, tel *telemetry.Telemetry) *StatusHandler {
	return &StatusHandler{status: status, state: state, ledger: ledger, telemetry: tel}
}

func (h *StatusHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Observe(h.telemetry))

	r.Get("/healthz", h.HandleHealth)
	r.Get("/status", h.HandleStatus)

	if h.ledger != nil {
		r.Get("/relocations", h.HandleRelocations)
	}

	if h.telemetry != nil {
		r.Method(http.MethodGet, "/metrics", h.telemetry.Handler())
	}

	return r
}

func (h *StatusHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{State: "running"}
	if h.state != nil {
		resp.State = h.state()
	}

	if last := h.status.Last(); last != nil {
		resp.LastCycle = &cycleView{
			CycleResult:     *last,
			DurationSeconds: last.Duration.Round(time.Millisecond).Seconds(),
			ErrorCount:      last.ErrorCount(),
			Errors:          last.ErrorMessages(),
		}
	}

	h.writeJSON(w, r, resp)
}

func (h *StatusHandler) HandleRelocations(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	limit := defaultRelocationsLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)

			return
		}

		limit = min(n, maxRelocationsLimit)
	}

	records, err := h.ledger.ListRelocations(r.Context(), limit)
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to list relocations", "err", err)
		http.Error(w, "failed to list relocations", http.StatusInternalServerError)

		return
	}

	if records == nil {
		records = []storage.RelocationRecord{}
	}

	h.writeJSON(w, r, records)
}

func (h *StatusHandler) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "failed to encode response", "err", err)
	}
}
