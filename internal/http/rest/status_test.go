package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/italolelis/qbit_mover/internal/reconcile"
	"github.com/italolelis/qbit_mover/internal/storage"
	"github.com/italolelis/qbit_mover/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLedger struct {
	records   []storage.RelocationRecord
	err       error
	lastLimit int
}

func (m *mockLedger) FindRelocation(context.Context, string, string) (*storage.RelocationRecord, error) {
	return nil, storage.ErrNotFound
}

func (m *mockLedger) ListRelocations(_ context.Context, limit int) ([]storage.RelocationRecord, error) {
	m.lastLimit = limit

	return m.records, m.err
}

func serve(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	return rec
}

func TestHealthz(t *testing.T) {
	h := NewStatusHandler(&CycleStatus{}, nil, nil, nil).Routes()

	rec := serve(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestRequestIDIsPropagated(t *testing.T) {
	h := NewStatusHandler(&CycleStatus{}, nil, nil, nil).Routes()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestStatus_BeforeFirstCycle(t *testing.T) {
	h := NewStatusHandler(&CycleStatus{}, func() string { return "running" }, nil, nil).Routes()

	rec := serve(t, h, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"state":"running","last_cycle":null}`, rec.Body.String())
}

func TestStatus_LastCycle(t *testing.T) {
	status := &CycleStatus{}
	status.Record(context.Background(), reconcile.CycleResult{
		ID:        "cycle-1",
		StartedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Duration:  1500 * time.Millisecond,
		Servers:   2,
		Online:    1,
		Offline:   1,
		Relocated: 3,
		Errors: []error{
			&reconcile.AggregateError{Server: "http://a", Errs: []error{errors.New("x"), errors.New("y")}},
		},
	})

	h := NewStatusHandler(status, func() string { return "shutting_down" }, nil, nil).Routes()

	rec := serve(t, h, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		State     string `json:"state"`
		LastCycle struct {
			ID              string   `json:"id"`
			Servers         int      `json:"servers"`
			Offline         int      `json:"offline"`
			Relocated       int      `json:"relocated"`
			DurationSeconds float64  `json:"duration_seconds"`
			ErrorCount      int      `json:"error_count"`
			Errors          []string `json:"errors"`
		} `json:"last_cycle"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.Equal(t, "shutting_down", body.State)
	assert.Equal(t, "cycle-1", body.LastCycle.ID)
	assert.Equal(t, 2, body.LastCycle.Servers)
	assert.Equal(t, 1, body.LastCycle.Offline)
	assert.Equal(t, 3, body.LastCycle.Relocated)
	assert.InDelta(t, 1.5, body.LastCycle.DurationSeconds, 0.001)
	assert.Equal(t, 2, body.LastCycle.ErrorCount)
	require.Len(t, body.LastCycle.Errors, 1)
	assert.Contains(t, body.LastCycle.Errors[0], "http://a")
}

func TestRelocations(t *testing.T) {
	ledger := &mockLedger{records: []storage.RelocationRecord{
		{Server: "http://a", Hash: "h1", Name: "Movie.mkv", Status: storage.StatusCompleted},
	}}

	h := NewStatusHandler(&CycleStatus{}, nil, ledger, nil).Routes()

	rec := serve(t, h, "/relocations")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultRelocationsLimit, ledger.lastLimit)

	var records []storage.RelocationRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "h1", records[0].Hash)

	serve(t, h, "/relocations?limit=10000")
	assert.Equal(t, maxRelocationsLimit, ledger.lastLimit)
}

func TestRelocations_Errors(t *testing.T) {
	h := NewStatusHandler(&CycleStatus{}, nil, &mockLedger{}, nil).Routes()
	assert.Equal(t, http.StatusBadRequest, serve(t, h, "/relocations?limit=abc").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, h, "/relocations?limit=0").Code)

	empty := serve(t, h, "/relocations")
	assert.Equal(t, http.StatusOK, empty.Code)
	assert.JSONEq(t, `[]`, empty.Body.String())

	failing := NewStatusHandler(&CycleStatus{}, nil, &mockLedger{err: errors.New("db closed")}, nil).Routes()
	assert.Equal(t, http.StatusInternalServerError, serve(t, failing, "/relocations").Code)
}

func TestRelocations_NoLedger(t *testing.T) {
	h := NewStatusHandler(&CycleStatus{}, nil, nil, nil).Routes()

	assert.Equal(t, http.StatusNotFound, serve(t, h, "/relocations").Code)
}

func TestReadOnly(t *testing.T) {
	h := NewStatusHandler(&CycleStatus{}, nil, &mockLedger{}, nil).Routes()

	for _, path := range []string{"/healthz", "/status", "/relocations"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
	}
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()

	tel, err := telemetry.New(ctx, telemetry.Config{Enabled: true, ServiceName: "qbit_mover_rest_test"})
	require.NoError(t, err)

	defer tel.Shutdown(ctx)

	h := NewStatusHandler(&CycleStatus{}, nil, nil, tel).Routes()

	serve(t, h, "/healthz")

	rec := serve(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}
