package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/store"
)

type mockReader struct{ mock.Mock }

func (m *mockReader) GetIncident(ctx context.Context, id string) (*model.Incident, error) {
	args := m.Called(ctx, id)
	inc, _ := args.Get(0).(*model.Incident)
	return inc, args.Error(1)
}

func (m *mockReader) ListIncidents(ctx context.Context, filter store.IncidentFilter) ([]model.Incident, error) {
	args := m.Called(ctx, filter)
	incs, _ := args.Get(0).([]model.Incident)
	return incs, args.Error(1)
}

func (m *mockReader) GetRunLog(ctx context.Context, runID string) (*model.RunLog, error) {
	args := m.Called(ctx, runID)
	rl, _ := args.Get(0).(*model.RunLog)
	return rl, args.Error(1)
}

func (m *mockReader) ListRunLogs(ctx context.Context, limit int) ([]model.RunLog, error) {
	args := m.Called(ctx, limit)
	logs, _ := args.Get(0).([]model.RunLog)
	return logs, args.Error(1)
}

type stubStats struct {
	days  int
	stats *model.RunStats
}

func (s *stubStats) Stats(_ context.Context, days int) (*model.RunStats, error) {
	s.days = days
	return s.stats, nil
}

var created = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func sampleIncident() model.Incident {
	return model.Incident{
		ID:          "inc-1",
		ContentHash: "9d41aba816fe147d",
		CreatedAt:   created,
		Readings: []model.Reading{
			{StationID: "A", Value: 5, Source: model.SourceFlood, Lat: model.Float(51.0), Lon: model.Float(-0.1)},
			{StationID: "B", Value: 6, Source: model.SourceFlood, Lat: model.Float(51.05), Lon: model.Float(-0.12)},
		},
		Alerts: []model.Alert{{Summary: "Elevated levels", Priority: model.PriorityHigh}},
	}
}

func do(t *testing.T, h *Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, &Handler{}, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListIncidents(t *testing.T) {
	m := &mockReader{}
	since := time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)
	m.On("ListIncidents", mock.Anything, store.IncidentFilter{Since: since, Limit: 5, Offset: 10}).
		Return([]model.Incident{sampleIncident()}, nil).Once()

	rec := do(t, &Handler{Store: m}, "/incidents?since=2025-02-28T00:00:00Z&limit=5&offset=10")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []model.Incident
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "inc-1", got[0].ID)
	m.AssertExpectations(t)
}

func TestListIncidents_EmptyIsArray(t *testing.T) {
	m := &mockReader{}
	m.On("ListIncidents", mock.Anything, store.IncidentFilter{}).Return(nil, nil).Once()

	rec := do(t, &Handler{Store: m}, "/incidents")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestListIncidents_SinceDuration(t *testing.T) {
	m := &mockReader{}
	m.On("ListIncidents", mock.Anything, mock.MatchedBy(func(f store.IncidentFilter) bool {
		age := time.Since(f.Since)
		return age > 23*time.Hour && age < 25*time.Hour
	})).Return([]model.Incident{}, nil).Once()

	rec := do(t, &Handler{Store: m}, "/incidents?since=24h")
	assert.Equal(t, http.StatusOK, rec.Code)
	m.AssertExpectations(t)
}

func TestListIncidents_BadParams(t *testing.T) {
	for _, q := range []string{"since=yesterday", "limit=-1", "offset=abc"} {
		t.Run(q, func(t *testing.T) {
			rec := do(t, &Handler{Store: &mockReader{}}, "/incidents?"+q)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestGetIncident(t *testing.T) {
	m := &mockReader{}
	inc := sampleIncident()
	m.On("GetIncident", mock.Anything, "inc-1").Return(&inc, nil)
	m.On("GetIncident", mock.Anything, "missing").Return(nil, store.ErrNotFound)
	m.On("GetIncident", mock.Anything, "broken").Return(nil, errors.New("pool closed"))
	h := &Handler{Store: m}

	rec := do(t, h, "/incidents/inc-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"content_hash":"9d41aba816fe147d"`)

	rec = do(t, h, "/incidents/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, "/incidents/broken")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pool closed")
}

func TestIncidentsGeoJSON(t *testing.T) {
	m := &mockReader{}
	noCoords := model.Incident{ID: "inc-2", Readings: []model.Reading{{StationID: "X", Value: 9}}}
	m.On("ListIncidents", mock.Anything, store.IncidentFilter{}).
		Return([]model.Incident{sampleIncident(), noCoords}, nil).Once()

	rec := do(t, &Handler{Store: m}, "/incidents.geojson")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			ID       string `json:"id"`
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 1)

	f := fc.Features[0]
	assert.Equal(t, "inc-1", f.ID)
	assert.Equal(t, "Point", f.Geometry.Type)
	require.Len(t, f.Geometry.Coordinates, 2)
	assert.InDelta(t, -0.11, f.Geometry.Coordinates[0], 1e-9)
	assert.InDelta(t, 51.025, f.Geometry.Coordinates[1], 1e-9)
	assert.Equal(t, "high", f.Properties["priority"])
	assert.Equal(t, "2025-03-01T09:00:00Z", f.Properties["created_at"])
}

func TestRuns(t *testing.T) {
	m := &mockReader{}
	m.On("ListRunLogs", mock.Anything, 20).Return([]model.RunLog{{RunID: "run-1"}}, nil).Once()
	m.On("ListRunLogs", mock.Anything, 3).Return(nil, nil).Once()
	m.On("GetRunLog", mock.Anything, "run-1").Return(&model.RunLog{RunID: "run-1", IncidentsCreated: 2}, nil)
	m.On("GetRunLog", mock.Anything, "nope").Return(nil, store.ErrNotFound)
	h := &Handler{Store: m}

	rec := do(t, h, "/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"run_id":"run-1"`)

	rec = do(t, h, "/runs?limit=3")
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = do(t, h, "/runs/run-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"incidents_created":2`)

	rec = do(t, h, "/runs/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	m.AssertExpectations(t)
}

func TestRunStats(t *testing.T) {
	s := &stubStats{stats: &model.RunStats{TotalRuns: 4, DuplicateRate: 50, LookbackDays: 3}}
	rec := do(t, &Handler{Stats: s}, "/runs/stats?days=3")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, s.days)
	assert.Contains(t, rec.Body.String(), `"duplicate_rate":50`)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "envintel_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	rec := do(t, &Handler{Gatherer: reg}, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "envintel_test_total 1"))
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/incidents", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()

	(&Handler{Store: &mockReader{}}).Router().ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
