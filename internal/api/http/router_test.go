package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/tessera/internal/aggregate"
	"github.com/arkilian/tessera/internal/maintenance"
	"github.com/arkilian/tessera/internal/observability"
	"github.com/arkilian/tessera/internal/partition"
	"github.com/arkilian/tessera/internal/table"
	"github.com/arkilian/tessera/pkg/types"
)

type testEnv struct {
	router *gin.Engine
	store  *table.Store
	cache  *aggregate.Cache
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	fn, err := partition.NewFunction(partition.Config{
		Boundaries: []int64{
			types.MustKeyForDate("2024-01-01"),
			types.MustKeyForDate("2025-01-01"),
		},
		Policy:   partition.RangeLeft,
		CatchAll: true,
	})
	require.NoError(t, err)

	scheme, err := partition.NewScheme(partition.SchemeConfig{
		Mode:      partition.PlacementSingle,
		Locations: []string{"primary"},
	}, fn)
	require.NoError(t, err)

	store, err := table.New("events", fn, scheme, table.Options{})
	require.NoError(t, err)

	stats := observability.NewScanTracker(time.Hour)
	manager := maintenance.New(store, nil, nil)
	cache := aggregate.New(store, aggregate.Options{})

	h := NewHandlers(store, manager, cache, nil, stats, 0)
	return &testEnv{router: NewRouter(h, nil), store: store, cache: cache}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func TestInsertAndRangeQuery(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/rows", InsertRequest{Rows: []RowPayload{
		{GroupID: "acct-1", Time: "2024-03-10T12:00:00Z", Amount: 10},
		{GroupID: "acct-1", Time: "2024-06-01T00:00:00Z", Amount: 20},
		{GroupID: "acct-2", Time: "2025-02-01T08:30:00Z", Amount: 5},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var ins InsertResponse
	decode(t, w, &ins)
	assert.Equal(t, 3, ins.Inserted)
	assert.Len(t, ins.RowIDs, 3)
	assert.NotEmpty(t, ins.RequestID)

	w = env.do(t, http.MethodGet, "/v1/query/range?from=2024-01-01&to=2024-12-31", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var q RangeQueryResponse
	decode(t, w, &q)
	assert.Len(t, q.Rows, 2)
	assert.Equal(t, 1, q.Scan.PartitionsScanned)
	assert.Equal(t, 2, q.Scan.PartitionsPruned)
}

func TestQueryDegreeUsesConfiguredDefault(t *testing.T) {
	degreeFor := func(h *Handlers, target string) (int, error) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, target, nil)
		return h.queryDegree(c)
	}

	h := &Handlers{scanDegree: 2}

	d, err := degreeFor(h, "/v1/query/range")
	require.NoError(t, err)
	assert.Equal(t, 2, d)

	// An explicit degree param overrides the configured default.
	d, err = degreeFor(h, "/v1/query/range?degree=7")
	require.NoError(t, err)
	assert.Equal(t, 7, d)

	// Unconfigured handlers fall back to the package default.
	d, err = degreeFor(&Handlers{}, "/v1/query/range")
	require.NoError(t, err)
	assert.Equal(t, table.DefaultScanDegree, d)

	for _, bad := range []string{"zero", "0", "-1"} {
		_, err = degreeFor(h, "/v1/query/range?degree="+bad)
		require.Error(t, err, "degree %q", bad)
	}
}

func TestRangeQueryHonorsConfiguredDegree(t *testing.T) {
	env := newTestEnv(t)

	h := NewHandlers(env.store, maintenance.New(env.store, nil, nil), env.cache, nil, nil, 2)
	env.router = NewRouter(h, nil)

	w := env.do(t, http.MethodPost, "/v1/rows", InsertRequest{Rows: []RowPayload{
		{GroupID: "acct-1", Time: "2024-03-10T12:00:00Z", Amount: 10},
		{GroupID: "acct-1", Time: "2025-02-01T12:00:00Z", Amount: 20},
	}})
	require.Equal(t, http.StatusOK, w.Code)

	// No degree param: the scan runs at the configured width and the
	// result set is unchanged.
	w = env.do(t, http.MethodGet, "/v1/query/range?from=2024-01-01&to=2025-12-31", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var q RangeQueryResponse
	decode(t, w, &q)
	assert.Len(t, q.Rows, 2)
}

func TestInsertValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"empty rows", InsertRequest{Rows: []RowPayload{}}},
		{"missing key and time", InsertRequest{Rows: []RowPayload{{GroupID: "a"}}}},
		{"key and time together", InsertRequest{Rows: []RowPayload{
			{GroupID: "a", Key: ptr(int64(5)), Time: "2024-03-10T00:00:00Z"},
		}}},
		{"bad time", InsertRequest{Rows: []RowPayload{{GroupID: "a", Time: "yesterday"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/v1/rows", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestInsertOutOfRangeMapsTo422(t *testing.T) {
	env := newTestEnv(t)

	// Without a catch-all, keys at or above the last boundary are
	// unroutable.
	fn, err := partition.NewFunction(partition.Config{
		Boundaries: []int64{types.MustKeyForDate("2024-01-01")},
		Policy:     partition.RangeLeft,
		CatchAll:   false,
	})
	require.NoError(t, err)
	scheme, err := partition.NewScheme(partition.SchemeConfig{
		Mode:      partition.PlacementSingle,
		Locations: []string{"primary"},
	}, fn)
	require.NoError(t, err)
	store, err := table.New("events", fn, scheme, table.Options{})
	require.NoError(t, err)

	h := NewHandlers(store, maintenance.New(store, nil, nil), aggregate.New(store, aggregate.Options{}), nil, nil, 0)
	env.router = NewRouter(h, nil)

	w := env.do(t, http.MethodPost, "/v1/rows", InsertRequest{Rows: []RowPayload{
		{GroupID: "acct-1", Time: "2025-06-01T00:00:00Z", Amount: 1},
	}})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

	var resp ErrorResponse
	decode(t, w, &resp)
	assert.Equal(t, "ROUTING_FAILED", resp.Code)
	assert.Equal(t, "TABLE", resp.Category)
	assert.False(t, resp.Retryable)
	assert.NotEmpty(t, resp.RequestID)
}

func TestDeleteRow(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/rows", InsertRequest{Rows: []RowPayload{
		{GroupID: "acct-1", Time: "2024-03-10T00:00:00Z", Amount: 10},
	}})
	require.Equal(t, http.StatusOK, w.Code)

	var ins InsertResponse
	decode(t, w, &ins)
	rowID := ins.RowIDs[0]

	key := types.MustKeyForDate("2024-03-10")
	w = env.do(t, http.MethodDelete, fmt.Sprintf("/v1/rows/%s?key=%d", rowID, key), nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Deleting again: the row is gone.
	w = env.do(t, http.MethodDelete, fmt.Sprintf("/v1/rows/%s?key=%d", rowID, key), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAggregateQueryEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/rows", InsertRequest{Rows: []RowPayload{
		{GroupID: "acct-1", Time: "2024-03-08T10:00:00Z", Amount: 10},
		{GroupID: "acct-1", Time: "2024-03-09T10:00:00Z", Amount: 20},
		{GroupID: "acct-2", Time: "2024-03-09T10:00:00Z", Amount: 100},
	}})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/v1/query/aggregate?group=acct-1&from=2024-03-08&to=2024-03-09", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Total aggregate.Total `json:"total"`
	}
	decode(t, w, &resp)
	assert.Equal(t, 30.0, resp.Total.Sum)
	assert.Equal(t, int64(2), resp.Total.Rows)

	w = env.do(t, http.MethodGet, "/v1/query/aggregate?group=acct-1&from=2024-03-08", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPartitionsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/partitions", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Table      string          `json:"table"`
		Version    uint64          `json:"version"`
		CatchAll   bool            `json:"catch_all"`
		Partitions []PartitionInfo `json:"partitions"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "events", resp.Table)
	assert.Equal(t, uint64(1), resp.Version)
	assert.True(t, resp.CatchAll)
	require.Len(t, resp.Partitions, 3)
	assert.Equal(t, "primary", resp.Partitions[0].Location)
}

func TestMaintenanceSplitAndStaleVersion(t *testing.T) {
	env := newTestEnv(t)
	boundary := types.MustKeyForDate("2026-01-01")

	w := env.do(t, http.MethodPost, "/v1/maintenance/split", MaintenanceRequest{
		ExpectedVersion: 1,
		Boundary:        &boundary,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Result maintenance.Result `json:"result"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "split", resp.Result.Op)
	assert.Equal(t, uint64(2), resp.Result.NewVersion)

	// Replaying against the old version conflicts.
	w = env.do(t, http.MethodPost, "/v1/maintenance/split", MaintenanceRequest{
		ExpectedVersion: 1,
		BoundaryDate:    "2027-01-01",
	})
	require.Equal(t, http.StatusConflict, w.Code)

	var errResp ErrorResponse
	decode(t, w, &errResp)
	assert.Equal(t, "STALE_VERSION", errResp.Code)
	assert.True(t, errResp.Retryable)
}

func TestMaintenanceValidation(t *testing.T) {
	env := newTestEnv(t)
	boundary := types.MustKeyForDate("2026-01-01")

	tests := []struct {
		name string
		body MaintenanceRequest
	}{
		{"missing version token", MaintenanceRequest{Boundary: &boundary}},
		{"missing boundary", MaintenanceRequest{ExpectedVersion: 1}},
		{"boundary and date together", MaintenanceRequest{
			ExpectedVersion: 1, Boundary: &boundary, BoundaryDate: "2026-01-01",
		}},
		{"bad date", MaintenanceRequest{ExpectedVersion: 1, BoundaryDate: "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/v1/maintenance/merge", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestCheckpointNotConfigured(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/checkpoints", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/v1/checkpoints/1/restore", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScanStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/query/range?from=2024-01-01&to=2024-12-31", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/v1/stats/scans", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Scans observability.Summary `json:"scans"`
	}
	decode(t, w, &resp)
	assert.Equal(t, int64(1), resp.Scans.Scans)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status  string `json:"status"`
		Table   string `json:"table"`
		Version uint64 `json:"version"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "events", resp.Table)
	assert.Equal(t, uint64(1), resp.Version)
}

func TestRequestIDPropagation(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/partitions", nil)
	req.Header.Set("X-Request-ID", "req-abc-123")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-abc-123", w.Header().Get("X-Request-ID"))

	var resp struct {
		RequestID string `json:"request_id"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "req-abc-123", resp.RequestID)
}

func ptr[T any](v T) *T { return &v }
