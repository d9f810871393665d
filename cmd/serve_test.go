package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sdm-cli/internal/blob"
	"github.com/sells-group/sdm-cli/internal/pipeline"
	"github.com/sells-group/sdm-cli/internal/runlog"
)

func newTestRouter(t *testing.T) (http.Handler, blob.Store, *runlog.Log) {
	t.Helper()
	store := blob.NewFS(afero.NewMemMapFs(), "/remote")
	runs, err := runlog.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = runs.Close() })
	require.NoError(t, runs.Migrate(context.Background()))
	return buildRouter(store, testCatalog(t), runs, []string{"https://maps.example.org"}, nil), store, runs
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouter_Health(t *testing.T) {
	h, _, _ := newTestRouter(t)
	rr := get(h, "/health")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestRouter_Datasets(t *testing.T) {
	h, _, _ := newTestRouter(t)
	rr := get(h, "/datasets")
	require.Equal(t, http.StatusOK, rr.Code)

	var body []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body, 2) // ignored rows are hidden
	assert.Equal(t, "owl", body[0]["key"])
	assert.Equal(t, "Owl", body[0]["common_name"])
}

func TestRouter_Result(t *testing.T) {
	h, store, _ := newTestRouter(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, pipeline.ResultKey("owl"), []byte(`{"adm0_list": []}`)))

	rr := get(h, "/results/owl")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"adm0_list": []}`, rr.Body.String())

	// Known dataset without results.
	rr = get(h, "/results/hawk")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// Unknown dataset.
	rr = get(h, "/results/heron")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "unknown dataset")
}

func TestRouter_Summary(t *testing.T) {
	h, store, _ := newTestRouter(t)
	rr := get(h, "/summary")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	require.NoError(t, store.Put(context.Background(), pipeline.SummaryKey, []byte(`{"owl": {"max_zoom": 7}}`)))
	rr = get(h, "/summary")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"owl": {"max_zoom": 7}}`, rr.Body.String())
}

func TestRouter_Runs(t *testing.T) {
	h, _, runs := newTestRouter(t)
	ctx := context.Background()

	rr := get(h, "/runs")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	id, err := runs.Start(ctx, "owl")
	require.NoError(t, err)
	require.NoError(t, runs.Complete(ctx, id, map[string]any{"adm0": 2}))
	require.NoError(t, runs.Skip(ctx, "hawk", "results exist"))

	rr = get(h, "/runs?limit=1")
	require.Equal(t, http.StatusOK, rr.Code)
	var body []runlog.Entry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Len(t, body, 1)

	rr = get(h, "/runs?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_CORS(t *testing.T) {
	h, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/summary", nil)
	req.Header.Set("Origin", "https://maps.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "https://maps.example.org", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	h, _, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/summary", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
