package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier_grid/internal/config"
	"courier_grid/internal/domain"
	"courier_grid/internal/feed"
	"courier_grid/internal/fs"
	"courier_grid/internal/messaging/inproc"
	"courier_grid/internal/sim"
	"courier_grid/internal/store/memory"
	"courier_grid/internal/testutils"
	"courier_grid/internal/world"
)

func newTestApp(t *testing.T) (*app, http.Handler) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	grid := world.New(10)
	store := memory.New()
	engine := sim.New(grid, world.NewActiveOrigins(), store, inproc.New(16), testutils.NewScriptedRoller(),
		sim.Config{ObstacleBurst: -1, StartBurst: -1, TurnPercent: -1}, logger)
	exports, err := fs.NewGateway(t.TempDir(), logger)
	require.NoError(t, err)
	a := &app{
		cfg:     config.Config{},
		runCtx:  context.Background(),
		engine:  engine,
		store:   store,
		adapter: feed.NewAdapter(grid, store, logger),
		exports: exports,
		logger:  logger,
	}
	t.Cleanup(func() { _ = engine.Stop() })
	return a, a.routes()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSitesEndpoint(t *testing.T) {
	_, h := newTestApp(t)

	rec := do(t, h, http.MethodPost, "/sites", `{"x":1,"y":1,"kind":"hospital"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var site domain.Site
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &site))
	assert.Equal(t, "H1", site.Label)

	rec = do(t, h, http.MethodPost, "/sites", `{"x":1,"y":1,"kind":"remote"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/sites", `{"x":10,"y":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/sites", `{"x":2,"y":2,"kind":"remote","label":"H7"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/sites", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sites []domain.Site
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sites))
	assert.Len(t, sites, 1)
}

func TestTasksEndpoint(t *testing.T) {
	_, h := newTestApp(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/sites", `{"x":0,"y":0}`).Code)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/sites", `{"x":5,"y":5}`).Code)

	rec := do(t, h, http.MethodPost, "/tasks", `{"origin":"H1","destination":"H2","cargo":"plasma"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var task domain.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	assert.True(t, strings.HasPrefix(task.ID, "M-"))
	assert.Equal(t, domain.TaskStatusPending, task.Status)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/tasks", `{"origin":"H1","destination":"H9"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/tasks", `{"origin":"H1","destination":"H1"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/tasks", `{"origin":"H1"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/tasks", `not json`).Code)

	rec = do(t, h, http.MethodGet, "/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var tasks []domain.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "plasma", tasks[0].Cargo)

	rec = do(t, h, http.MethodGet, "/tasks.csv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), strings.Join(feed.Header, ",")))
	assert.Contains(t, rec.Body.String(), task.ID)
}

func TestObstaclesEndpoint(t *testing.T) {
	_, h := newTestApp(t)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/obstacles", `{"x":3,"y":3,"dx":1,"dy":1}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/obstacles", `{"x":30,"y":3,"dx":1}`).Code)

	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/structures", `{"x":4,"y":4}`).Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/obstacles", `{"x":4,"y":4,"dx":1}`).Code)

	rec := do(t, h, http.MethodPost, "/obstacles", `{"x":3,"y":3,"dx":1}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap sim.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap.Obstacles, 1)
	assert.Equal(t, domain.Cell{X: 3, Y: 3}, snap.Obstacles[0].Cell)
	assert.Equal(t, []domain.Cell{{X: 4, Y: 4}}, snap.Structures)

	rec = do(t, h, http.MethodGet, "/snapshot.geojson", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "FeatureCollection")
}

func TestControlEndpoints(t *testing.T) {
	a, h := newTestApp(t)

	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/control/stop", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/control/start", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/control/pause", "").Code)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/control/start", "").Code)
	assert.True(t, a.engine.Running())
	assert.NotEmpty(t, a.engine.RunID())
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/control/start", "").Code)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/control/stop", "").Code)
	assert.False(t, a.engine.Running())

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/control/reset", "").Code)

	rec := do(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, false, health["running"])
}

func TestExportsEndpoint(t *testing.T) {
	a, h := newTestApp(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/sites", `{"x":0,"y":0}`).Code)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/sites", `{"x":3,"y":3}`).Code)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/tasks", `{"origin":"H1","destination":"H2"}`).Code)

	rec := do(t, h, http.MethodPost, "/exports", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "snapshots/idle-t0.geojson", out["snapshot"])
	assert.Equal(t, "tasks/idle-t0.csv", out["tasks"])

	data, err := a.exports.ReadFile(out["tasks"])
	require.NoError(t, err)
	assert.Contains(t, string(data), "urgent")
}

func TestEditsRefusedWhileRunning(t *testing.T) {
	_, h := newTestApp(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/sites", `{"x":0,"y":0}`).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/control/start", "").Code)

	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/sites", `{"x":2,"y":2,"kind":"hospital"}`).Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/structures", `{"x":3,"y":3}`).Code)

	rec := do(t, h, http.MethodPost, "/sites", `{"x":4,"y":4,"kind":"remote"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var remote domain.Site
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &remote))
	assert.Equal(t, domain.SiteRemote, remote.Kind)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/control/stop", "").Code)
	assert.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/sites", `{"x":2,"y":2,"kind":"hospital"}`).Code)
	assert.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/structures", `{"x":3,"y":3}`).Code)
}

func TestServingStatus(t *testing.T) {
	assert.Equal(t, "SERVING", servingStatus(true).String())
	assert.Equal(t, "NOT_SERVING", servingStatus(false).String())
}
