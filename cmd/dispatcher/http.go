package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"courier_grid/internal/config"
	"courier_grid/internal/domain"
	"courier_grid/internal/export"
	"courier_grid/internal/feed"
	"courier_grid/internal/fs"
	"courier_grid/internal/sim"
)

type app struct {
	cfg     config.Config
	runCtx  context.Context
	engine  *sim.Engine
	store   sim.TaskStore
	adapter *feed.Adapter
	exports *fs.Gateway
	logger  *log.Logger
}

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/config", a.handleConfig)
	mux.HandleFunc("/snapshot", a.handleSnapshot)
	mux.HandleFunc("/snapshot.geojson", a.handleGeoJSON)
	mux.HandleFunc("/tasks", a.handleTasks)
	mux.HandleFunc("/tasks.csv", a.handleTasksCSV)
	mux.HandleFunc("/sites", a.handleSites)
	mux.HandleFunc("/structures", a.handleStructures)
	mux.HandleFunc("/obstacles", a.handleObstacles)
	mux.HandleFunc("/control/", a.handleControl)
	mux.HandleFunc("/exports", a.handleExports)
	return loggingMiddleware(a.logger, mux)
}

func (a *app) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"running": a.engine.Running(),
		"run_id":  a.engine.RunID(),
		"tick":    a.engine.CurrentTick(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *app) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"path": a.cfg.Path,
		"raw":  a.cfg.Raw,
		"sim":  a.engine.Config(),
	})
}

func (a *app) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.engine.Snapshot())
}

func (a *app) handleGeoJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	data, err := export.Marshal(a.engine.Snapshot())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *app) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tasks, err := a.store.ListTasks(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, tasks)
	case http.MethodPost:
		var req struct {
			Origin      string `json:"origin"`
			Destination string `json:"destination"`
			Cargo       string `json:"cargo"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
			return
		}
		if strings.TrimSpace(req.Origin) == "" || strings.TrimSpace(req.Destination) == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("origin and destination are required"))
			return
		}
		task, err := a.adapter.ManualTask(r.Context(), req.Origin, req.Destination, req.Cargo)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, task)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (a *app) handleTasksCSV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tasks, err := a.store.ListTasks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.WriteHeader(http.StatusOK)
	if err := feed.WriteCSV(w, tasks); err != nil {
		a.logger.Printf("write tasks csv: %v", err)
	}
}

type cellRequest struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Kind  string `json:"kind"`
	Label string `json:"label"`
	DX    int    `json:"dx"`
	DY    int    `json:"dy"`
}

func decodeCell(r *http.Request) (cellRequest, error) {
	var req cellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return cellRequest{}, fmt.Errorf("invalid json body: %w", err)
	}
	return req, nil
}

func (a *app) handleSites(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.engine.Grid().Sites())
	case http.MethodPost:
		req, err := decodeCell(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		kind := domain.SiteHospital
		if strings.EqualFold(req.Kind, string(domain.SiteRemote)) {
			kind = domain.SiteRemote
		}
		site, err := a.engine.PlaceSite(domain.Cell{X: req.X, Y: req.Y}, kind, req.Label)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, site)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (a *app) handleStructures(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.engine.Grid().Structures())
	case http.MethodPost:
		req, err := decodeCell(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		c := domain.Cell{X: req.X, Y: req.Y}
		if err := a.engine.PlaceStructure(c); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (a *app) handleObstacles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req, err := decodeCell(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	dir := domain.Direction{DX: req.DX, DY: req.DY}
	valid := false
	for _, d := range domain.Directions {
		if d == dir {
			valid = true
		}
	}
	if !valid {
		writeError(w, http.StatusBadRequest, fmt.Errorf("direction must be one axis step"))
		return
	}
	o, err := a.engine.AddObstacle(domain.Cell{X: req.X, Y: req.Y}, dir)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (a *app) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	action := strings.TrimPrefix(r.URL.Path, "/control/")
	var err error
	switch action {
	case "start":
		// runs outlive the request, so they hang off the server context
		err = a.engine.Start(a.runCtx)
	case "stop":
		err = a.engine.Stop()
	case "reset":
		err = a.engine.Reset(r.Context())
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown control action %q", action))
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"action":  action,
		"running": a.engine.Running(),
		"run_id":  a.engine.RunID(),
	})
}

// handleExports writes the current snapshot and task log under the export root.
func (a *app) handleExports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if a.exports == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("exports are not configured"))
		return
	}
	snap := a.engine.Snapshot()
	tasks, err := a.store.ListTasks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	geo, err := export.Marshal(snap)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	var csvBuf bytes.Buffer
	if err := feed.WriteCSV(&csvBuf, tasks); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	stem := fmt.Sprintf("%s-t%d", firstNonEmpty(snap.RunID, "idle"), snap.Tick)
	geoPath, err := a.exports.WriteFile("snapshots/"+stem+".geojson", geo)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	csvPath, err := a.exports.WriteFile("tasks/"+stem+".csv", csvBuf.Bytes())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"root":     a.exports.Root(),
		"snapshot": geoPath,
		"tasks":    csvPath,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownSite), errors.Is(err, feed.ErrSameSite),
		errors.Is(err, domain.ErrOutOfBounds), errors.Is(err, domain.ErrInvalidLabel):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrCellOccupied), errors.Is(err, domain.ErrAlreadyRunning),
		errors.Is(err, domain.ErrNotRunning), errors.Is(err, domain.ErrDuplicateTask):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func loggingMiddleware(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
