// Package server exposes cohort generation and the run archive over
// HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/jregier/n1sim/internal/config"
	"github.com/jregier/n1sim/internal/dataset"
	"github.com/jregier/n1sim/internal/dropout"
	"github.com/jregier/n1sim/internal/random"
	"github.com/jregier/n1sim/internal/sim"
	"github.com/jregier/n1sim/internal/store"
	"github.com/jregier/n1sim/internal/study"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(st *store.Store, logger *zap.Logger) *Handler {
	return &Handler{store: st, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/runs", h.listRuns)
		r.Post("/runs", h.createRun)
		r.Get("/runs/{id}", h.getRun)
		r.Get("/runs/{id}/table", h.getTable)
		r.Delete("/runs/{id}", h.deleteRun)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// runRequest is the POST /api/runs body: a parameter document plus the
// run options the config file would otherwise carry.
type runRequest struct {
	Params        json.RawMessage `json:"params"`
	Design        study.Design    `json:"study_design"`
	DaysPerPeriod int             `json:"days_per_period"`
	Patients      int             `json:"n_patients"`
	Seed          int64           `json:"seed"`
	StartDate     string          `json:"start_date"`
	DropOut       *dropout.Spec   `json:"drop_out"`
	Workers       int             `json:"workers"`
}

func (h *Handler) createRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if len(req.Params) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "params is required"})
		return
	}
	if len(req.Design) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "study_design is required"})
		return
	}
	if req.Patients <= 0 {
		req.Patients = config.DefaultPatients
	}
	if req.DaysPerPeriod <= 0 {
		req.DaysPerPeriod = config.DefaultDaysPerPeriod
	}

	params, err := study.Load(req.Params)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}

	var start time.Time
	if req.StartDate != "" {
		start, err = time.Parse("2006-01-02", req.StartDate)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("start_date: %v", err)})
			return
		}
	}

	seed, err := random.Resolve(req.Seed)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	result, err := sim.Generate(r.Context(), params, sim.Options{
		Design:        req.Design,
		DaysPerPeriod: req.DaysPerPeriod,
		Patients:      req.Patients,
		Seed:          seed,
		Dropout:       req.DropOut,
		StartDate:     start,
		Workers:       req.Workers,
		Logger:        h.logger,
	})
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}

	opts := dataset.Options{WithDates: !start.IsZero()}
	complete := dataset.FromCohort(params, result.Complete, opts)
	var dropTbl *dataset.Table
	if result.Dropout != nil {
		opts.DropColumn = true
		dropTbl = dataset.FromCohort(params, result.Dropout, opts)
	}

	designJSON, err := json.Marshal(req.Design)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	meta := store.Run{
		ID:        store.NewRunID(time.Now()),
		CreatedAt: time.Now().UTC(),
		Seed:      seed,
		Patients:  req.Patients,
		Days:      len(result.Schedule),
		Outcome:   params.Outcome.Name,
		Dropout:   dropTbl != nil,
		Clips:     result.Clips,
		Params:    req.Params,
		Design:    designJSON,
	}
	if err := h.store.SaveRun(r.Context(), store.RunData{Run: meta, Complete: complete, DropTbl: dropTbl}); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	h.logger.Info("run stored",
		zap.String("id", meta.ID),
		zap.Int("patients", meta.Patients),
		zap.Int("days", meta.Days),
		zap.Int64("seed", meta.Seed),
	)

	meta.Params = nil
	meta.Design = nil
	writeJSON(w, http.StatusCreated, meta)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.ListRuns(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) getTable(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cohort := r.URL.Query().Get("cohort")
	if cohort == "" {
		cohort = store.CohortComplete
	}
	if cohort != store.CohortComplete && cohort != store.CohortDropout {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cohort must be complete or dropout"})
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "format must be json or csv"})
		return
	}

	tbl, err := h.store.LoadTable(r.Context(), id, cohort)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	if errors.Is(err, store.ErrNoCohort) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run has no dropout cohort"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s_%s.csv", id, cohort))
		if err := tbl.WriteCSV(w); err != nil {
			h.logger.Warn("csv write aborted", zap.String("id", id), zap.Error(err))
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := tbl.WriteJSON(w); err != nil {
		h.logger.Warn("json write aborted", zap.String("id", id), zap.Error(err))
	}
}

func (h *Handler) deleteRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.store.DeleteRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// statusFor maps parameter and design faults to 400, everything else
// to 500.
func statusFor(err error) int {
	var schemaErr *study.SchemaError
	var unknownTreatment *study.UnknownTreatmentError
	var unreachable *study.UnreachableVariableError
	switch {
	case errors.As(err, &schemaErr),
		errors.As(err, &unknownTreatment),
		errors.As(err, &unreachable),
		errors.Is(err, study.ErrCyclicDependency),
		errors.Is(err, study.ErrEmptyDesign):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
