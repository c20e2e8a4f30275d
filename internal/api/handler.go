// Package api provides the HTTP handlers of the asset runtime.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"airlift-demo/internal/asset"
	"airlift-demo/internal/bridge"
	"airlift-demo/internal/domain"
	"airlift-demo/internal/middleware"
)

const (
	defaultMaterializationLimit = 20
	maxMaterializationLimit     = 500
	maxBodyBytes                = 1 << 20
)

// Materializer runs a selection of definitions.
type Materializer interface {
	Materialize(ctx context.Context, defs *asset.Definitions, opts asset.MaterializeOptions) (*domain.Run, error)
}

// TaskRunner executes the assets of a proxied task or of a DAG proxied as
// a whole.
type TaskRunner interface {
	RunTask(ctx context.Context, dagID, taskID, runID string) (*domain.Run, error)
	RunDag(ctx context.Context, dagID, runID string) (*domain.Run, error)
}

// Handler serves the definitions of one stage.
type Handler struct {
	stage        string
	defs         *asset.Definitions
	events       domain.EventRepository
	materializer Materializer
	tasks        TaskRunner
	state        bridge.StateLoader
	logger       *slog.Logger
}

// NewHandler creates a new Handler. tasks and state may be nil when the
// stage has no proxied execution.
func NewHandler(stage string, defs *asset.Definitions, events domain.EventRepository,
	m Materializer, tasks TaskRunner, state bridge.StateLoader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		stage:        stage,
		defs:         defs,
		events:       events,
		materializer: m,
		tasks:        tasks,
		state:        state,
		logger:       logger.With("component", "api"),
	}
}

// Routes mounts the handlers on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.health)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/assets", h.listAssets)
		// Asset keys contain slashes, so the key is everything before the
		// trailing resource name.
		r.Get("/assets/*", h.listMaterializations)
		r.Get("/checks/*", h.getCheckEvaluation)
		r.Post("/materialize", h.materialize)
		r.Post("/dags/{dag_id}/run", h.runDag)
		r.Post("/dags/{dag_id}/tasks/{task_id}/run", h.runTask)
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatusFromDomainError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, Error{
		Code:      status,
		Message:   err.Error(),
		RequestID: middleware.RequestIDFromContext(r.Context()),
	})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "stage": h.stage})
}

func (h *Handler) listAssets(w http.ResponseWriter, r *http.Request) {
	specs := h.defs.AllSpecs()
	keys := make([]string, len(specs))
	for i, s := range specs {
		keys[i] = s.Key.String()
	}
	latest, err := h.events.LatestMaterializations(r.Context(), keys)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var state bridge.ProxiedState
	if h.state != nil {
		if state, err = h.state(); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	out := make([]Asset, 0, len(specs))
	for _, s := range specs {
		a := assetFromSpec(h.defs, s, state)
		if ev, ok := latest[s.Key.String()]; ok {
			m := materializationFromEvent(*ev)
			a.LatestMaterialization = &m
		}
		out = append(out, a)
	}
	writeJSON(w, http.StatusOK, ListAssetsResponse{Stage: h.stage, Assets: out})
}

func (h *Handler) listMaterializations(w http.ResponseWriter, r *http.Request) {
	rest, ok := strings.CutSuffix(chi.URLParam(r, "*"), "/materializations")
	if !ok {
		h.writeError(w, r, domain.ErrNotFound("unknown resource %s", r.URL.Path))
		return
	}
	key, err := asset.ParseKey(rest)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, ok := h.defs.Spec(key); !ok {
		h.writeError(w, r, domain.ErrNotFound("asset %s not found", key))
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	events, err := h.events.ListMaterializations(r.Context(), key.String(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]Materialization, len(events))
	for i, ev := range events {
		out[i] = materializationFromEvent(ev)
	}
	writeJSON(w, http.StatusOK, ListMaterializationsResponse{AssetKey: key.String(), Materializations: out})
}

func (h *Handler) getCheckEvaluation(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	i := strings.LastIndex(path, "/")
	if i <= 0 || i == len(path)-1 {
		h.writeError(w, r, domain.ErrValidation("expected /checks/{asset}/{check}"))
		return
	}
	key, err := asset.ParseKey(path[:i])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	name := path[i+1:]

	ev, err := h.events.LatestCheckEvaluation(r.Context(), key.String(), name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if ev == nil {
		h.writeError(w, r, domain.ErrNotFound("no evaluation of check %s on %s", name, key))
		return
	}
	writeJSON(w, http.StatusOK, checkFromEvaluation(*ev))
}

func (h *Handler) materialize(w http.ResponseWriter, r *http.Request) {
	var req MaterializeRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	keys, err := asset.Keys(req.Selection...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	run, err := h.materializer.Materialize(r.Context(), h.defs, asset.MaterializeOptions{
		Selection:    keys,
		PartitionKey: req.PartitionKey,
		TriggerType:  domain.TriggerTypeManual,
	})
	h.writeRun(w, r, run, err)
}

func (h *Handler) runTask(w http.ResponseWriter, r *http.Request) {
	if h.tasks == nil {
		h.writeError(w, r, domain.ErrNotFound("stage %s does not run proxied tasks", h.stage))
		return
	}
	var req RunTaskRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	run, err := h.tasks.RunTask(r.Context(), chi.URLParam(r, "dag_id"), chi.URLParam(r, "task_id"), req.RunID)
	h.writeRun(w, r, run, err)
}

func (h *Handler) runDag(w http.ResponseWriter, r *http.Request) {
	if h.tasks == nil {
		h.writeError(w, r, domain.ErrNotFound("stage %s does not run proxied dags", h.stage))
		return
	}
	var req RunTaskRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	run, err := h.tasks.RunDag(r.Context(), chi.URLParam(r, "dag_id"), req.RunID)
	h.writeRun(w, r, run, err)
}

// writeRun reports a finished run with 200 even when units failed; the
// run status tells the caller. Errors without a run map to a status.
func (h *Handler) writeRun(w http.ResponseWriter, r *http.Request, run *domain.Run, err error) {
	if run == nil {
		if err == nil {
			err = errors.New("no run was produced")
		}
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runFromDomain(run))
}

// decodeBody decodes a JSON body. An empty body leaves v unchanged.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return domain.ErrValidation("invalid request body: %v", err)
	}
	return nil
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return defaultMaterializationLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, domain.ErrValidation("limit must be a positive integer")
	}
	return min(n, maxMaterializationLimit), nil
}
