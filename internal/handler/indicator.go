package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/registry/internal/auth"
	"github.com/dukerupert/registry/internal/membership"
)

// Recomputer schedules indicator recomputation. *recompute.Trigger satisfies it.
type Recomputer interface {
	RecomputeFields(ctx context.Context, groupIDs []int64, fields []string) (string, error)
	RecomputeAll(ctx context.Context, fields []string) (int, error)
}

type IndicatorHandler struct {
	svc    *membership.Service
	rec    Recomputer
	names  []string
	logger *slog.Logger
}

func NewIndicatorHandler(svc *membership.Service, rec Recomputer, names []string, logger *slog.Logger) *IndicatorHandler {
	return &IndicatorHandler{svc: svc, rec: rec, names: names, logger: logger}
}

type recomputeRequest struct {
	Fields []string `json:"fields"`
}

// Names lists the indicator fields that can be recomputed.
func (h *IndicatorHandler) Names(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"indicators": h.names})
}

// RecomputeGroup queues an interactive recompute of one group.
func (h *IndicatorHandler) RecomputeGroup(w http.ResponseWriter, r *http.Request) {
	groupID, err := parseIDParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req recomputeRequest
	if err := decode(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	ctx := r.Context()
	if _, err := h.svc.GetGroup(ctx, groupID); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	taskID, err := h.rec.RecomputeFields(ctx, []int64{groupID}, req.Fields)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.logger.Info("group recompute queued", "group_id", groupID, "task_id", taskID, "actor", auth.ActorName(ctx))
	writeJSON(w, http.StatusAccepted, map[string]any{"task_id": taskID, "group_id": groupID})
}

// RecomputeAll queues batch recomputation of every active group.
func (h *IndicatorHandler) RecomputeAll(w http.ResponseWriter, r *http.Request) {
	var req recomputeRequest
	if err := decode(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	batches, err := h.rec.RecomputeAll(r.Context(), req.Fields)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.logger.Info("full recompute queued", "batches", batches, "actor", auth.ActorName(r.Context()))
	writeJSON(w, http.StatusAccepted, map[string]int{"batches": batches})
}
