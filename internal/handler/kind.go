package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/registry/internal/auth"
	"github.com/dukerupert/registry/internal/membership"
	"github.com/dukerupert/registry/internal/model"
)

type KindHandler struct {
	kinds  *membership.KindRegistry
	logger *slog.Logger
}

func NewKindHandler(kinds *membership.KindRegistry, logger *slog.Logger) *KindHandler {
	return &KindHandler{kinds: kinds, logger: logger}
}

func (h *KindHandler) List(w http.ResponseWriter, r *http.Request) {
	kinds, err := h.kinds.List(r.Context())
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if kinds == nil {
		kinds = []model.MembershipKind{}
	}
	writeJSON(w, http.StatusOK, kinds)
}

func (h *KindHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		IsUnique bool   `json:"is_unique"`
	}
	if err := decode(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	k, err := h.kinds.Create(r.Context(), req.Name, req.IsUnique)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.logger.Info("kind created", "id", k.ID, "name", k.Name, "actor", auth.ActorName(r.Context()))
	writeJSON(w, http.StatusCreated, k)
}

// Update renames the kind and/or toggles its uniqueness.
func (h *KindHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		Name     *string `json:"name"`
		IsUnique *bool   `json:"is_unique"`
	}
	if err := decode(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	ctx := r.Context()
	k, err := h.kinds.Get(ctx, id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if req.Name != nil {
		if k, err = h.kinds.Rename(ctx, id, *req.Name); err != nil {
			writeError(w, h.logger, r, err)
			return
		}
	}
	if req.IsUnique != nil {
		if k, err = h.kinds.SetUnique(ctx, id, *req.IsUnique); err != nil {
			writeError(w, h.logger, r, err)
			return
		}
	}
	h.logger.Info("kind updated", "id", id, "actor", auth.ActorName(ctx))
	writeJSON(w, http.StatusOK, k)
}

func (h *KindHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.kinds.Delete(r.Context(), id); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.logger.Info("kind deleted", "id", id, "actor", auth.ActorName(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}
