package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/registry/internal/auth"
	"github.com/dukerupert/registry/internal/membership"
	"github.com/dukerupert/registry/internal/model"
)

type MemberHandler struct {
	svc    *membership.Service
	kinds  *membership.KindRegistry
	logger *slog.Logger
}

func NewMemberHandler(svc *membership.Service, kinds *membership.KindRegistry, logger *slog.Logger) *MemberHandler {
	return &MemberHandler{svc: svc, kinds: kinds, logger: logger}
}

func (h *MemberHandler) List(w http.ResponseWriter, r *http.Request) {
	groupID, err := parseIDParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return
	}
	members, err := h.svc.ListMembers(r.Context(), groupID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// Create links an individual to the group. The body either names an
// existing individual by id or carries the demographics of a new one.
func (h *MemberHandler) Create(w http.ResponseWriter, r *http.Request) {
	groupID, err := parseIDParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		IndividualID *int64             `json:"individual_id"`
		Individual   *registrantRequest `json:"individual"`
		Kinds        []string           `json:"kinds"`
		StartAt      *Date              `json:"start_at"`
		EndedAt      *Date              `json:"ended_at"`
	}
	if err := decode(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	ctx := r.Context()
	var startAt time.Time
	if t := req.StartAt.Ptr(); t != nil {
		startAt = *t
	}

	switch {
	case req.Individual != nil:
		var ind model.Registrant
		req.Individual.apply(&ind)
		member, err := h.svc.AddIndividual(ctx, groupID, membership.AddIndividualInput{
			Individual: ind,
			KindNames:  req.Kinds,
			StartAt:    startAt,
			EndedAt:    req.EndedAt.Ptr(),
		})
		if err != nil {
			writeError(w, h.logger, r, err)
			return
		}
		h.logger.Info("member added", "group_id", groupID, "membership_id", member.ID, "actor", auth.ActorName(ctx))
		writeJSON(w, http.StatusCreated, member)

	case req.IndividualID != nil:
		kindIDs, err := h.resolveKinds(ctx, req.Kinds)
		if err != nil {
			writeError(w, h.logger, r, err)
			return
		}
		m, err := h.svc.Add(ctx, membership.AddInput{
			GroupID:      groupID,
			IndividualID: *req.IndividualID,
			KindIDs:      kindIDs,
			StartAt:      startAt,
			EndedAt:      req.EndedAt.Ptr(),
		})
		if err != nil {
			writeError(w, h.logger, r, err)
			return
		}
		h.logger.Info("member added", "group_id", groupID, "membership_id", m.ID, "actor", auth.ActorName(ctx))
		writeJSON(w, http.StatusCreated, m)

	default:
		writeError(w, h.logger, r, model.ErrRequired("individual_id"))
	}
}

func (h *MemberHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		Kinds    *[]string `json:"kinds"`
		StartAt  *Date     `json:"start_at"`
		EndedAt  *Date     `json:"ended_at"`
		ClearEnd bool      `json:"clear_end"`
	}
	if err := decode(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	ctx := r.Context()
	in := membership.UpdateInput{
		StartAt:  req.StartAt.Ptr(),
		EndedAt:  req.EndedAt.Ptr(),
		ClearEnd: req.ClearEnd,
	}
	if req.Kinds != nil {
		ids, err := h.resolveKinds(ctx, *req.Kinds)
		if err != nil {
			writeError(w, h.logger, r, err)
			return
		}
		in.KindIDs = &ids
	}

	m, err := h.svc.Update(ctx, id, in)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.logger.Info("membership updated", "id", id, "actor", auth.ActorName(ctx))
	writeJSON(w, http.StatusOK, m)
}

func (h *MemberHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.svc.Remove(r.Context(), id); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.logger.Info("membership removed", "id", id, "actor", auth.ActorName(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

type memberAdd struct {
	IndividualID int64    `json:"individual_id"`
	Kinds        []string `json:"kinds"`
	StartAt      *Date    `json:"start_at"`
	EndedAt      *Date    `json:"ended_at"`
}

type memberChange struct {
	ID          int64    `json:"id"`
	AddKinds    []string `json:"add_kinds"`
	RemoveKinds []string `json:"remove_kinds"`
	EndedAt     *Date    `json:"ended_at"`
}

// Edit applies a batch of membership changes to one group. Removals run
// first, then changes, then additions, so a unique kind can move between
// members in one request. Nothing is stored unless the whole batch passes.
func (h *MemberHandler) Edit(w http.ResponseWriter, r *http.Request) {
	groupID, err := parseIDParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		Add    []memberAdd    `json:"add"`
		Change []memberChange `json:"change"`
		Remove []int64        `json:"remove"`
	}
	if err := decode(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	ctx := r.Context()
	sess, err := h.svc.Edit(ctx, groupID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if err := h.stage(ctx, sess, req.Remove, req.Change, req.Add); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	assigned, err := sess.Commit(ctx)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.logger.Info("members edited", "group_id", groupID,
		"added", len(assigned), "changed", len(req.Change), "removed", len(req.Remove),
		"actor", auth.ActorName(ctx))

	members, err := h.svc.ListMembers(ctx, groupID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *MemberHandler) stage(ctx context.Context, sess *membership.EditSession, remove []int64, change []memberChange, add []memberAdd) error {
	for _, id := range remove {
		if err := sess.Remove(model.Persisted(id)); err != nil {
			return err
		}
	}
	for _, c := range change {
		ref := model.Persisted(c.ID)
		if len(c.RemoveKinds) > 0 {
			ids, err := h.resolveKinds(ctx, c.RemoveKinds)
			if err != nil {
				return err
			}
			if err := sess.RemoveKinds(ref, ids...); err != nil {
				return err
			}
		}
		if len(c.AddKinds) > 0 {
			ids, err := h.resolveKinds(ctx, c.AddKinds)
			if err != nil {
				return err
			}
			if err := sess.AddKinds(ref, ids...); err != nil {
				return err
			}
		}
		if t := c.EndedAt.Ptr(); t != nil {
			if err := sess.End(ref, *t); err != nil {
				return err
			}
		}
	}
	for _, a := range add {
		ids, err := h.resolveKinds(ctx, a.Kinds)
		if err != nil {
			return err
		}
		var startAt time.Time
		if t := a.StartAt.Ptr(); t != nil {
			startAt = *t
		}
		ref, err := sess.AddMember(ctx, a.IndividualID, ids, startAt)
		if err != nil {
			return err
		}
		if t := a.EndedAt.Ptr(); t != nil {
			if err := sess.End(ref, *t); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *MemberHandler) resolveKinds(ctx context.Context, names []string) ([]int64, error) {
	kinds, err := h.kinds.Resolve(ctx, names)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(kinds))
	for _, k := range kinds {
		ids = append(ids, k.ID)
	}
	return ids, nil
}
