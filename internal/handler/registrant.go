package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/registry/internal/auth"
	"github.com/dukerupert/registry/internal/membership"
	"github.com/dukerupert/registry/internal/model"
	"github.com/dukerupert/registry/internal/store"
)

type RegistrantHandler struct {
	svc    *membership.Service
	logger *slog.Logger
}

func NewRegistrantHandler(svc *membership.Service, logger *slog.Logger) *RegistrantHandler {
	return &RegistrantHandler{svc: svc, logger: logger}
}

type registrantRequest struct {
	Name       *string `json:"name"`
	GivenName  *string `json:"given_name"`
	FamilyName *string `json:"family_name"`
	Gender     *string `json:"gender"`
	Birthdate  *Date   `json:"birthdate"`
	Disabled   *bool   `json:"disabled"`
}

// apply copies the fields present in the request onto r.
func (req registrantRequest) apply(r *model.Registrant) {
	if req.Name != nil {
		r.Name = *req.Name
	}
	if r.IsGroup {
		return
	}
	if req.GivenName != nil {
		r.GivenName = *req.GivenName
	}
	if req.FamilyName != nil {
		r.FamilyName = *req.FamilyName
	}
	if req.Gender != nil {
		r.Gender = *req.Gender
	}
	if req.Birthdate != nil {
		r.Birthdate = req.Birthdate.Ptr()
	}
}

// groupDetail is a group with its member listing.
type groupDetail struct {
	*model.Group
	Members []model.Member `json:"members"`
}

func (h *RegistrantHandler) ListIndividuals(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, false)
}

func (h *RegistrantHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, true)
}

func (h *RegistrantHandler) list(w http.ResponseWriter, r *http.Request, isGroup bool) {
	q := r.URL.Query()
	includeDisabled, _ := strconv.ParseBool(q.Get("include_disabled"))
	registrants, err := h.svc.ListRegistrants(r.Context(), store.ListFilter{
		IsGroup:         &isGroup,
		NameContains:    q.Get("q"),
		IncludeDisabled: includeDisabled,
		Limit:           queryInt(r, "limit", 100),
		Offset:          queryInt(r, "offset", 0),
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if registrants == nil {
		registrants = []model.Registrant{}
	}
	writeJSON(w, http.StatusOK, registrants)
}

func (h *RegistrantHandler) CreateIndividual(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, false)
}

func (h *RegistrantHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, true)
}

func (h *RegistrantHandler) create(w http.ResponseWriter, r *http.Request, isGroup bool) {
	var req registrantRequest
	if err := decode(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	reg := model.Registrant{IsGroup: isGroup}
	req.apply(&reg)

	created, err := h.svc.CreateRegistrant(r.Context(), reg)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.logger.Info("registrant created", "id", created.ID, "group", isGroup, "actor", auth.ActorName(r.Context()))
	writeJSON(w, http.StatusCreated, created)
}

func (h *RegistrantHandler) GetIndividual(w http.ResponseWriter, r *http.Request) {
	reg, ok := h.load(w, r, false)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// IndividualMemberships lists the groups an individual belongs to.
func (h *RegistrantHandler) IndividualMemberships(w http.ResponseWriter, r *http.Request) {
	ind, ok := h.load(w, r, false)
	if !ok {
		return
	}
	memberships, err := h.svc.ListMemberships(r.Context(), ind.ID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if memberships == nil {
		memberships = []model.Membership{}
	}
	writeJSON(w, http.StatusOK, memberships)
}

func (h *RegistrantHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return
	}
	group, err := h.svc.GetGroup(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	members, err := h.svc.ListMembers(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, groupDetail{Group: group, Members: members})
}

func (h *RegistrantHandler) UpdateIndividual(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, false)
}

func (h *RegistrantHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, true)
}

func (h *RegistrantHandler) update(w http.ResponseWriter, r *http.Request, isGroup bool) {
	current, ok := h.load(w, r, isGroup)
	if !ok {
		return
	}
	var req registrantRequest
	if err := decode(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	ctx := r.Context()
	updated := current
	var err error
	if req.Name != nil || req.GivenName != nil || req.FamilyName != nil || req.Gender != nil || req.Birthdate != nil {
		next := *current
		req.apply(&next)
		if updated, err = h.svc.UpdateRegistrant(ctx, next); err != nil {
			writeError(w, h.logger, r, err)
			return
		}
	}
	if req.Disabled != nil && *req.Disabled != current.Disabled() {
		if err := h.svc.SetDisabled(ctx, current.ID, *req.Disabled); err != nil {
			writeError(w, h.logger, r, err)
			return
		}
		if updated, err = h.svc.GetRegistrant(ctx, current.ID); err != nil {
			writeError(w, h.logger, r, err)
			return
		}
	}
	h.logger.Info("registrant updated", "id", current.ID, "actor", auth.ActorName(ctx))
	writeJSON(w, http.StatusOK, updated)
}

func (h *RegistrantHandler) DeleteIndividual(w http.ResponseWriter, r *http.Request) {
	h.delete(w, r, false)
}

func (h *RegistrantHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	h.delete(w, r, true)
}

// delete disables the registrant. With ?hard=true the row and its
// memberships are removed instead.
func (h *RegistrantHandler) delete(w http.ResponseWriter, r *http.Request, isGroup bool) {
	current, ok := h.load(w, r, isGroup)
	if !ok {
		return
	}
	ctx := r.Context()
	hard, _ := strconv.ParseBool(r.URL.Query().Get("hard"))

	var err error
	if hard {
		err = h.svc.DeleteRegistrant(ctx, current.ID)
	} else {
		err = h.svc.SetDisabled(ctx, current.ID, true)
	}
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.logger.Info("registrant deleted", "id", current.ID, "hard", hard, "actor", auth.ActorName(ctx))
	w.WriteHeader(http.StatusNoContent)
}

// load fetches the registrant named by the id parameter and requires the
// given role. A registrant of the other role is reported as not found.
func (h *RegistrantHandler) load(w http.ResponseWriter, r *http.Request, isGroup bool) (*model.Registrant, bool) {
	id, err := parseIDParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return nil, false
	}
	reg, err := h.svc.GetRegistrant(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return nil, false
	}
	if reg.IsGroup != isGroup {
		writeMessage(w, http.StatusNotFound, "not found")
		return nil, false
	}
	return reg, true
}
