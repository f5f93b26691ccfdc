package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/outboundlab/conviction/internal/domain"
	"github.com/outboundlab/conviction/internal/service"
	"github.com/outboundlab/conviction/internal/store"
)

type BindingHandler struct {
	promotion  *service.PromotionService
	governance *service.GovernanceService
	bindings   domain.BindingStore
	templates  domain.TemplateStore
}

func NewBindingHandler(promotion *service.PromotionService, governance *service.GovernanceService, bindings domain.BindingStore, templates domain.TemplateStore) *BindingHandler {
	return &BindingHandler{
		promotion:  promotion,
		governance: governance,
		bindings:   bindings,
		templates:  templates,
	}
}

type replicateRequest struct {
	EntityIDs []string `json:"entity_ids"`
}

// Replicate seeds a promoted template onto the given target entities.
func (h *BindingHandler) Replicate(w http.ResponseWriter, r *http.Request) {
	templateID, err := uuid.Parse(chi.URLParam(r, "templateID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid template id")
		return
	}

	var req replicateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.EntityIDs) == 0 {
		writeError(w, http.StatusBadRequest, "entity_ids must not be empty")
		return
	}

	targets := make([]uuid.UUID, 0, len(req.EntityIDs))
	for _, raw := range req.EntityIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid entity id: "+raw)
			return
		}
		targets = append(targets, id)
	}

	tmpl, err := h.templates.GetByID(r.Context(), templateID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "template not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load template")
		return
	}

	result := h.promotion.Replicate(r.Context(), tmpl, targets)
	writeJSON(w, http.StatusOK, result)
}

// List returns all runtime bindings for a template.
func (h *BindingHandler) List(w http.ResponseWriter, r *http.Request) {
	templateID, err := uuid.Parse(chi.URLParam(r, "templateID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid template id")
		return
	}

	bindings, err := h.bindings.ListByTemplate(r.Context(), templateID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list bindings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"bindings": bindings})
}

type recordUseRequest struct {
	FoundSignal bool `json:"found_signal"`
}

// RecordUse records one execution of a binding and applies the governance
// transitions it triggers.
func (h *BindingHandler) RecordUse(w http.ResponseWriter, r *http.Request) {
	binding, ok := h.loadBinding(w, r)
	if !ok {
		return
	}

	var req recordUseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.governance.RecordUse(r.Context(), binding, req.FoundSignal); err != nil {
		if errors.Is(err, domain.ErrTerminalState) {
			writeError(w, http.StatusConflict, "binding is retired")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to record use")
		return
	}

	writeJSON(w, http.StatusOK, binding)
}

// Drift runs the governance drift check against a binding without mutating it.
func (h *BindingHandler) Drift(w http.ResponseWriter, r *http.Request) {
	binding, ok := h.loadBinding(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, h.governance.CheckDrift(binding))
}

func (h *BindingHandler) loadBinding(w http.ResponseWriter, r *http.Request) (*domain.RuntimeBinding, bool) {
	templateID, err := uuid.Parse(chi.URLParam(r, "templateID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid template id")
		return nil, false
	}
	entityID, err := uuid.Parse(chi.URLParam(r, "entityID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entity id")
		return nil, false
	}

	binding, err := h.bindings.Get(r.Context(), templateID, entityID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "binding not found")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "failed to load binding")
		return nil, false
	}
	return binding, true
}
