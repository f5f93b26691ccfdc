package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/outboundlab/conviction/internal/cache"
)

type HypothesisHandler struct {
	cache *cache.HypothesisCache
}

func NewHypothesisHandler(c *cache.HypothesisCache) *HypothesisHandler {
	return &HypothesisHandler{cache: c}
}

// Get serves a hypothesis from the hot cache. A miss means the hypothesis is
// cold (or expired); callers fall back to the entity's full state.
func (h *HypothesisHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid hypothesis id")
		return
	}

	hyp, ok := h.cache.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "hypothesis not cached")
		return
	}

	writeJSON(w, http.StatusOK, hyp)
}
