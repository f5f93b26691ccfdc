package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/outboundlab/conviction/internal/domain"
	"github.com/outboundlab/conviction/internal/service"
	"github.com/outboundlab/conviction/internal/store"
)

type EntityHandler struct {
	runner *service.EntityRunner
	queue  *store.EvidenceQueue
}

func NewEntityHandler(runner *service.EntityRunner, queue *store.EvidenceQueue) *EntityHandler {
	return &EntityHandler{runner: runner, queue: queue}
}

type ingestEvidenceRequest struct {
	ClusterID   string   `json:"cluster_id"`
	Category    string   `json:"category"`
	Statement   string   `json:"statement"`
	Indicators  []string `json:"indicators,omitempty"`
	Contradicts bool     `json:"contradicts,omitempty"`
	SourceRef   string   `json:"source_ref,omitempty"`
	ObservedAt  string   `json:"observed_at,omitempty"`
}

func (req ingestEvidenceRequest) toItem(entityID uuid.UUID) (domain.EvidenceItem, error) {
	if req.Statement == "" {
		return domain.EvidenceItem{}, errStatementRequired
	}
	if req.Category == "" {
		return domain.EvidenceItem{}, errCategoryRequired
	}

	observedAt := time.Now().UTC()
	if req.ObservedAt != "" {
		t, err := time.Parse(time.RFC3339, req.ObservedAt)
		if err != nil {
			return domain.EvidenceItem{}, errObservedAtFormat
		}
		observedAt = t
	}

	return domain.EvidenceItem{
		ID:          uuid.New(),
		EntityID:    entityID,
		Category:    domain.Category(req.Category),
		Statement:   req.Statement,
		Indicators:  req.Indicators,
		Contradicts: req.Contradicts,
		SourceRef:   req.SourceRef,
		ObservedAt:  observedAt,
	}, nil
}

var (
	errStatementRequired = errors.New("statement is required")
	errCategoryRequired  = errors.New("category is required")
	errObservedAtFormat  = errors.New("observed_at must be RFC3339")
)

type ingestEvidenceResponse struct {
	Result *service.EvidenceResult       `json:"result"`
	State  *domain.EntityConfidenceState `json:"state"`
}

// Ingest applies one evidence item to an entity's confidence state.
func (h *EntityHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	entityID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entity id")
		return
	}

	var req ingestEvidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	clusterID, err := uuid.Parse(req.ClusterID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cluster_id")
		return
	}
	item, err := req.toItem(entityID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, state, err := h.runner.ApplyOne(r.Context(), clusterID, entityID, item)
	if err != nil {
		if errors.Is(err, domain.ErrLedgerCorrupt) {
			writeError(w, http.StatusConflict, "exploration ledger is corrupt; writes are blocked")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to apply evidence")
		return
	}

	writeJSON(w, http.StatusOK, ingestEvidenceResponse{Result: result, State: state})
}

type entityStateResponse struct {
	State *domain.EntityConfidenceState `json:"state"`
	Band  domain.ConfidenceBand         `json:"band"`
}

// GetState returns an entity's confidence state and derived band.
func (h *EntityHandler) GetState(w http.ResponseWriter, r *http.Request) {
	entityID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entity id")
		return
	}

	state, err := h.runner.State(r.Context(), entityID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "entity state not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get entity state")
		return
	}
	if state == nil {
		writeError(w, http.StatusNotFound, "entity state not found")
		return
	}

	writeJSON(w, http.StatusOK, entityStateResponse{State: state, Band: state.Band()})
}

type enqueueEvidenceRequest struct {
	Items []ingestEvidenceRequest `json:"items"`
}

// Enqueue stages collected evidence for the next exploration run instead of
// applying it immediately.
func (h *EntityHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	entityID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entity id")
		return
	}

	var req enqueueEvidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items must not be empty")
		return
	}

	items := make([]domain.EvidenceItem, 0, len(req.Items))
	for _, raw := range req.Items {
		item, err := raw.toItem(entityID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		items = append(items, item)
	}

	h.queue.Enqueue(entityID, items...)
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": h.queue.Pending(entityID)})
}
