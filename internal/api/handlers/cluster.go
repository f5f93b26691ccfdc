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

type ClusterHandler struct {
	promotion *service.PromotionService
	reports   domain.ReportStore
	templates domain.TemplateStore
	ledger    domain.EvidenceLedger
}

func NewClusterHandler(promotion *service.PromotionService, reports domain.ReportStore, templates domain.TemplateStore, ledger domain.EvidenceLedger) *ClusterHandler {
	return &ClusterHandler{
		promotion: promotion,
		reports:   reports,
		templates: templates,
		ledger:    ledger,
	}
}

type exploreRequest struct {
	EntityIDs []string `json:"entity_ids"`
}

// Explore runs an exploration phase over the posted entities and returns the
// aggregated report.
func (h *ClusterHandler) Explore(w http.ResponseWriter, r *http.Request) {
	clusterID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cluster id")
		return
	}

	var req exploreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	entityIDs := make([]uuid.UUID, 0, len(req.EntityIDs))
	for _, raw := range req.EntityIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid entity id: "+raw)
			return
		}
		entityIDs = append(entityIDs, id)
	}

	report, err := h.promotion.Explore(r.Context(), clusterID, entityIDs)
	if err != nil {
		if errors.Is(err, service.ErrNoSample) {
			writeError(w, http.StatusBadRequest, "entity_ids must not be empty")
			return
		}
		writeError(w, http.StatusInternalServerError, "exploration failed")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

type promoteRequest struct {
	ReportID string `json:"report_id"`
}

// Promote applies the promotion decision table to a stored exploration report
// and mints new template versions for qualifying patterns.
func (h *ClusterHandler) Promote(w http.ResponseWriter, r *http.Request) {
	clusterID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cluster id")
		return
	}

	var req promoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reportID, err := uuid.Parse(req.ReportID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid report_id")
		return
	}

	report, err := h.reports.GetByID(r.Context(), reportID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "report not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load report")
		return
	}
	if report.ClusterID != clusterID {
		writeError(w, http.StatusBadRequest, "report belongs to a different cluster")
		return
	}

	templates, err := h.promotion.Promote(r.Context(), report)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "promotion failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

// ListTemplates returns all promoted template versions for a cluster.
func (h *ClusterHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	clusterID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cluster id")
		return
	}

	templates, err := h.templates.ListByCluster(r.Context(), clusterID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list templates")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

// Ledger returns the cluster's exploration log in append order.
func (h *ClusterHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	clusterID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cluster id")
		return
	}

	var entries []domain.ExplorationLogEntry
	if category := r.URL.Query().Get("category"); category != "" {
		entries, err = h.ledger.ByCategory(r.Context(), clusterID, domain.Category(category))
	} else {
		entries, err = h.ledger.ByCluster(r.Context(), clusterID)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// VerifyLedger recomputes the cluster's hash chain from the first entry.
func (h *ClusterHandler) VerifyLedger(w http.ResponseWriter, r *http.Request) {
	clusterID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cluster id")
		return
	}

	if err := h.ledger.Verify(r.Context(), clusterID); err != nil {
		if errors.Is(err, domain.ErrLedgerCorrupt) {
			writeJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
			return
		}
		writeError(w, http.StatusInternalServerError, "verification failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}
