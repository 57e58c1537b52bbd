package export

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/arcway/chronicle/internal/domain"
)

type Handler struct {
	service *Service
}

func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	switch {
	case strings.HasSuffix(r.URL.Path, "/history"):
		h.handleHistory(w, r)
	case strings.HasSuffix(r.URL.Path, "/audit"):
		h.handleAudit(w, r)
	case strings.HasSuffix(r.URL.Path, "/merges"):
		h.handleMerges(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	entityType := strings.TrimSpace(r.URL.Query().Get("entity_type"))
	if entityType == "" {
		http.Error(w, "entity_type is required", http.StatusBadRequest)
		return
	}
	entityID, err := uuid.Parse(r.URL.Query().Get("entity_id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid entity id: %v", err), http.StatusBadRequest)
		return
	}
	branchID, err := uuid.Parse(r.URL.Query().Get("branch_id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid branch id: %v", err), http.StatusBadRequest)
		return
	}

	setAttachmentHeaders(w, fmt.Sprintf("history-%s-%s.xlsx", entityType, entityID))
	if err := h.service.WriteHistory(r.Context(), w, entityType, entityID, branchID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	filter := domain.AuditFilter{
		EntityType: r.URL.Query().Get("entity_type"),
		Operation:  domain.Operation(r.URL.Query().Get("operation")),
	}
	if raw := r.URL.Query().Get("entity_id"); raw != "" {
		entityID, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid entity id: %v", err), http.StatusBadRequest)
			return
		}
		filter.EntityID = entityID
	}
	if raw := r.URL.Query().Get("branch_id"); raw != "" {
		branchID, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid branch id: %v", err), http.StatusBadRequest)
			return
		}
		filter.BranchID = branchID
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid limit: %v", err), http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	setAttachmentHeaders(w, "audit-trail.xlsx")
	if err := h.service.WriteAudit(r.Context(), w, filter); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) handleMerges(w http.ResponseWriter, r *http.Request) {
	sourceID, err := uuid.Parse(r.URL.Query().Get("source"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid source branch id: %v", err), http.StatusBadRequest)
		return
	}
	targetID, err := uuid.Parse(r.URL.Query().Get("target"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid target branch id: %v", err), http.StatusBadRequest)
		return
	}

	setAttachmentHeaders(w, "merge-records.xlsx")
	if err := h.service.WriteMerges(r.Context(), w, sourceID, targetID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func setAttachmentHeaders(w http.ResponseWriter, filename string) {
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
}
