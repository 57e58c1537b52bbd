// Package api exposes the versioning core's operations as a JSON HTTP
// surface for the entity CRUD layers, the UI and audit viewers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/arcway/chronicle/internal/domain"
	"github.com/arcway/chronicle/internal/merge"
	"github.com/arcway/chronicle/internal/middleware"
	"github.com/arcway/chronicle/internal/versioning"
)

// Handler routes the versioning API.
type Handler struct {
	service *versioning.Service
	merges  *merge.Engine
}

// NewHandler builds the API router.
func NewHandler(service *versioning.Service, merges *merge.Engine) http.Handler {
	h := &Handler{service: service, merges: merges}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/versions", h.createVersion)
	mux.HandleFunc("GET /api/versions/{id}", h.getVersion)
	mux.HandleFunc("POST /api/versions/{id}/restore", h.restoreVersion)
	mux.HandleFunc("GET /api/history", h.getHistory)
	mux.HandleFunc("GET /api/resolve", h.resolveAsOf)
	mux.HandleFunc("GET /api/diff", h.diffVersions)
	mux.HandleFunc("POST /api/branches", h.forkBranch)
	mux.HandleFunc("GET /api/branches", h.listBranches)
	mux.HandleFunc("DELETE /api/branches/{id}", h.deleteBranch)
	mux.HandleFunc("POST /api/merges/preview", h.previewMerge)
	mux.HandleFunc("POST /api/merges", h.executeMerge)
	mux.HandleFunc("GET /api/merges", h.listMerges)
	mux.HandleFunc("POST /api/cherry-picks", h.cherryPick)
	mux.HandleFunc("GET /api/audit", h.listAudit)
	return mux
}

type createVersionRequest struct {
	EntityType       string         `json:"entity_type"`
	EntityID         uuid.UUID      `json:"entity_id"`
	BranchID         uuid.UUID      `json:"branch_id"`
	ValidFrom        int64          `json:"valid_from"`
	Payload          map[string]any `json:"payload"`
	ExpectedSequence int64          `json:"expected_sequence"`
	Comment          *string        `json:"comment,omitempty"`
}

func (h *Handler) createVersion(w http.ResponseWriter, r *http.Request) {
	var req createVersionRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.EntityType == "" || req.EntityID == uuid.Nil || req.BranchID == uuid.Nil {
		http.Error(w, "entity_type, entity_id and branch_id are required", http.StatusBadRequest)
		return
	}

	version, err := h.service.CreateVersion(r.Context(), versioning.CreateVersionRequest{
		EntityType:       req.EntityType,
		EntityID:         req.EntityID,
		BranchID:         req.BranchID,
		ValidFrom:        domain.WorldTime(req.ValidFrom),
		Payload:          req.Payload,
		ExpectedSequence: req.ExpectedSequence,
		Actor:            middleware.ActorFromContext(r.Context()),
		Comment:          req.Comment,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, version)
}

func (h *Handler) getVersion(w http.ResponseWriter, r *http.Request) {
	versionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid version id: %v", err), http.StatusBadRequest)
		return
	}

	version, err := h.service.GetVersion(r.Context(), versionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

func (h *Handler) restoreVersion(w http.ResponseWriter, r *http.Request) {
	versionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid version id: %v", err), http.StatusBadRequest)
		return
	}

	var req struct {
		At int64 `json:"at"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	version, err := h.service.RestoreVersion(r.Context(), versionID, domain.WorldTime(req.At), middleware.ActorFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, version)
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	entityType, entityID, branchID, err := entityQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	history, err := h.service.GetHistory(r.Context(), entityType, entityID, branchID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) resolveAsOf(w http.ResponseWriter, r *http.Request) {
	entityType, entityID, branchID, err := entityQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	asOf, err := strconv.ParseInt(r.URL.Query().Get("as_of"), 10, 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid as_of: %v", err), http.StatusBadRequest)
		return
	}

	version, err := h.service.ResolveAsOf(r.Context(), entityType, entityID, branchID, domain.WorldTime(asOf))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

func (h *Handler) diffVersions(w http.ResponseWriter, r *http.Request) {
	versionA, err := uuid.Parse(r.URL.Query().Get("a"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid version id a: %v", err), http.StatusBadRequest)
		return
	}
	versionB, err := uuid.Parse(r.URL.Query().Get("b"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid version id b: %v", err), http.StatusBadRequest)
		return
	}

	diff, err := h.service.DiffVersions(r.Context(), versionA, versionB)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

type forkBranchRequest struct {
	ParentBranchID *uuid.UUID `json:"parent_branch_id,omitempty"`
	Name           string     `json:"name"`
	ForkPoint      int64      `json:"fork_point"`
}

func (h *Handler) forkBranch(w http.ResponseWriter, r *http.Request) {
	var req forkBranchRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	if req.ParentBranchID == nil {
		http.Error(w, "parent_branch_id is required", http.StatusBadRequest)
		return
	}

	branch, err := h.service.ForkBranch(r.Context(), *req.ParentBranchID, req.Name,
		domain.WorldTime(req.ForkPoint), middleware.ActorFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, branch)
}

func (h *Handler) listBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := h.service.ListBranches(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, branches)
}

func (h *Handler) deleteBranch(w http.ResponseWriter, r *http.Request) {
	branchID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid branch id: %v", err), http.StatusBadRequest)
		return
	}
	if err := h.service.DeleteBranch(r.Context(), branchID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type mergeRequest struct {
	SourceBranchID uuid.UUID                `json:"source_branch_id"`
	TargetBranchID uuid.UUID                `json:"target_branch_id"`
	At             int64                    `json:"at"`
	Resolutions    domain.EntityResolutions `json:"resolutions,omitempty"`
}

func (h *Handler) previewMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	preview, err := h.merges.Preview(r.Context(), req.SourceBranchID, req.TargetBranchID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (h *Handler) executeMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.merges.Execute(r.Context(), req.SourceBranchID, req.TargetBranchID,
		domain.WorldTime(req.At), req.Resolutions, middleware.ActorFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) listMerges(w http.ResponseWriter, r *http.Request) {
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

	records, err := h.merges.ListMerges(r.Context(), sourceID, targetID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type cherryPickRequest struct {
	SourceVersionID uuid.UUID                    `json:"source_version_id"`
	TargetBranchID  uuid.UUID                    `json:"target_branch_id"`
	At              int64                        `json:"at"`
	Resolutions     map[string]domain.Resolution `json:"resolutions,omitempty"`
}

func (h *Handler) cherryPick(w http.ResponseWriter, r *http.Request) {
	var req cherryPickRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.merges.CherryPick(r.Context(), req.SourceVersionID, req.TargetBranchID,
		domain.WorldTime(req.At), req.Resolutions, middleware.ActorFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
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

	entries, err := h.service.ListAudit(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func entityQuery(r *http.Request) (string, uuid.UUID, uuid.UUID, error) {
	entityType := strings.TrimSpace(r.URL.Query().Get("entity_type"))
	if entityType == "" {
		return "", uuid.Nil, uuid.Nil, errors.New("entity_type is required")
	}
	entityID, err := uuid.Parse(r.URL.Query().Get("entity_id"))
	if err != nil {
		return "", uuid.Nil, uuid.Nil, fmt.Errorf("invalid entity id: %w", err)
	}
	branchID, err := uuid.Parse(r.URL.Query().Get("branch_id"))
	if err != nil {
		return "", uuid.Nil, uuid.Nil, fmt.Errorf("invalid branch id: %w", err)
	}
	return entityType, entityID, branchID, nil
}

func decodeBody(r *http.Request, out any) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

// writeError maps domain errors onto HTTP statuses. Conflict-shaped
// failures return their detail so callers can resolve and resubmit.
func writeError(w http.ResponseWriter, err error) {
	var (
		lockErr       *domain.OptimisticLockError
		unresolvedErr *domain.UnresolvedConflictError
		closedErr     *domain.AlreadyClosedError
		ancestryErr   *domain.NoCommonAncestorError
		backdatedErr  *domain.BackdatedVersionError
	)

	switch {
	case errors.As(err, &unresolvedErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     unresolvedErr.Error(),
			"conflicts": unresolvedErr.Conflicts,
		})
	case errors.As(err, &lockErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":    lockErr.Error(),
			"expected": lockErr.Expected,
			"actual":   lockErr.Actual,
		})
	case errors.As(err, &closedErr):
		http.Error(w, closedErr.Error(), http.StatusConflict)
	case errors.As(err, &ancestryErr):
		http.Error(w, ancestryErr.Error(), http.StatusUnprocessableEntity)
	case errors.As(err, &backdatedErr):
		http.Error(w, backdatedErr.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, domain.ErrVersionNotFound), errors.Is(err, domain.ErrBranchNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrBranchNotLeaf):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
