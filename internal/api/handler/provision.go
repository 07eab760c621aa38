package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/calebmassey/infra-provisioner/internal/domain"
	"github.com/calebmassey/infra-provisioner/internal/service"
)

// ProvisionHandler handles provisioning endpoints.
type ProvisionHandler struct {
	svc *service.ProvisionService
}

// NewProvisionHandler creates a new ProvisionHandler.
func NewProvisionHandler(svc *service.ProvisionService) *ProvisionHandler {
	return &ProvisionHandler{svc: svc}
}

// Submit accepts a natural language provisioning request and queues it for
// background processing. The response carries the request ID to poll.
func (h *ProvisionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var input domain.SubmitInput
	if err := decodeJSON(r, &input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := h.svc.Submit(r.Context(), input)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, req)
}

// Status returns the current lifecycle state of a request.
func (h *ProvisionHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	req, err := h.svc.Status(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, req)
}

// List returns the newest requests for a requester.
func (h *ProvisionHandler) List(w http.ResponseWriter, r *http.Request) {
	requester := r.URL.Query().Get("user")
	if requester == "" {
		respondError(w, http.StatusBadRequest, "user query parameter is required")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	requests, err := h.svc.ListByRequester(r.Context(), requester, limit)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, requests)
}

// DryRun runs the pipeline through generation synchronously, without
// persisting a request or opening a pull request.
func (h *ProvisionHandler) DryRun(w http.ResponseWriter, r *http.Request) {
	var input domain.SubmitInput
	if err := decodeJSON(r, &input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.svc.DryRun(r.Context(), input)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}
