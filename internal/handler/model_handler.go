package handler

import (
	"encoding/json"
	"net/http"

	"github.com/dandantas/kestrel/internal/model"
	"github.com/dandantas/kestrel/internal/service"
	"github.com/dandantas/kestrel/pkg/middleware"
)

// ModelHandler handles model deployment CRUD operations
type ModelHandler struct {
	service *service.ModelService
}

// NewModelHandler creates a new model handler
func NewModelHandler(service *service.ModelService) *ModelHandler {
	return &ModelHandler{
		service: service,
	}
}

// WorkflowAcceptedResponse acknowledges an accepted deployment request; the
// workflow id can be polled for progress
type WorkflowAcceptedResponse struct {
	ModelID    string `json:"model_id"`
	WorkflowID string `json:"workflow_id"`
	Message    string `json:"message"`
}

// ListResponse represents the model list response
type ListResponse struct {
	Total   int64                 `json:"total"`
	Page    int                   `json:"page"`
	Limit   int                   `json:"limit"`
	Results []model.ModelListItem `json:"results"`
}

// Create handles POST /api/v1/models
func (h *ModelHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	workflowID, err := h.service.CreateModel(r.Context(), &req, middleware.GetCorrelationID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, WorkflowAcceptedResponse{
		ModelID:    req.ModelID,
		WorkflowID: workflowID,
		Message:    "Model deployment started",
	})
}

// Get handles GET /api/v1/models/{id}
func (h *ModelHandler) Get(w http.ResponseWriter, r *http.Request, modelID string) {
	rec, err := h.service.GetModel(r.Context(), modelID, userGroups(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// List handles GET /api/v1/models
func (h *ModelHandler) List(w http.ResponseWriter, r *http.Request) {
	page := parseQueryInt(r, "page", 1)
	limit := parseQueryInt(r, "limit", 50)
	status := r.URL.Query().Get("status")

	items, total, err := h.service.ListModels(r.Context(), status, userGroups(r), page, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ListResponse{
		Total:   total,
		Page:    page,
		Limit:   limit,
		Results: items,
	})
}

// Update handles PUT /api/v1/models/{id}
func (h *ModelHandler) Update(w http.ResponseWriter, r *http.Request, modelID string) {
	var req service.UpdateModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	workflowID, err := h.service.UpdateModel(r.Context(), modelID, &req, userGroups(r), middleware.GetCorrelationID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, WorkflowAcceptedResponse{
		ModelID:    modelID,
		WorkflowID: workflowID,
		Message:    "Model update started",
	})
}

// Delete handles DELETE /api/v1/models/{id}
func (h *ModelHandler) Delete(w http.ResponseWriter, r *http.Request, modelID string) {
	workflowID, err := h.service.DeleteModel(r.Context(), modelID, userGroups(r), middleware.GetCorrelationID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, WorkflowAcceptedResponse{
		ModelID:    modelID,
		WorkflowID: workflowID,
		Message:    "Model deletion started",
	})
}
