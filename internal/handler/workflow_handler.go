package handler

import (
	"net/http"

	"github.com/dandantas/kestrel/internal/model"
	"github.com/dandantas/kestrel/internal/service"
)

// WorkflowHandler exposes workflow execution progress
type WorkflowHandler struct {
	service *service.ModelService
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(service *service.ModelService) *WorkflowHandler {
	return &WorkflowHandler{
		service: service,
	}
}

// WorkflowListResponse represents a model's workflow history
type WorkflowListResponse struct {
	ModelID string                  `json:"model_id"`
	Results []model.WorkflowSummary `json:"results"`
}

// Get handles GET /api/v1/workflows/{id}
func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request, workflowID string) {
	exec, err := h.service.GetWorkflow(r.Context(), workflowID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, exec.ToSummary())
}

// ListForModel handles GET /api/v1/models/{id}/workflows
func (h *WorkflowHandler) ListForModel(w http.ResponseWriter, r *http.Request, modelID string) {
	limit := parseQueryInt(r, "limit", 20)

	executions, err := h.service.ListModelWorkflows(r.Context(), modelID, userGroups(r), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	results := make([]model.WorkflowSummary, len(executions))
	for i := range executions {
		results[i] = executions[i].ToSummary()
	}

	writeJSON(w, http.StatusOK, WorkflowListResponse{
		ModelID: modelID,
		Results: results,
	})
}
