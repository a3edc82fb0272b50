package handler

import (
	"encoding/json"
	"net/http"

	"github.com/dandantas/kestrel/internal/model"
	"github.com/dandantas/kestrel/internal/service"
)

// ScheduleHandler handles schedule management operations
type ScheduleHandler struct {
	service *service.ScheduleService
}

// NewScheduleHandler creates a new schedule handler
func NewScheduleHandler(service *service.ScheduleService) *ScheduleHandler {
	return &ScheduleHandler{
		service: service,
	}
}

// ScheduleResponse wraps a schedule mutation acknowledgement
type ScheduleResponse struct {
	ModelID string `json:"model_id"`
	Message string `json:"message"`
}

// Get handles GET /api/v1/models/{id}/schedule
func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request, modelID string) {
	sc, err := h.service.GetSchedule(r.Context(), modelID, userGroups(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sc)
}

// Put handles PUT /api/v1/models/{id}/schedule
func (h *ScheduleHandler) Put(w http.ResponseWriter, r *http.Request, modelID string) {
	var sc model.ScheduleConfig
	if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := h.service.PutSchedule(r.Context(), modelID, &sc, userGroups(r)); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ScheduleResponse{
		ModelID: modelID,
		Message: "Schedule applied",
	})
}

// Delete handles DELETE /api/v1/models/{id}/schedule
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request, modelID string) {
	if err := h.service.DeleteSchedule(r.Context(), modelID, userGroups(r)); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ScheduleResponse{
		ModelID: modelID,
		Message: "Schedule removed",
	})
}
