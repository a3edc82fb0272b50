package handler

import (
	"net/http"
	"strings"

	"github.com/dandantas/kestrel/pkg/middleware"
)

// Router handles HTTP routing
type Router struct {
	modelHandler    *ModelHandler
	scheduleHandler *ScheduleHandler
	workflowHandler *WorkflowHandler
	healthHandler   *HealthHandler
	corsConfig      middleware.CORSConfig
}

// NewRouter creates a new router
func NewRouter(
	modelHandler *ModelHandler,
	scheduleHandler *ScheduleHandler,
	workflowHandler *WorkflowHandler,
	healthHandler *HealthHandler,
	corsConfig middleware.CORSConfig,
) *Router {
	return &Router{
		modelHandler:    modelHandler,
		scheduleHandler: scheduleHandler,
		workflowHandler: workflowHandler,
		healthHandler:   healthHandler,
		corsConfig:      corsConfig,
	}
}

// Handler returns the configured HTTP handler with middleware
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints (no middleware)
	mux.HandleFunc("/health", rt.healthHandler.Health)
	mux.HandleFunc("/ready", rt.healthHandler.Ready)

	// API endpoints
	mux.HandleFunc("/api/v1/models", rt.handleModels)
	mux.HandleFunc("/api/v1/models/", rt.handleModelsWithID)
	mux.HandleFunc("/api/v1/workflows/", rt.handleWorkflows)

	// Apply middleware (CORS first to handle preflight requests)
	handler := middleware.CORS(rt.corsConfig)(mux)
	handler = middleware.Recovery(handler)
	handler = middleware.Logging(handler)
	handler = middleware.CorrelationID(handler)

	return handler
}

// handleModels routes model collection endpoints
func (rt *Router) handleModels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rt.modelHandler.List(w, r)
	case http.MethodPost:
		rt.modelHandler.Create(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleModelsWithID routes per-model endpoints: the record itself plus its
// schedule and workflow sub-resources
func (rt *Router) handleModelsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/models/")

	if modelID, ok := strings.CutSuffix(path, "/schedule"); ok {
		rt.handleSchedule(w, r, modelID)
		return
	}
	if modelID, ok := strings.CutSuffix(path, "/workflows"); ok {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		rt.workflowHandler.ListForModel(w, r, modelID)
		return
	}

	modelID := strings.TrimSuffix(path, "/")
	if modelID == "" || strings.Contains(modelID, "/") {
		writeError(w, http.StatusNotFound, "Endpoint not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		rt.modelHandler.Get(w, r, modelID)
	case http.MethodPut:
		rt.modelHandler.Update(w, r, modelID)
	case http.MethodDelete:
		rt.modelHandler.Delete(w, r, modelID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleSchedule routes the schedule sub-resource
func (rt *Router) handleSchedule(w http.ResponseWriter, r *http.Request, modelID string) {
	if modelID == "" || strings.Contains(modelID, "/") {
		writeError(w, http.StatusNotFound, "Endpoint not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		rt.scheduleHandler.Get(w, r, modelID)
	case http.MethodPut:
		rt.scheduleHandler.Put(w, r, modelID)
	case http.MethodDelete:
		rt.scheduleHandler.Delete(w, r, modelID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleWorkflows routes workflow lookup endpoints
func (rt *Router) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	workflowID := strings.TrimPrefix(r.URL.Path, "/api/v1/workflows/")
	if workflowID == "" || strings.Contains(workflowID, "/") {
		writeError(w, http.StatusNotFound, "Endpoint not found")
		return
	}

	rt.workflowHandler.Get(w, r, workflowID)
}
