package routing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dandantas/kestrel/internal/model"
)

// RouteSpec carries everything the request-routing layer needs to publish a
// model's endpoint
type RouteSpec struct {
	ModelID    string
	Endpoint   string
	EngineType string
	RoutePath  string
}

// RequestRouter is the boundary to the request-routing layer
type RequestRouter interface {
	RegisterRoute(ctx context.Context, spec RouteSpec) (string, error)
	DeregisterRoute(ctx context.Context, routeID string) error
	AttachGuardrail(ctx context.Context, routeID string, policy model.GuardrailPolicy) (string, error)
}

// routeTemplates maps inference-engine types to their route path templates.
// Serving engines expose different API surfaces, so each gets its own
// prefix.
var routeTemplates = map[string]string{
	"vllm": "/v2/serve/vllm/%s",
	"tgi":  "/v2/serve/tgi/%s",
	"trt":  "/v2/serve/trt/%s",
}

const defaultRouteTemplate = "/v2/serve/%s"

// RoutePathFor resolves the route path for a model under the template
// selected by its inference-engine type
func RoutePathFor(modelID, engineType string) string {
	template, ok := routeTemplates[engineType]
	if !ok {
		template = defaultRouteTemplate
	}
	return fmt.Sprintf(template, modelID)
}

// Registrar registers and removes model traffic routes and their guardrail
// policies in the request-routing layer
type Registrar struct {
	router RequestRouter
}

// NewRegistrar creates a new route registrar
func NewRegistrar(router RequestRouter) *Registrar {
	return &Registrar{router: router}
}

// RegisterResult is the outcome of a Register call
type RegisterResult struct {
	RouteID      string
	GuardrailIDs []string
}

// Register publishes the model's endpoint and attaches its configured
// guardrail policies. An existing route id is reused rather than
// re-registered, so redelivered steps never create duplicate routes.
// Guardrail ids created before a failure are returned alongside the error
// so the caller can persist them.
func (r *Registrar) Register(ctx context.Context, modelID, endpoint, existingRouteID string, cfg *model.DeploymentConfig) (*RegisterResult, error) {
	result := &RegisterResult{RouteID: existingRouteID}

	if result.RouteID == "" {
		routeID, err := r.router.RegisterRoute(ctx, RouteSpec{
			ModelID:    modelID,
			Endpoint:   endpoint,
			EngineType: cfg.InferenceEngine,
			RoutePath:  RoutePathFor(modelID, cfg.InferenceEngine),
		})
		if err != nil {
			return result, fmt.Errorf("model %s: route registration failed: %w", modelID, err)
		}
		result.RouteID = routeID

		slog.Info("Registered model route",
			"model_id", modelID,
			"route_id", routeID,
			"endpoint", endpoint,
			"engine", cfg.InferenceEngine,
		)
	}

	for _, policy := range cfg.Guardrails {
		guardrailID, err := r.router.AttachGuardrail(ctx, result.RouteID, policy)
		if err != nil {
			return result, fmt.Errorf("model %s: attaching guardrail %s failed: %w", modelID, policy.Name, err)
		}
		result.GuardrailIDs = append(result.GuardrailIDs, guardrailID)

		slog.Info("Attached guardrail",
			"model_id", modelID,
			"route_id", result.RouteID,
			"guardrail", policy.Name,
			"guardrail_id", guardrailID,
		)
	}

	return result, nil
}

// Deregister removes the model's route from the routing layer. A route the
// router no longer knows about is treated as already removed.
func (r *Registrar) Deregister(ctx context.Context, modelID, routeID string) error {
	if routeID == "" {
		return nil
	}
	if err := r.router.DeregisterRoute(ctx, routeID); err != nil {
		return fmt.Errorf("model %s: route deregistration failed: %w", modelID, err)
	}
	slog.Info("Deregistered model route", "model_id", modelID, "route_id", routeID)
	return nil
}
