package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dandantas/kestrel/internal/model"
)

// HTTPRouterClient is the production RequestRouter implementation: it talks
// to the API gateway's admin surface over HTTP with bounded retries
type HTTPRouterClient struct {
	baseURL    string
	httpClient *http.Client
	retry      *RetryStrategy
}

// NewHTTPRouterClient creates a router client for the given gateway admin
// base URL
func NewHTTPRouterClient(baseURL string, timeout time.Duration, retryConfig RetryConfig) *HTTPRouterClient {
	return &HTTPRouterClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: NewRetryStrategy(retryConfig),
	}
}

type registerRouteRequest struct {
	ModelID    string `json:"model_id"`
	Endpoint   string `json:"endpoint"`
	EngineType string `json:"engine_type"`
	RoutePath  string `json:"route_path"`
}

type registerRouteResponse struct {
	RouteID string `json:"route_id"`
}

type attachGuardrailRequest struct {
	Name   string                 `json:"name"`
	Kind   string                 `json:"kind"`
	Config map[string]interface{} `json:"config,omitempty"`
}

type attachGuardrailResponse struct {
	GuardrailID string `json:"guardrail_id"`
}

// RegisterRoute publishes a model route in the routing layer
func (c *HTTPRouterClient) RegisterRoute(ctx context.Context, spec RouteSpec) (string, error) {
	body := registerRouteRequest{
		ModelID:    spec.ModelID,
		Endpoint:   spec.Endpoint,
		EngineType: spec.EngineType,
		RoutePath:  spec.RoutePath,
	}

	var resp registerRouteResponse
	if err := c.do(ctx, http.MethodPost, "/admin/routes", body, &resp); err != nil {
		return "", err
	}
	if resp.RouteID == "" {
		return "", fmt.Errorf("router returned no route id for model %s", spec.ModelID)
	}
	return resp.RouteID, nil
}

// DeregisterRoute removes a model route. A 404 from the router means the
// route is already gone and is not an error.
func (c *HTTPRouterClient) DeregisterRoute(ctx context.Context, routeID string) error {
	err := c.do(ctx, http.MethodDelete, "/admin/routes/"+routeID, nil, nil)
	var status *statusError
	if err != nil {
		if ok := asStatusError(err, &status); ok && status.code == http.StatusNotFound {
			slog.Info("Route already removed", "route_id", routeID)
			return nil
		}
		return err
	}
	return nil
}

// AttachGuardrail attaches a guardrail policy to a route
func (c *HTTPRouterClient) AttachGuardrail(ctx context.Context, routeID string, policy model.GuardrailPolicy) (string, error) {
	body := attachGuardrailRequest{
		Name:   policy.Name,
		Kind:   policy.Kind,
		Config: policy.Config,
	}

	var resp attachGuardrailResponse
	if err := c.do(ctx, http.MethodPost, "/admin/routes/"+routeID+"/guardrails", body, &resp); err != nil {
		return "", err
	}
	if resp.GuardrailID == "" {
		return "", fmt.Errorf("router returned no guardrail id for route %s", routeID)
	}
	return resp.GuardrailID, nil
}

// statusError carries a non-2xx router response through the retry loop
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("router returned status %d: %s", e.code, e.body)
}

func asStatusError(err error, target **statusError) bool {
	se, ok := err.(*statusError)
	if ok {
		*target = se
	}
	return ok
}

// do performs one router API call with bounded exponential-backoff retries
func (c *HTTPRouterClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode router request: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.retry.GetMaxAttempts(); attempt++ {
		statusCode, err := c.attempt(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if !c.retry.ShouldRetry(attempt, statusCode, transportError(err)) {
			return err
		}

		delay := c.retry.CalculateDelay(attempt)
		slog.Warn("Router call failed, retrying",
			"method", method,
			"path", path,
			"attempt", attempt,
			"status_code", statusCode,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("router call %s %s failed after %d attempts: %w", method, path, c.retry.GetMaxAttempts(), lastErr)
}

// transportError strips statusError so the retry strategy sees HTTP
// failures via the status code, not the error
func transportError(err error) error {
	var status *statusError
	if asStatusError(err, &status) {
		return nil
	}
	return err
}

func (c *HTTPRouterClient) attempt(ctx context.Context, method, path string, payload []byte, out interface{}) (int, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create router request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("router request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read router response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(bodyBytes))}
	}

	if out != nil {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode router response: %w", err)
		}
	}

	return resp.StatusCode, nil
}
