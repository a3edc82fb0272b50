package model

import (
	"errors"
	"fmt"
	"time"
)

// Capacity represents the scaling bounds of a model's resource group
type Capacity struct {
	Min     int `json:"min" bson:"min"`
	Max     int `json:"max" bson:"max"`
	Desired int `json:"desired" bson:"desired"`
}

// Validate validates capacity bounds
func (c *Capacity) Validate() error {
	if c.Min < 0 {
		return errors.New("capacity min must not be negative")
	}
	if c.Max < c.Min {
		return errors.New("capacity max must not be less than min")
	}
	if c.Desired < c.Min || c.Desired > c.Max {
		return errors.New("capacity desired must be within [min, max]")
	}
	return nil
}

// HealthCheckConfig represents the health check parameters applied to a
// model's compute stack
type HealthCheckConfig struct {
	Path               string `json:"path" bson:"path"`
	IntervalSeconds    int    `json:"interval_seconds" bson:"interval_seconds"`
	TimeoutSeconds     int    `json:"timeout_seconds" bson:"timeout_seconds"`
	HealthyThreshold   int    `json:"healthy_threshold" bson:"healthy_threshold"`
	UnhealthyThreshold int    `json:"unhealthy_threshold" bson:"unhealthy_threshold"`
}

// SetDefaults sets default values for health check parameters
func (h *HealthCheckConfig) SetDefaults() {
	if h.Path == "" {
		h.Path = "/health"
	}
	if h.IntervalSeconds == 0 {
		h.IntervalSeconds = 30
	}
	if h.TimeoutSeconds == 0 {
		h.TimeoutSeconds = 10
	}
	if h.HealthyThreshold == 0 {
		h.HealthyThreshold = 2
	}
	if h.UnhealthyThreshold == 0 {
		h.UnhealthyThreshold = 3
	}
}

// GuardrailPolicy represents a content-safety policy attached to a model's
// route
type GuardrailPolicy struct {
	Name   string                 `json:"name" bson:"name"`
	Kind   string                 `json:"kind" bson:"kind"`
	Config map[string]interface{} `json:"config,omitempty" bson:"config,omitempty"`
}

// DeploymentConfig represents the full deployment configuration of a model.
// It is set at creation and replaced wholesale on update.
type DeploymentConfig struct {
	BaseImage        string            `json:"base_image,omitempty" bson:"base_image,omitempty"`
	ImageTag         string            `json:"image_tag,omitempty" bson:"image_tag,omitempty"`
	InstanceType     string            `json:"instance_type,omitempty" bson:"instance_type,omitempty"`
	Capacity         *Capacity         `json:"capacity,omitempty" bson:"capacity,omitempty"`
	HealthCheck      HealthCheckConfig `json:"health_check" bson:"health_check"`
	InferenceEngine  string            `json:"inference_engine" bson:"inference_engine"`
	Guardrails       []GuardrailPolicy `json:"guardrails,omitempty" bson:"guardrails,omitempty"`
	ExternalEndpoint string            `json:"external_endpoint,omitempty" bson:"external_endpoint,omitempty"`
}

// SelfHosted reports whether the platform provisions infrastructure for
// this model. Models with an external endpoint bring their own serving
// stack and skip provisioning entirely.
func (c *DeploymentConfig) SelfHosted() bool {
	return c.ExternalEndpoint == ""
}

// Validate validates the deployment configuration
func (c *DeploymentConfig) Validate() error {
	if c.InferenceEngine == "" {
		return errors.New("inference engine is required")
	}
	if c.SelfHosted() {
		if c.BaseImage == "" {
			return errors.New("base image is required for self-hosted models")
		}
		if c.InstanceType == "" {
			return errors.New("instance type is required for self-hosted models")
		}
		if c.Capacity == nil {
			return errors.New("capacity bounds are required for self-hosted models")
		}
		if err := c.Capacity.Validate(); err != nil {
			return fmt.Errorf("capacity validation failed: %w", err)
		}
		c.HealthCheck.SetDefaults()
	}
	for _, g := range c.Guardrails {
		if g.Name == "" || g.Kind == "" {
			return errors.New("guardrail name and kind are required")
		}
	}
	return nil
}

// ModelRecord is the durable status record of one model deployment. It is
// the single source of truth for a model and is mutated only by the
// deployment workflow handlers and the schedule lifecycle manager.
type ModelRecord struct {
	ModelID              string           `json:"model_id" bson:"_id"`
	Status               Status           `json:"status" bson:"status"`
	DeploymentConfig     DeploymentConfig `json:"deployment_config" bson:"deployment_config"`
	InfrastructureHandle string           `json:"infrastructure_handle,omitempty" bson:"infrastructure_handle,omitempty"`
	Endpoint             string           `json:"endpoint,omitempty" bson:"endpoint,omitempty"`
	ResourceGroup        string           `json:"resource_group,omitempty" bson:"resource_group,omitempty"`
	RouteID              string           `json:"route_id,omitempty" bson:"route_id,omitempty"`
	GuardrailIDs         []string         `json:"guardrail_ids,omitempty" bson:"guardrail_ids,omitempty"`
	Scheduling           *ScheduleConfig  `json:"scheduling,omitempty" bson:"scheduling,omitempty"`
	FailureReason        string           `json:"failure_reason,omitempty" bson:"failure_reason,omitempty"`
	AllowedGroups        []string         `json:"allowed_groups,omitempty" bson:"allowed_groups,omitempty"`
	CreatedAt            time.Time        `json:"created_at" bson:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at" bson:"updated_at"`
}

// Validate validates the model record on creation
func (m *ModelRecord) Validate() error {
	if m.ModelID == "" {
		return errors.New("model id is required")
	}
	if len(m.ModelID) > 255 {
		return errors.New("model id must be 255 characters or less")
	}
	if err := m.DeploymentConfig.Validate(); err != nil {
		return err
	}
	if m.Scheduling != nil {
		if err := m.Scheduling.Validate(); err != nil {
			return fmt.Errorf("schedule validation failed: %w", err)
		}
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	return nil
}

// ModelListItem represents a summary of a model for list responses
type ModelListItem struct {
	ModelID         string    `json:"model_id"`
	Status          Status    `json:"status"`
	InferenceEngine string    `json:"inference_engine"`
	SelfHosted      bool      `json:"self_hosted"`
	Endpoint        string    `json:"endpoint,omitempty"`
	ScheduleEnabled bool      `json:"schedule_enabled"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ToListItem converts ModelRecord to ModelListItem
func (m *ModelRecord) ToListItem() ModelListItem {
	item := ModelListItem{
		ModelID:         m.ModelID,
		Status:          m.Status,
		InferenceEngine: m.DeploymentConfig.InferenceEngine,
		SelfHosted:      m.DeploymentConfig.SelfHosted(),
		Endpoint:        m.Endpoint,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	if m.Scheduling != nil {
		item.ScheduleEnabled = m.Scheduling.ScheduleEnabled
	}
	return item
}
