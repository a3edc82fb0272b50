package routing

import (
	"math"
	"time"
)

// RetryConfig configures bounded exponential backoff for router API calls
type RetryConfig struct {
	MaxAttempts    int
	InitialDelayMs int
	MaxDelayMs     int
	Multiplier     float64
}

// SetDefaults sets default values for the retry configuration
func (rc *RetryConfig) SetDefaults() {
	if rc.MaxAttempts == 0 {
		rc.MaxAttempts = 3
	}
	if rc.InitialDelayMs == 0 {
		rc.InitialDelayMs = 500
	}
	if rc.MaxDelayMs == 0 {
		rc.MaxDelayMs = 10000
	}
	if rc.Multiplier == 0 {
		rc.Multiplier = 2.0
	}
}

// RetryStrategy handles exponential backoff retry logic
type RetryStrategy struct {
	config RetryConfig
}

// NewRetryStrategy creates a new retry strategy
func NewRetryStrategy(config RetryConfig) *RetryStrategy {
	config.SetDefaults()
	return &RetryStrategy{
		config: config,
	}
}

// CalculateDelay calculates the delay for a given attempt using exponential
// backoff: delay = min(initial_delay * (multiplier ^ attempt), max_delay)
func (rs *RetryStrategy) CalculateDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delayMs := float64(rs.config.InitialDelayMs) * math.Pow(rs.config.Multiplier, float64(attempt-1))

	if delayMs > float64(rs.config.MaxDelayMs) {
		delayMs = float64(rs.config.MaxDelayMs)
	}

	return time.Duration(delayMs) * time.Millisecond
}

// ShouldRetry determines if a retry should be attempted based on the
// attempt count, response status and error
func (rs *RetryStrategy) ShouldRetry(attempt int, statusCode int, err error) bool {
	if attempt >= rs.config.MaxAttempts {
		return false
	}

	// Network errors retry
	if err != nil {
		return true
	}

	// Server errors and rate limiting retry
	if statusCode >= 500 && statusCode < 600 {
		return true
	}
	if statusCode == 429 {
		return true
	}

	// Client errors do not
	return false
}

// GetMaxAttempts returns the maximum number of attempts
func (rs *RetryStrategy) GetMaxAttempts() int {
	return rs.config.MaxAttempts
}
