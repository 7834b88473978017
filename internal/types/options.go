package types

import "time"

type RetryPolicy struct {
	MaxAttempts        int
	InitialInterval    time.Duration
	BackoffCoefficient float64
	MaxInterval        time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:        1,
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaxInterval:        5 * time.Minute,
	}
}

type WorkflowConfig struct {
	Retry RetryPolicy
}

type WorkflowOptions []WorkflowOption

func NewWorkflowConfig(opts ...WorkflowOption) WorkflowConfig {
	cfg := WorkflowConfig{Retry: DefaultRetryPolicy()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

type WorkflowOption func(*WorkflowConfig)

func WithWorkflowRetryMaximumAttempts(max int) WorkflowOption {
	return func(c *WorkflowConfig) {
		c.Retry.MaxAttempts = max
	}
}

func WithWorkflowRetryInitialInterval(interval time.Duration) WorkflowOption {
	return func(c *WorkflowConfig) {
		c.Retry.InitialInterval = interval
	}
}

func WithWorkflowRetryBackoffCoefficient(coefficient float64) WorkflowOption {
	return func(c *WorkflowConfig) {
		c.Retry.BackoffCoefficient = coefficient
	}
}

func WithWorkflowRetryMaximumInterval(interval time.Duration) WorkflowOption {
	return func(c *WorkflowConfig) {
		c.Retry.MaxInterval = interval
	}
}
