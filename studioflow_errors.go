package studioflow

import (
	"errors"

	"github.com/davidroman0O/studioflow/internal/engine"
	"github.com/davidroman0O/studioflow/internal/engine/registry"
	"github.com/davidroman0O/studioflow/internal/persistence/repository"
	"github.com/davidroman0O/studioflow/internal/records"
	"github.com/davidroman0O/studioflow/internal/workflows"
)

var (
	ErrNotRetryable = errors.New("record is not retryable")

	ErrNotFound            = repository.ErrNotFound
	ErrInsufficientCredits = repository.ErrInsufficientCredits
	ErrWorkflowNotFound    = registry.ErrWorkflowNotFound
	ErrDuplicateTrigger    = engine.ErrDuplicateTrigger
	ErrInvalidTransition   = records.ErrInvalidTransition
	ErrInvalidPayload      = workflows.ErrInvalidPayload
	ErrQualityGate         = workflows.ErrQualityGate
)
