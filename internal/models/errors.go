package models

import (
	"errors"
	"fmt"
)

// Turn engine errors
var (
	// Storage
	ErrNotFound        = errors.New("world not found")
	ErrAlreadyExists   = errors.New("world already exists")
	ErrVersionConflict = errors.New("world version conflict")

	// Concurrency
	ErrWorldBusy = errors.New("world is busy with another turn")

	// Turn pipeline
	ErrTurnFailed         = errors.New("turn failed")
	ErrInvariantViolation = errors.New("world invariant violated")
	ErrValidation         = errors.New("stage output failed validation")
	ErrGenerationFailed   = errors.New("stage generation failed")
	ErrTurnCancelled      = errors.New("turn cancelled")

	// Requests
	ErrInvalidInput = errors.New("invalid input data")
)

// Error codes exposed to callers.
const (
	CodeNotFound        = "NotFound"
	CodeWorldBusy       = "WorldBusy"
	CodeTurnFailed      = "TurnFailed"
	CodeVersionConflict = "VersionConflict"
	CodeInvalidInput    = "InvalidInput"
	CodeCancelled       = "Cancelled"
	CodeInternal        = "Internal"
)

// ErrorCode maps an error returned by the engine to its public code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrWorldBusy):
		return CodeWorldBusy
	case errors.Is(err, ErrVersionConflict):
		return CodeVersionConflict
	case errors.Is(err, ErrTurnFailed), errors.Is(err, ErrInvariantViolation):
		return CodeTurnFailed
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrTurnCancelled):
		return CodeCancelled
	default:
		return CodeInternal
	}
}

// InvariantViolation describes which world rule a patch broke.
type InvariantViolation struct {
	Rule   string
	Detail string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant %s violated: %s", e.Rule, e.Detail)
}

func (e *InvariantViolation) Is(target error) bool {
	return target == ErrInvariantViolation
}

// Invariant rule names.
const (
	RuleReferentialIntegrity = "referential_integrity"
	RuleMetricRange          = "metric_range"
	RuleQuestProgress        = "quest_progress"
	RuleTurnLogAppendOnly    = "turn_log_append_only"
	RuleMemoryBound          = "memory_bound"
	RuleMalformedOp          = "malformed_op"
	RuleStatRange            = "stat_range"
	RuleTickMonotonic        = "tick_monotonic"
)

// FailureKind classifies a generation failure.
type FailureKind string

const (
	FailureTimeout   FailureKind = "timeout"
	FailureMalformed FailureKind = "malformed"
	FailureRefused   FailureKind = "refused"
)

// GenerationFailure is returned by stage adapters when no usable output was produced.
type GenerationFailure struct {
	Kind  FailureKind
	Stage StageKind
	Err   error
}

func (e *GenerationFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stage %s generation %s: %v", e.Stage, e.Kind, e.Err)
	}
	return fmt.Sprintf("stage %s generation %s", e.Stage, e.Kind)
}

func (e *GenerationFailure) Unwrap() error { return e.Err }

func (e *GenerationFailure) Is(target error) bool {
	return target == ErrGenerationFailed
}

// ValidationError lists why a stage output was rejected.
type ValidationError struct {
	Stage    StageKind
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("stage %s output invalid: %v", e.Stage, e.Problems)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
