package validator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dreamweaver-server/internal/models"
	"dreamweaver-server/internal/stage"

	"go.uber.org/zap"
)

const (
	// DefaultMaxRetries is the number of extra attempts after the first one.
	DefaultMaxRetries = 2
	// DefaultStageTimeout bounds a single adapter call.
	DefaultStageTimeout = 30 * time.Second
)

// Outcome is the result of running one stage.
type Outcome struct {
	Patch    models.Patch
	Attempts int
	Retries  int
	Degraded bool
	// LastErr is the final rejection when the stage degraded.
	LastErr error
}

// Executor drives a stage adapter through validation, bounded retries and the
// deterministic fallback.
type Executor struct {
	adapter    stage.Adapter
	validator  *Validator
	timeout    time.Duration
	maxRetries int
	logger     *zap.Logger
}

// NewExecutor creates an Executor. Non-positive timeout and negative
// maxRetries fall back to the defaults.
func NewExecutor(adapter stage.Adapter, validator *Validator, timeout time.Duration, maxRetries int, logger *zap.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultStageTimeout
	}
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Executor{
		adapter:    adapter,
		validator:  validator,
		timeout:    timeout,
		maxRetries: maxRetries,
		logger:     logger.Named("StageExecutor"),
	}
}

// AcceptFunc decides whether a schema-valid patch fits the current world.
type AcceptFunc func(models.Patch) error

// Run executes stage kind. It always returns a usable patch: either the first
// accepted output or, after 1+maxRetries rejected attempts, the fallback.
// Adapter calls do not observe cancellation of ctx, only the per-call timeout.
func (e *Executor) Run(ctx context.Context, kind models.StageKind, in stage.Input) Outcome {
	return e.RunChecked(ctx, kind, in, nil)
}

// RunChecked is Run with an extra acceptance check applied to every validated
// patch. A patch refused by accept counts as a rejected attempt and its error
// is fed back to the next one. The fallback patch is not checked.
func (e *Executor) RunChecked(ctx context.Context, kind models.StageKind, in stage.Input, accept AcceptFunc) Outcome {
	base := context.WithoutCancel(ctx)
	log := e.logger.With(zap.String("stage", string(kind)))
	if in.World != nil {
		log = log.With(zap.String("worldID", in.World.ID))
	}

	var lastErr error
	attempts := 1 + e.maxRetries
	for attempt := 1; attempt <= attempts; attempt++ {
		in.Attempt = attempt
		in.Feedback = feedback(lastErr)

		raw, err := e.call(base, kind, in)
		if err != nil {
			stageAttemptsTotal.WithLabelValues(string(kind), "failed").Inc()
			log.Warn("Stage generation failed", zap.Int("attempt", attempt), zap.Error(err))
			lastErr = err
			continue
		}
		patch, err := e.validator.Validate(kind, raw)
		if err != nil {
			stageAttemptsTotal.WithLabelValues(string(kind), "invalid").Inc()
			log.Warn("Stage output rejected", zap.Int("attempt", attempt), zap.Error(err))
			lastErr = err
			continue
		}
		if accept != nil {
			if err := accept(patch); err != nil {
				stageAttemptsTotal.WithLabelValues(string(kind), "rejected").Inc()
				log.Warn("Stage output rejected by world", zap.Int("attempt", attempt), zap.Error(err))
				lastErr = &models.ValidationError{Stage: kind, Problems: []string{err.Error()}}
				continue
			}
		}
		stageAttemptsTotal.WithLabelValues(string(kind), "accepted").Inc()
		if attempt > 1 {
			log.Info("Stage output accepted after retries", zap.Int("retries", attempt-1))
		}
		return Outcome{Patch: patch, Attempts: attempt, Retries: attempt - 1}
	}

	stageFallbacksTotal.WithLabelValues(string(kind)).Inc()
	log.Error("Stage degraded to fallback patch", zap.Int("attempts", attempts), zap.Error(lastErr))
	return Outcome{
		Patch:    FallbackPatch(kind, in.World, in.UserID),
		Attempts: attempts,
		Retries:  attempts - 1,
		Degraded: true,
		LastErr:  lastErr,
	}
}

type callResult struct {
	raw string
	err error
}

// call invokes the adapter and gives up at the timeout even if the adapter
// does not return.
func (e *Executor) call(base context.Context, kind models.StageKind, in stage.Input) (string, error) {
	callCtx, cancel := context.WithTimeout(base, e.timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		raw, err := e.adapter.Execute(callCtx, kind, in)
		done <- callResult{raw: raw, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			return res.raw, nil
		}
		var gf *models.GenerationFailure
		if errors.As(res.err, &gf) {
			return "", res.err
		}
		failure := models.FailureRefused
		if errors.Is(res.err, context.DeadlineExceeded) {
			failure = models.FailureTimeout
		}
		return "", &models.GenerationFailure{Kind: failure, Stage: kind, Err: res.err}
	case <-callCtx.Done():
		return "", &models.GenerationFailure{Kind: models.FailureTimeout, Stage: kind, Err: fmt.Errorf("no output within %s", e.timeout)}
	}
}

func feedback(err error) string {
	if err == nil {
		return ""
	}
	var ve *models.ValidationError
	if errors.As(err, &ve) {
		return fmt.Sprintf("Your previous answer was rejected: %v. Answer again with a single JSON object that fits the output format.", ve.Problems)
	}
	return fmt.Sprintf("Your previous attempt failed (%v). Answer with a single JSON object that fits the output format.", err)
}
