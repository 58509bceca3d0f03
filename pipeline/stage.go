package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/storylab/threadline/config"
	"github.com/storylab/threadline/llm"
)

// stageError is the terminal failure of a stage: the last outcome plus how
// many attempts were spent reaching it.
type stageError struct {
	Stage    Stage
	Attempts int
	Outcome  StageOutcome
}

func (e *stageError) Error() string {
	return fmt.Sprintf("stage %s failed after %d attempt(s): %v", e.Stage, e.Attempts, e.Outcome.Err)
}

func (e *stageError) Unwrap() error { return e.Outcome.Err }

// runStage drives one stage through its lifecycle: invoke the generation
// service, extract and decode the JSON region, validate, and on retryable
// failure re-invoke with a corrective message embedding the exact rejection
// reasons. Fatal outcomes and context cancellation stop immediately.
func runStage[T any](ctx context.Context, c *Controller, state *RunState, stage Stage, system, user string, handle func(raw string) (T, []FieldError)) (T, error) {
	var zero T
	ss := state.stage(stage)
	start := time.Now()
	defer func() {
		ss.Duration = time.Since(start)
		stageDuration.WithLabelValues(string(stage)).Observe(ss.Duration.Seconds())
	}()

	messages := []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}

	var last StageOutcome
	maxAttempts := c.cfg.Retry.MaxAttempts

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ss.Status = StatusInvoking
		ss.Calls++
		generationCalls.WithLabelValues(string(stage)).Inc()

		out, outcome := attemptStage(ctx, c, ss, stage, messages, handle)
		switch outcome.Kind {
		case OutcomeSuccess:
			ss.Status = StatusDone
			return out, nil
		case OutcomeFatal:
			ss.Status = StatusFailed
			ss.Errors = append(ss.Errors, outcome.Err.Error())
			stageFailures.WithLabelValues(string(stage)).Inc()
			return zero, &stageError{Stage: stage, Attempts: attempt, Outcome: outcome}
		}

		last = outcome
		ss.Errors = append(ss.Errors, outcome.Err.Error())

		if attempt == maxAttempts {
			break
		}

		ss.Status = StatusRetrying
		ss.Retries++
		stageRetries.WithLabelValues(string(stage)).Inc()

		backoff := backoffFor(c.cfg.Retry, attempt)
		c.logger.Warn("stage attempt rejected, retrying",
			"stage", stage,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"backoff", backoff,
			"error", outcome.Err)

		select {
		case <-ctx.Done():
			ss.Status = StatusFailed
			stageFailures.WithLabelValues(string(stage)).Inc()
			return zero, &stageError{Stage: stage, Attempts: attempt, Outcome: fatal(ctx.Err())}
		case <-time.After(backoff):
		}

		// The corrective message replaces any previous one so the context
		// carries only the latest rejection.
		corrective := llm.Message{Role: "user", Content: correctiveMessage(outcome.Err, outcome.FieldErrors)}
		if len(messages) > 2 {
			messages[len(messages)-1] = corrective
		} else {
			messages = append(messages, corrective)
		}
	}

	ss.Status = StatusFailed
	stageFailures.WithLabelValues(string(stage)).Inc()
	return zero, &stageError{Stage: stage, Attempts: maxAttempts, Outcome: last}
}

// attemptStage performs a single invoke-extract-decode-validate pass.
func attemptStage[T any](ctx context.Context, c *Controller, ss *StageState, stage Stage, messages []llm.Message, handle func(raw string) (T, []FieldError)) (T, StageOutcome) {
	var zero T

	resp, err := c.completer.Complete(ctx, buildRequest(c.cfg.Model, messages))
	if err != nil {
		if errors.Is(err, context.Canceled) || llm.IsFatal(err) {
			return zero, fatal(err)
		}
		return zero, retryable(err)
	}

	raw, err := llm.ExtractJSON(resp.Content)
	if err != nil {
		return zero, retryable(fmt.Errorf("stage %s: %w", stage, err))
	}

	ss.Status = StatusValidating
	out, fieldErrs := handle(raw)
	if len(fieldErrs) > 0 {
		return zero, retryable(fmt.Errorf("stage %s: response rejected by validation", stage), fieldErrs...)
	}
	return out, success()
}

func buildRequest(m config.ModelConfig, messages []llm.Message) llm.Request {
	temp := m.Temperature
	return llm.Request{
		Provider:    m.Provider,
		Model:       m.Name,
		BaseURL:     m.Endpoint,
		Messages:    messages,
		Temperature: &temp,
		MaxTokens:   m.MaxTokens,
		Timeout:     m.Timeout,
	}
}

// backoffFor computes the exponential backoff for a retry, with jitter so
// concurrent runs against the same endpoint do not retry in lockstep.
func backoffFor(rc config.RetryConfig, attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= rc.BackoffMultiplier
	}
	backoff := time.Duration(float64(rc.BackoffBase) * multiplier)
	if rc.MaxBackoff > 0 && backoff > rc.MaxBackoff {
		backoff = rc.MaxBackoff
	}
	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}
