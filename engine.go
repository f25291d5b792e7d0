package invoiceflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/clearledger-ai/invoiceflow/retry"
)

// EngineOptions configures a new Engine.
type EngineOptions struct {
	Registry      *Registry
	Store         StateStore
	Logger        *slog.Logger
	Formatter     Formatter
	RetryBaseWait time.Duration
	RetryMaxWait  time.Duration
}

// Engine drives threads through the fixed step sequence. Threads are
// independent; any number may run concurrently. Within one thread execution
// is strictly sequential, enforced by a per-thread lease.
type Engine struct {
	registry  *Registry
	store     StateStore
	leases    *leaseTable
	logger    *slog.Logger
	formatter Formatter
	baseWait  time.Duration
	maxWait   time.Duration
}

// NewEngine creates an engine over a step registry and a state store.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Formatter == nil {
		opts.Formatter = NewNullFormatter()
	}
	if opts.RetryBaseWait <= 0 {
		opts.RetryBaseWait = 2 * time.Second
	}
	if opts.RetryMaxWait <= 0 {
		opts.RetryMaxWait = 30 * time.Second
	}
	return &Engine{
		registry:  opts.Registry,
		store:     opts.Store,
		leases:    newLeaseTable(),
		logger:    opts.Logger,
		formatter: opts.Formatter,
		baseWait:  opts.RetryBaseWait,
		maxWait:   opts.RetryMaxWait,
	}, nil
}

// Create allocates a thread with the given initial payload, persists its
// initial checkpoint with status RUNNING at step zero, and returns it.
// Driving the thread is the caller's choice of synchronous or asynchronous
// kick-off; status is observable from the moment Create returns.
func (e *Engine) Create(ctx context.Context, initialPayload map[string]any) (*Thread, error) {
	if len(initialPayload) == 0 {
		return nil, NewValidationError("initial payload is required")
	}
	now := time.Now().UTC()
	thread := &Thread{
		ID:            NewThreadID(),
		Status:        StatusRunning,
		StepIndex:     0,
		Payload:       copyMap(initialPayload),
		AttemptCounts: map[string]int{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	transition := &Transition{
		ThreadID: thread.ID,
		Outcome:  OutcomeCreated,
		Status:   StatusRunning,
		At:       now,
	}
	if err := e.store.CreateThread(ctx, thread, transition); err != nil {
		return nil, err
	}
	e.logger.Info("thread created", "thread_id", thread.ID)
	return thread.Copy(), nil
}

// Run advances a RUNNING thread from its checkpointed step index until it
// pauses, completes, or fails. A concurrent Run or Resume on the same
// thread fails immediately with a busy conflict. Running a paused or
// terminal thread is a conflict.
func (e *Engine) Run(ctx context.Context, threadID string) error {
	if !e.leases.acquire(threadID) {
		return NewConflictError(threadID, "busy: execution already in progress")
	}
	defer e.leases.release(threadID)

	thread, err := e.store.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	if thread.Status.Terminal() {
		return NewConflictError(threadID, fmt.Sprintf("thread is %s", thread.Status))
	}
	if thread.Status == StatusPaused {
		return NewConflictError(threadID, "thread is paused awaiting a decision")
	}
	return e.drive(ctx, thread)
}

// Resume continues a PAUSED thread with an external decision. The decision
// is merged into the payload and the thread advances past the decision
// step; downstream steps branch on the decision value, the engine itself
// only forwards it. A second resume of the same pending review conflicts.
func (e *Engine) Resume(ctx context.Context, threadID string, decision Decision) error {
	if !validDecision(decision.Decision) {
		return NewValidationError(fmt.Sprintf("decision must be one of %v", AcceptedDecisions()))
	}
	if decision.ReviewerID == "" {
		return NewValidationError("reviewer_id is required")
	}

	if !e.leases.acquire(threadID) {
		return NewConflictError(threadID, "busy: execution already in progress")
	}
	defer e.leases.release(threadID)

	thread, err := e.store.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	if thread.Status != StatusPaused || thread.PendingReview == nil {
		return NewConflictError(threadID, fmt.Sprintf("thread is %s, not awaiting a decision", thread.Status))
	}

	decisionStep, ok := e.registry.Step(thread.StepIndex)
	if !ok {
		return NewConflictError(threadID, "checkpointed step index is out of range")
	}

	now := time.Now().UTC()
	thread.mergePayload(map[string]any{
		"human_decision": decision.Decision,
		"reviewer_id":    decision.ReviewerID,
		"review_notes":   decision.Notes,
		"decided_at":     now.Format(time.RFC3339),
	})
	thread.PendingReview = nil
	thread.Status = StatusRunning
	thread.StepIndex++

	transition := &Transition{
		Step:    decisionStep.Name,
		Outcome: OutcomeDecision,
		Status:  StatusRunning,
		Detail:  fmt.Sprintf("%s by %s", decision.Decision, decision.ReviewerID),
	}
	if err := e.checkpoint(ctx, thread, transition); err != nil {
		return err
	}
	e.logger.Info("thread resumed",
		"thread_id", thread.ID,
		"decision", decision.Decision,
		"reviewer_id", decision.ReviewerID)

	return e.drive(ctx, thread)
}

// Status returns a read-only snapshot of the most recently persisted
// checkpoint.
func (e *Engine) Status(ctx context.Context, threadID string) (*Thread, error) {
	return e.store.GetThread(ctx, threadID)
}

// PendingReviews returns all threads currently paused for human input.
func (e *Engine) PendingReviews(ctx context.Context) ([]*Thread, error) {
	return e.store.ListThreads(ctx, StatusPaused)
}

// Transitions returns the ordered execution log for a thread.
func (e *Engine) Transitions(ctx context.Context, threadID string) ([]*Transition, error) {
	return e.store.Transitions(ctx, threadID)
}

// Recover re-enters Run for every thread left RUNNING by a previous
// process, resuming each from its last durable checkpoint. Step idempotency
// makes the at-least-once re-execution of the in-flight step safe. Returns
// the number of threads re-entered.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	threads, err := e.store.ListThreads(ctx, StatusRunning)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, thread := range threads {
		e.logger.Info("recovering thread from checkpoint",
			"thread_id", thread.ID, "step_index", thread.StepIndex)
		if err := e.Run(ctx, thread.ID); err != nil && !IsConflict(err) {
			e.logger.Error("recovery run ended with error", "thread_id", thread.ID, "error", err)
		}
		recovered++
	}
	return recovered, nil
}

// drive executes the step loop for a thread the caller holds the lease on,
// persisting a checkpoint after every step outcome.
func (e *Engine) drive(ctx context.Context, thread *Thread) error {
	logger := e.logger.With("thread_id", thread.ID)
	if thread.AttemptCounts == nil {
		thread.AttemptCounts = map[string]int{}
	}

	for thread.StepIndex < e.registry.Len() {
		step, _ := e.registry.Step(thread.StepIndex)
		e.formatter.PrintStepStart(thread.ID, step.Name)

		outcome, attempts, err := e.invoke(ctx, step, thread)
		if err != nil {
			// The context ended before the step produced a durable outcome.
			// Nothing is checkpointed; the thread stays RUNNING at this
			// step and a later run resumes it from here.
			logger.Warn("run interrupted", "step", step.Name, "error", err)
			return err
		}

		switch outcome.kind {
		case outcomeAdvance:
			thread.mergePayload(outcome.fields)
			thread.StepIndex++
			delete(thread.AttemptCounts, step.Name)

			transition := &Transition{Step: step.Name, Outcome: OutcomeAdvanced, Status: StatusRunning}
			if thread.StepIndex == e.registry.Len() {
				thread.Status = StatusCompleted
				transition.Outcome = OutcomeCompleted
				transition.Status = StatusCompleted
			}
			if err := e.checkpoint(ctx, thread, transition); err != nil {
				return err
			}
			e.formatter.PrintStepOutput(thread.ID, step.Name, outcome.fields)
			logger.Debug("step advanced", "step", step.Name, "step_index", thread.StepIndex)

		case outcomeInterrupt:
			// The raising step has finished evaluating; the paused
			// checkpoint points at the decision step that follows it.
			thread.StepIndex++
			thread.Status = StatusPaused
			thread.PendingReview = reviewFromOutcome(outcome)
			transition := &Transition{
				Step:    step.Name,
				Outcome: OutcomePaused,
				Status:  StatusPaused,
				Detail:  outcome.reason,
			}
			if err := e.checkpoint(ctx, thread, transition); err != nil {
				return err
			}
			logger.Info("thread paused for review", "step", step.Name, "reason", outcome.reason)
			return nil

		case outcomeFail:
			stepErr := ClassifyError(outcome.err)
			if attempts > 0 {
				thread.AttemptCounts[step.Name] = attempts
			}
			thread.Status = StatusFailed
			thread.Error = &ThreadError{
				Step:    step.Name,
				Kind:    stepErr.Kind,
				Message: stepErr.Message,
			}
			transition := &Transition{
				Step:    step.Name,
				Outcome: OutcomeFailed,
				Status:  StatusFailed,
				Detail:  stepErr.Message,
			}
			if err := e.checkpoint(ctx, thread, transition); err != nil {
				return err
			}
			e.formatter.PrintStepError(thread.ID, step.Name, stepErr)
			logger.Error("thread failed", "step", step.Name, "error", stepErr.Message)
			return &Error{Kind: stepErr.Kind, Message: stepErr.Message, ThreadID: thread.ID, Wrapped: stepErr.Wrapped}
		}
	}

	logger.Info("thread completed", "steps", e.registry.Len())
	return nil
}

// invoke is the retry controller: it wraps one step invocation with the
// step's bounded retry policy. Transient failures are contained here and
// only surface wrapped as a budget-exhausted fatal failure. Returns the
// final outcome and the number of failed attempts consumed; a non-nil
// error means the context ended the invocation without a final outcome,
// and the caller must not treat the returned Outcome as one.
func (e *Engine) invoke(ctx context.Context, step StepDefinition, thread *Thread) (Outcome, int, error) {
	maxAttempts := step.MaxAttempts
	if !step.Retryable || maxAttempts < 1 {
		maxAttempts = 1
	}

	var outcome Outcome
	attempts := 0
	doErr := retry.Do(ctx, func() error {
		outcome = step.Func(ctx, copyMap(thread.Payload))
		if outcome.kind != outcomeFail {
			return nil
		}
		attempts++
		stepErr := outcome.err
		if stepErr == nil {
			stepErr = fmt.Errorf("step %s failed", step.Name)
			outcome.err = stepErr
		}
		if outcome.fatal || IsFatal(stepErr) {
			return retry.NewNonRecoverableError(stepErr)
		}
		return retry.NewRecoverableError(stepErr)
	},
		retry.WithMaxRetries(maxAttempts-1),
		retry.WithBaseWait(e.baseWait),
		retry.WithMaxWait(e.maxWait),
		retry.WithJitter(),
		retry.WithOnRetry(func(attempt int, err error) {
			e.logger.Warn("retrying step",
				"thread_id", thread.ID, "step", step.Name, "attempt", attempt, "error", err)
		}),
	)

	if outcome.kind == outcomeNone {
		// The context was done before the step ever ran.
		if doErr == nil {
			doErr = ctx.Err()
		}
		return Outcome{}, attempts, doErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil && outcome.kind == outcomeFail && !outcome.fatal && !IsFatal(outcome.err) {
		// Canceled during a backoff wait. The budget was not exhausted, so
		// the last transient failure is not final.
		return outcome, attempts, ctxErr
	}
	if outcome.kind == outcomeFail && !outcome.fatal && !IsFatal(outcome.err) {
		// Retry budget exhausted: convert to fatal, wrapping the last error.
		outcome.err = &Error{
			Kind:    KindFatal,
			Message: fmt.Sprintf("retry budget exhausted after %d attempts: %v", attempts, outcome.err),
			Wrapped: outcome.err,
		}
		outcome.fatal = true
	}
	return outcome, attempts, nil
}

// checkpoint persists the thread and its transition as one atomic write.
func (e *Engine) checkpoint(ctx context.Context, thread *Thread, transition *Transition) error {
	now := time.Now().UTC()
	thread.UpdatedAt = now
	transition.ThreadID = thread.ID
	transition.At = now
	if err := e.store.SaveThread(ctx, thread, transition); err != nil {
		e.logger.Error("failed to save checkpoint", "thread_id", thread.ID, "error", err)
		return err
	}
	return nil
}

func reviewFromOutcome(outcome Outcome) *PendingReview {
	review := &PendingReview{
		Reason:    outcome.reason,
		Context:   copyMap(outcome.context),
		Decisions: AcceptedDecisions(),
		RaisedAt:  time.Now().UTC(),
	}
	// "score" and "threshold" are protocol keys of the interrupt context:
	// when present they are lifted into the typed snapshot fields.
	if score, ok := outcome.context["score"].(float64); ok {
		review.Score = score
	}
	if threshold, ok := outcome.context["threshold"].(float64); ok {
		review.Threshold = threshold
	}
	return review
}

func validDecision(value string) bool {
	for _, accepted := range AcceptedDecisions() {
		if value == accepted {
			return true
		}
	}
	return false
}
