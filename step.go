package invoiceflow

import (
	"context"
	"fmt"
)

// Names of the fixed pipeline steps, in execution order.
const (
	StepIntake         = "INTAKE"
	StepUnderstand     = "UNDERSTAND"
	StepPrepare        = "PREPARE"
	StepRetrieve       = "RETRIEVE"
	StepMatchTwoWay    = "MATCH_TWO_WAY"
	StepCheckpointHITL = "CHECKPOINT_HITL"
	StepHITLDecision   = "HITL_DECISION"
	StepReconcile      = "RECONCILE"
	StepApprove        = "APPROVE"
	StepPosting        = "POSTING"
	StepNotify         = "NOTIFY"
	StepComplete       = "COMPLETE"
)

type outcomeKind int

// The zero kind is deliberately not a valid outcome: a step function that
// never ran leaves the zero Outcome behind, and the engine must be able to
// tell that apart from an advance.
const (
	outcomeNone outcomeKind = iota
	outcomeAdvance
	outcomeInterrupt
	outcomeFail
)

// Outcome is the uniform return value of a step function: advance with new
// payload fields, interrupt for human input, or fail. An interrupt is not
// an error; it is a normal terminal value for the current run invocation.
type Outcome struct {
	kind    outcomeKind
	fields  map[string]any
	reason  string
	context map[string]any
	err     error
	fatal   bool
}

// Advance returns an outcome that merges the given fields into the payload
// and moves execution to the next step.
func Advance(fields map[string]any) Outcome {
	return Outcome{kind: outcomeAdvance, fields: fields}
}

// Interrupt returns an outcome that pauses the thread for human input. The
// context carries what a reviewer needs to act without re-reading full
// payload internals.
func Interrupt(reason string, context map[string]any) Outcome {
	return Outcome{kind: outcomeInterrupt, reason: reason, context: context}
}

// Fail returns a failure outcome. A fatal failure short-circuits any
// remaining retry attempts; a non-fatal failure consumes one attempt.
func Fail(err error, fatal bool) Outcome {
	return Outcome{kind: outcomeFail, err: err, fatal: fatal}
}

// StepFunc executes one step against the current payload. Implementations
// must be idempotent: re-running a step writes the same payload keys again
// rather than accumulating duplicates.
type StepFunc func(ctx context.Context, payload map[string]any) Outcome

// StepDefinition declares one named step of the pipeline together with its
// retry policy.
type StepDefinition struct {
	Name        string
	Retryable   bool
	MaxAttempts int
	Func        StepFunc
}

// Registry is the ordered, immutable list of pipeline steps. Step functions
// are supplied by external collaborators but invoked uniformly through the
// Outcome contract. The registry is read-only after construction.
type Registry struct {
	steps  []StepDefinition
	byName map[string]int
}

// NewRegistry validates and freezes an ordered step list.
func NewRegistry(steps []StepDefinition) (*Registry, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("steps required")
	}
	byName := make(map[string]int, len(steps))
	for i, step := range steps {
		if step.Name == "" {
			return nil, fmt.Errorf("step name required")
		}
		if step.Func == nil {
			return nil, fmt.Errorf("step %q function required", step.Name)
		}
		if _, ok := byName[step.Name]; ok {
			return nil, fmt.Errorf("duplicate step name %q", step.Name)
		}
		if step.Retryable && step.MaxAttempts < 1 {
			return nil, fmt.Errorf("step %q retryable but max attempts < 1", step.Name)
		}
		byName[step.Name] = i
	}
	return &Registry{steps: append([]StepDefinition(nil), steps...), byName: byName}, nil
}

// Len returns the number of steps.
func (r *Registry) Len() int {
	return len(r.steps)
}

// Step returns the step at the given ordinal.
func (r *Registry) Step(index int) (StepDefinition, bool) {
	if index < 0 || index >= len(r.steps) {
		return StepDefinition{}, false
	}
	return r.steps[index], true
}

// Index returns the ordinal of a named step.
func (r *Registry) Index(name string) (int, bool) {
	i, ok := r.byName[name]
	return i, ok
}

// StepNames returns the step names in execution order.
func (r *Registry) StepNames() []string {
	names := make([]string, len(r.steps))
	for i, s := range r.steps {
		names[i] = s.Name
	}
	return names
}
