package invoiceflow

import (
	"time"

	"go.jetify.com/typeid"
)

// NewThreadID returns a new unique identifier for a thread.
func NewThreadID() string {
	id, err := typeid.WithPrefix("thread")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// Status represents the lifecycle state of a thread.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further operation may mutate a thread in
// this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Decision values accepted while a thread is paused for review.
const (
	DecisionAccept = "ACCEPT"
	DecisionReject = "REJECT"

	// DecisionAutoApproved is recorded by the checkpoint step when the
	// match score clears the threshold and no human review is needed.
	DecisionAutoApproved = "AUTO_APPROVED"
)

// AcceptedDecisions is the set of decision values a reviewer may submit.
func AcceptedDecisions() []string {
	return []string{DecisionAccept, DecisionReject}
}

// Decision is the external input that resolves a pending review.
type Decision struct {
	Decision   string `json:"decision"`
	ReviewerID string `json:"reviewer_id"`
	Notes      string `json:"notes,omitempty"`
}

// PendingReview carries the context a reviewer needs to act on a paused
// thread without reading raw payload internals. Present only while the
// thread status is PAUSED.
type PendingReview struct {
	Reason    string         `json:"reason"`
	Score     float64        `json:"score"`
	Threshold float64        `json:"threshold"`
	Context   map[string]any `json:"context,omitempty"`
	Decisions []string       `json:"decisions"`
	RaisedAt  time.Time      `json:"raised_at"`
}

// Copy returns a copy of the pending review.
func (r *PendingReview) Copy() *PendingReview {
	if r == nil {
		return nil
	}
	return &PendingReview{
		Reason:    r.Reason,
		Score:     r.Score,
		Threshold: r.Threshold,
		Context:   copyMap(r.Context),
		Decisions: append([]string(nil), r.Decisions...),
		RaisedAt:  r.RaisedAt,
	}
}

// ThreadError describes the fatal error that moved a thread to FAILED.
type ThreadError struct {
	Step    string `json:"step"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Thread is the unit of work for one invoice. It is the durable checkpoint
// representation: every field is JSON serializable and every mutation is
// persisted as a single atomic write before execution proceeds.
type Thread struct {
	ID            string         `json:"id"`
	Status        Status         `json:"status"`
	StepIndex     int            `json:"current_step_index"`
	Payload       map[string]any `json:"payload"`
	AttemptCounts map[string]int `json:"attempt_counts"`
	Error         *ThreadError   `json:"error,omitempty"`
	PendingReview *PendingReview `json:"pending_review,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Copy returns a deep enough copy for handing snapshots to callers: the
// maps are copied, payload values are shared.
func (t *Thread) Copy() *Thread {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Payload = copyMap(t.Payload)
	cp.AttemptCounts = copyCounts(t.AttemptCounts)
	cp.PendingReview = t.PendingReview.Copy()
	if t.Error != nil {
		e := *t.Error
		cp.Error = &e
	}
	return &cp
}

// mergePayload sets each field from delta into the payload. Within a single
// step invocation last write wins; re-running a step after a crash rewrites
// the same keys rather than duplicating prior fields.
func (t *Thread) mergePayload(delta map[string]any) {
	if t.Payload == nil {
		t.Payload = map[string]any{}
	}
	for k, v := range delta {
		t.Payload[k] = v
	}
}

// Transition is one entry of a thread's execution log: a checkpoint
// written after a step outcome. The log is append-only and derived from
// checkpoint history, never mutated retroactively.
type Transition struct {
	ThreadID string    `json:"thread_id"`
	Seq      int       `json:"seq"`
	Step     string    `json:"step"`
	Outcome  string    `json:"outcome"`
	Status   Status    `json:"status"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// Transition outcomes.
const (
	OutcomeCreated   = "created"
	OutcomeAdvanced  = "advanced"
	OutcomePaused    = "paused"
	OutcomeDecision  = "decision"
	OutcomeFailed    = "failed"
	OutcomeCompleted = "completed"
)

// copyMap creates a shallow copy of a map
func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func copyCounts(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	cp := make(map[string]int, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
