package invoiceflow

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewThreadID(t *testing.T) {
	a := NewThreadID()
	b := NewThreadID()
	require.NotEqual(t, a, b)
	require.Contains(t, a, "thread_")
}

func TestStatusTerminal(t *testing.T) {
	require.False(t, StatusRunning.Terminal())
	require.False(t, StatusPaused.Terminal())
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailed.Terminal())
}

func TestThreadJSONRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	thread := &Thread{
		ID:        "thread_01h2x",
		Status:    StatusPaused,
		StepIndex: 6,
		Payload: map[string]any{
			"match_score":            0.82,
			"normalized_vendor_name": "globex",
		},
		AttemptCounts: map[string]int{"RETRIEVE": 2},
		PendingReview: &PendingReview{
			Reason:    "match score 0.82 below threshold 0.90",
			Score:     0.82,
			Threshold: 0.90,
			Decisions: AcceptedDecisions(),
			RaisedAt:  now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	raw, err := json.Marshal(thread)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"current_step_index":6`)

	var restored Thread
	require.NoError(t, json.Unmarshal(raw, &restored))
	require.Equal(t, thread.ID, restored.ID)
	require.Equal(t, thread.Status, restored.Status)
	require.Equal(t, thread.StepIndex, restored.StepIndex)
	require.Equal(t, 0.82, restored.Payload["match_score"])
	require.Equal(t, thread.AttemptCounts, restored.AttemptCounts)
	require.Equal(t, thread.PendingReview.Reason, restored.PendingReview.Reason)
	require.True(t, thread.PendingReview.RaisedAt.Equal(restored.PendingReview.RaisedAt))
}

func TestThreadCopyIsIndependent(t *testing.T) {
	thread := &Thread{
		ID:            "thread_a",
		Status:        StatusRunning,
		Payload:       map[string]any{"k": "v"},
		AttemptCounts: map[string]int{"INTAKE": 1},
		PendingReview: &PendingReview{Reason: "r", Context: map[string]any{"x": 1}},
		Error:         &ThreadError{Step: "POSTING", Kind: KindFatal, Message: "m"},
	}
	cp := thread.Copy()

	cp.Payload["k"] = "changed"
	cp.AttemptCounts["INTAKE"] = 9
	cp.PendingReview.Reason = "changed"
	cp.Error.Message = "changed"

	require.Equal(t, "v", thread.Payload["k"])
	require.Equal(t, 1, thread.AttemptCounts["INTAKE"])
	require.Equal(t, "r", thread.PendingReview.Reason)
	require.Equal(t, "m", thread.Error.Message)

	var nilThread *Thread
	require.Nil(t, nilThread.Copy())
}

func TestMergePayload(t *testing.T) {
	thread := &Thread{}
	thread.mergePayload(map[string]any{"a": 1})
	thread.mergePayload(map[string]any{"a": 2, "b": "x"})
	require.Equal(t, 2, thread.Payload["a"])
	require.Equal(t, "x", thread.Payload["b"])
}
