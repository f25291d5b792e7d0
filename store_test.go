package invoiceflow

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testThread(id string) *Thread {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &Thread{
		ID:            id,
		Status:        StatusRunning,
		StepIndex:     0,
		Payload:       map[string]any{"invoice_payload": map[string]any{"invoice_id": "INV-1"}},
		AttemptCounts: map[string]int{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func createdTransition(threadID string) *Transition {
	return &Transition{
		ThreadID: threadID,
		Outcome:  OutcomeCreated,
		Status:   StatusRunning,
		At:       time.Now().UTC(),
	}
}

// runStoreConformance exercises the StateStore contract shared by every
// backend.
func runStoreConformance(t *testing.T, store StateStore) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		thread := testThread(NewThreadID())
		require.NoError(t, store.CreateThread(ctx, thread, createdTransition(thread.ID)))

		got, err := store.GetThread(ctx, thread.ID)
		require.NoError(t, err)
		require.Equal(t, thread.ID, got.ID)
		require.Equal(t, StatusRunning, got.Status)
		require.Equal(t, 0, got.StepIndex)
		require.NotNil(t, got.Payload["invoice_payload"])
	})

	t.Run("duplicate create conflicts", func(t *testing.T) {
		thread := testThread(NewThreadID())
		require.NoError(t, store.CreateThread(ctx, thread, createdTransition(thread.ID)))
		err := store.CreateThread(ctx, thread, createdTransition(thread.ID))
		require.Error(t, err)
		require.True(t, IsConflict(err))
	})

	t.Run("get unknown thread", func(t *testing.T) {
		_, err := store.GetThread(ctx, "thread_unknown")
		require.Error(t, err)
		require.True(t, IsNotFound(err))
	})

	t.Run("save unknown thread", func(t *testing.T) {
		thread := testThread("thread_never_created")
		err := store.SaveThread(ctx, thread, createdTransition(thread.ID))
		require.Error(t, err)
		require.True(t, IsNotFound(err))
	})

	t.Run("save checkpoint round trip", func(t *testing.T) {
		thread := testThread(NewThreadID())
		require.NoError(t, store.CreateThread(ctx, thread, createdTransition(thread.ID)))

		thread.Status = StatusPaused
		thread.StepIndex = 6
		thread.Payload["match_score"] = 0.82
		thread.AttemptCounts = map[string]int{"RETRIEVE": 2}
		thread.PendingReview = &PendingReview{
			Reason:    "match score 0.82 below threshold 0.90",
			Score:     0.82,
			Threshold: 0.90,
			Context:   map[string]any{"invoice_id": "INV-1"},
			Decisions: AcceptedDecisions(),
			RaisedAt:  time.Now().UTC().Truncate(time.Millisecond),
		}
		thread.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, store.SaveThread(ctx, thread, &Transition{
			ThreadID: thread.ID,
			Step:     StepCheckpointHITL,
			Outcome:  OutcomePaused,
			Status:   StatusPaused,
			Detail:   "match score 0.82 below threshold 0.90",
			At:       time.Now().UTC(),
		}))

		got, err := store.GetThread(ctx, thread.ID)
		require.NoError(t, err)
		require.Equal(t, StatusPaused, got.Status)
		require.Equal(t, 6, got.StepIndex)
		require.Equal(t, 0.82, got.Payload["match_score"])
		require.Equal(t, map[string]int{"RETRIEVE": 2}, got.AttemptCounts)
		require.NotNil(t, got.PendingReview)
		require.Equal(t, 0.82, got.PendingReview.Score)
		require.Equal(t, AcceptedDecisions(), got.PendingReview.Decisions)

		// Clearing the review persists as absent, not as a zero struct.
		thread.Status = StatusRunning
		thread.PendingReview = nil
		require.NoError(t, store.SaveThread(ctx, thread, &Transition{
			ThreadID: thread.ID,
			Step:     StepHITLDecision,
			Outcome:  OutcomeDecision,
			Status:   StatusRunning,
			At:       time.Now().UTC(),
		}))
		got, err = store.GetThread(ctx, thread.ID)
		require.NoError(t, err)
		require.Nil(t, got.PendingReview)
	})

	t.Run("thread error round trip", func(t *testing.T) {
		thread := testThread(NewThreadID())
		require.NoError(t, store.CreateThread(ctx, thread, createdTransition(thread.ID)))

		thread.Status = StatusFailed
		thread.Error = &ThreadError{Step: StepPosting, Kind: KindFatal, Message: "erp rejected the posting"}
		require.NoError(t, store.SaveThread(ctx, thread, &Transition{
			ThreadID: thread.ID,
			Step:     StepPosting,
			Outcome:  OutcomeFailed,
			Status:   StatusFailed,
			At:       time.Now().UTC(),
		}))

		got, err := store.GetThread(ctx, thread.ID)
		require.NoError(t, err)
		require.Equal(t, StatusFailed, got.Status)
		require.Equal(t, &ThreadError{Step: StepPosting, Kind: KindFatal, Message: "erp rejected the posting"}, got.Error)
	})

	t.Run("list by status", func(t *testing.T) {
		paused := testThread(NewThreadID())
		paused.Status = StatusPaused
		require.NoError(t, store.CreateThread(ctx, paused, createdTransition(paused.ID)))

		all, err := store.ListThreads(ctx, "")
		require.NoError(t, err)
		require.NotEmpty(t, all)

		onlyPaused, err := store.ListThreads(ctx, StatusPaused)
		require.NoError(t, err)
		require.NotEmpty(t, onlyPaused)
		for _, th := range onlyPaused {
			require.Equal(t, StatusPaused, th.Status)
		}
	})

	t.Run("transition log ordering", func(t *testing.T) {
		thread := testThread(NewThreadID())
		require.NoError(t, store.CreateThread(ctx, thread, createdTransition(thread.ID)))

		for _, step := range []string{StepIntake, StepUnderstand, StepPrepare} {
			thread.StepIndex++
			require.NoError(t, store.SaveThread(ctx, thread, &Transition{
				ThreadID: thread.ID,
				Step:     step,
				Outcome:  OutcomeAdvanced,
				Status:   StatusRunning,
				At:       time.Now().UTC(),
			}))
		}

		transitions, err := store.Transitions(ctx, thread.ID)
		require.NoError(t, err)
		require.Len(t, transitions, 4)
		for i, tr := range transitions {
			require.Equal(t, i+1, tr.Seq)
		}
		require.Equal(t, OutcomeCreated, transitions[0].Outcome)
		require.Equal(t, StepPrepare, transitions[3].Step)
	})

	t.Run("transitions for unknown thread are empty", func(t *testing.T) {
		transitions, err := store.Transitions(ctx, "thread_unknown")
		require.NoError(t, err)
		require.Empty(t, transitions)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreConformance(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "threads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	runStoreConformance(t, store)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "threads.db")

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	thread := testThread(NewThreadID())
	require.NoError(t, store.CreateThread(ctx, thread, createdTransition(thread.ID)))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	require.Equal(t, thread.ID, got.ID)
	require.Equal(t, StatusRunning, got.Status)
}
