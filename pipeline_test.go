package invoiceflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clearledger-ai/invoiceflow"
	"github.com/clearledger-ai/invoiceflow/capabilities"
)

func newPipelineEngine(t *testing.T) (*invoiceflow.Engine, *invoiceflow.Registry) {
	t.Helper()
	registry, err := invoiceflow.NewInvoicePipeline(
		capabilities.NewFixtureToolset(), invoiceflow.DefaultPipelineConfig())
	require.NoError(t, err)
	engine, err := invoiceflow.NewEngine(invoiceflow.EngineOptions{
		Registry:      registry,
		RetryBaseWait: time.Millisecond,
	})
	require.NoError(t, err)
	return engine, registry
}

func createInvoiceThread(t *testing.T, engine *invoiceflow.Engine, invoiceID string) *invoiceflow.Thread {
	t.Helper()
	thread, err := engine.Create(context.Background(), map[string]any{
		"invoice_payload": map[string]any{
			"invoice_id":   invoiceID,
			"artifact_ref": invoiceID,
		},
	})
	require.NoError(t, err)
	return thread
}

func TestPipelineStepOrder(t *testing.T) {
	_, registry := newPipelineEngine(t)
	require.Equal(t, []string{
		"INTAKE", "UNDERSTAND", "PREPARE", "RETRIEVE", "MATCH_TWO_WAY",
		"CHECKPOINT_HITL", "HITL_DECISION", "RECONCILE", "APPROVE",
		"POSTING", "NOTIFY", "COMPLETE",
	}, registry.StepNames())
}

func TestPipelineCleanMatchAutoApproves(t *testing.T) {
	ctx := context.Background()
	engine, _ := newPipelineEngine(t)

	thread := createInvoiceThread(t, engine, "INV-1001")
	require.NoError(t, engine.Run(ctx, thread.ID))

	final, err := engine.Status(ctx, thread.ID)
	require.NoError(t, err)
	require.Equal(t, invoiceflow.StatusCompleted, final.Status)
	require.Nil(t, final.PendingReview)

	payload := final.Payload
	require.Equal(t, invoiceflow.DecisionAutoApproved, payload["human_decision"])
	require.Equal(t, 1.0, payload["match_score"])
	require.Equal(t, "MATCHED", payload["match_result"])
	require.Equal(t, "acme", payload["normalized_vendor_name"])
	require.Equal(t, invoiceflow.ApprovalAutoApproved, payload["approval_status"])
	require.Equal(t, true, payload["posted"])
	require.Contains(t, payload["erp_txn_id"], "ERP-TXN-")
	require.Contains(t, payload["scheduled_payment_id"], "PAY-")

	finalPayload, ok := payload["final_payload"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "INV-1001", finalPayload["invoice_id"])
	require.Equal(t, false, finalPayload["manual_handoff"])
}

func TestPipelineLowScorePausesForReview(t *testing.T) {
	ctx := context.Background()
	engine, registry := newPipelineEngine(t)

	thread := createInvoiceThread(t, engine, "INV-2002")
	require.NoError(t, engine.Run(ctx, thread.ID))

	paused, err := engine.Status(ctx, thread.ID)
	require.NoError(t, err)
	require.Equal(t, invoiceflow.StatusPaused, paused.Status)

	decisionIndex, ok := registry.Index("HITL_DECISION")
	require.True(t, ok)
	require.Equal(t, decisionIndex, paused.StepIndex)

	review := paused.PendingReview
	require.NotNil(t, review)
	require.Equal(t, 0.82, review.Score)
	require.Equal(t, 0.90, review.Threshold)
	require.Equal(t, "INV-2002", review.Context["invoice_id"])
	require.Equal(t, "globex", review.Context["vendor"])
}

func TestPipelineResumeAccept(t *testing.T) {
	ctx := context.Background()
	engine, _ := newPipelineEngine(t)

	thread := createInvoiceThread(t, engine, "INV-2002")
	require.NoError(t, engine.Run(ctx, thread.ID))

	err := engine.Resume(ctx, thread.ID, invoiceflow.Decision{
		Decision:   invoiceflow.DecisionAccept,
		ReviewerID: "ap-clerk-3",
		Notes:      "price increase confirmed with procurement",
	})
	require.NoError(t, err)

	final, err := engine.Status(ctx, thread.ID)
	require.NoError(t, err)
	require.Equal(t, invoiceflow.StatusCompleted, final.Status)

	payload := final.Payload
	require.Equal(t, invoiceflow.DecisionAccept, payload["human_decision"])
	require.Equal(t, "ap-clerk-3", payload["reviewer_id"])
	require.Equal(t, false, payload["manual_handoff"])
	require.Equal(t, true, payload["posted"])
	require.NotEmpty(t, payload["erp_txn_id"])
}

func TestPipelineResumeRejectHandsOff(t *testing.T) {
	ctx := context.Background()
	engine, _ := newPipelineEngine(t)

	thread := createInvoiceThread(t, engine, "INV-2002")
	require.NoError(t, engine.Run(ctx, thread.ID))

	err := engine.Resume(ctx, thread.ID, invoiceflow.Decision{
		Decision:   invoiceflow.DecisionReject,
		ReviewerID: "ap-clerk-3",
		Notes:      "amount disputed by requester",
	})
	require.NoError(t, err)

	final, err := engine.Status(ctx, thread.ID)
	require.NoError(t, err)
	// A rejection still completes the thread; it routes to manual
	// handling instead of posting.
	require.Equal(t, invoiceflow.StatusCompleted, final.Status)

	payload := final.Payload
	require.Equal(t, true, payload["manual_handoff"])
	require.Equal(t, false, payload["posted"])
	require.Equal(t, invoiceflow.ApprovalManualReview, payload["approval_status"])
	require.Equal(t, "ap-clerk-3", payload["approver_id"])
	require.NotEmpty(t, payload["accounting_entries"])
	require.Nil(t, payload["erp_txn_id"])

	notify, ok := payload["notify_status"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, notify, "finance")
	require.NotContains(t, notify, "vendor")
}

func TestPipelineMissingInvoiceFails(t *testing.T) {
	ctx := context.Background()
	engine, _ := newPipelineEngine(t)

	thread, err := engine.Create(ctx, map[string]any{"unrelated": true})
	require.NoError(t, err)

	err = engine.Run(ctx, thread.ID)
	require.Error(t, err)
	require.True(t, invoiceflow.IsFatal(err))

	final, statusErr := engine.Status(ctx, thread.ID)
	require.NoError(t, statusErr)
	require.Equal(t, invoiceflow.StatusFailed, final.Status)
	require.Equal(t, "INTAKE", final.Error.Step)
}

func TestPipelineUnknownVendorStillRuns(t *testing.T) {
	ctx := context.Background()
	engine, _ := newPipelineEngine(t)

	thread, err := engine.Create(ctx, map[string]any{
		"invoice_payload": map[string]any{
			"invoice_id":  "INV-9999",
			"vendor_name": "Initech Systems",
			"amount":      700.0,
			"line_items": []map[string]any{
				{"description": "Consulting", "quantity": 1.0, "unit_price": 700.0, "po_ref": "PO-0000"},
			},
		},
	})
	require.NoError(t, err)

	// PO-0000 does not exist, so the two-way match has nothing to score
	// against and the thread fails fatally at MATCH_TWO_WAY.
	err = engine.Run(ctx, thread.ID)
	require.Error(t, err)
	require.True(t, invoiceflow.IsFatal(err))

	final, statusErr := engine.Status(ctx, thread.ID)
	require.NoError(t, statusErr)
	require.Equal(t, invoiceflow.StatusFailed, final.Status)
	require.Equal(t, "MATCH_TWO_WAY", final.Error.Step)
}

func TestPipelineSkipsExtractionForCompleteData(t *testing.T) {
	ctx := context.Background()
	engine, _ := newPipelineEngine(t)

	thread, err := engine.Create(ctx, map[string]any{
		"invoice_payload": map[string]any{
			"invoice_id":  "INV-1001",
			"vendor_name": "Acme Corp",
			"amount":      4500.0,
			"line_items": []map[string]any{
				{"description": "Industrial fasteners", "quantity": 100.0, "unit_price": 30.0, "po_ref": "PO-7001"},
				{"description": "Mounting brackets", "quantity": 50.0, "unit_price": 30.0, "po_ref": "PO-7001"},
			},
		},
	})
	require.NoError(t, err)
	require.NoError(t, engine.Run(ctx, thread.ID))

	final, err := engine.Status(ctx, thread.ID)
	require.NoError(t, err)
	require.Equal(t, invoiceflow.StatusCompleted, final.Status)
	// Manually supplied complete data bypasses OCR.
	require.Equal(t, 1.0, final.Payload["ocr_confidence"])
}
