package capabilities

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clearledger-ai/invoiceflow"
)

func TestStandardLedgerBuildEntries(t *testing.T) {
	ctx := context.Background()
	ledger := NewStandardLedger()

	entries, err := ledger.BuildEntries(ctx, fixtureDocuments()["INV-1001"], "acme")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	var debits, credits float64
	for _, entry := range entries {
		debits += entry["debit"].(float64)
		credits += entry["credit"].(float64)
	}
	// Double entry: total debits equal total credits.
	require.Equal(t, debits, credits)
	require.Equal(t, 4500.0, credits)

	ap := entries[len(entries)-1]
	require.Equal(t, "2000-accounts-payable", ap["account"])
	require.Equal(t, 0.0, ap["debit"])
}

func TestStandardLedgerNoLineItems(t *testing.T) {
	ledger := NewStandardLedger()
	_, err := ledger.BuildEntries(context.Background(),
		map[string]any{"invoice_id": "INV-3"}, "acme")
	require.Error(t, err)
	require.True(t, invoiceflow.IsFatal(err))
}

func TestApprovalPolicy(t *testing.T) {
	ctx := context.Background()
	ledger := NewStandardLedger()

	t.Run("under limit auto approves", func(t *testing.T) {
		status, approver, err := ledger.ApplyApprovalPolicy(ctx, 4500, 20000)
		require.NoError(t, err)
		require.Equal(t, invoiceflow.ApprovalAutoApproved, status)
		require.Equal(t, "system", approver)
	})

	t.Run("at limit auto approves", func(t *testing.T) {
		status, _, err := ledger.ApplyApprovalPolicy(ctx, 20000, 20000)
		require.NoError(t, err)
		require.Equal(t, invoiceflow.ApprovalAutoApproved, status)
	})

	t.Run("over limit needs approval", func(t *testing.T) {
		status, approver, err := ledger.ApplyApprovalPolicy(ctx, 20001, 20000)
		require.NoError(t, err)
		require.Equal(t, invoiceflow.ApprovalNeedsApproval, status)
		require.Equal(t, "finance-director", approver)
	})
}

func TestERPPosterRetriesTransientFaults(t *testing.T) {
	ctx := context.Background()
	poster := NewERPPoster()
	poster.FailNext(2)

	entries := []map[string]any{{"account": "6000-general-expense", "debit": 100.0}}
	txnID, err := poster.Post(ctx, entries)
	require.NoError(t, err)
	require.Contains(t, txnID, "ERP-TXN-")

	stored, ok := poster.Posting(txnID)
	require.True(t, ok)
	require.Equal(t, entries, stored)
}

func TestERPPosterExhaustsRetries(t *testing.T) {
	poster := NewERPPoster()
	poster.FailNext(10)

	_, err := poster.Post(context.Background(), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "erp gateway timeout")
}

func TestRecordingNotifier(t *testing.T) {
	ctx := context.Background()
	notifier := NewRecordingNotifier()

	vendor, err := notifier.NotifyVendor(ctx, "INV-1001")
	require.NoError(t, err)
	require.Equal(t, "vendor", vendor["channel"])
	require.Equal(t, "sent", vendor["status"])

	_, err = notifier.NotifyFinance(ctx, "INV-1001")
	require.NoError(t, err)
	require.Len(t, notifier.Sent(), 2)
}

func TestFixtureRetriever(t *testing.T) {
	ctx := context.Background()
	retriever := NewFixtureRetriever()

	pos, err := retriever.FetchPurchaseOrders(ctx, []string{"PO-7001", "PO-0000"})
	require.NoError(t, err)
	require.Len(t, pos, 1)
	require.Equal(t, "PO-7001", pos[0]["po_number"])

	grns, err := retriever.FetchGoodsReceipts(ctx, []string{"PO-7001"})
	require.NoError(t, err)
	require.Len(t, grns, 1)

	history, err := retriever.FetchVendorHistory(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, history, 2)
}
