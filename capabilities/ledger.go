package capabilities

import (
	"context"
	"fmt"

	"github.com/clearledger-ai/invoiceflow"
)

// StandardLedger builds double-entry postings and applies the amount
// threshold approval policy.
type StandardLedger struct{}

func NewStandardLedger() *StandardLedger {
	return &StandardLedger{}
}

// BuildEntries produces one expense debit per invoice line plus a single
// accounts payable credit for the total.
func (l *StandardLedger) BuildEntries(ctx context.Context, invoice map[string]any, vendorName string) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	invoiceID, _ := invoice["invoice_id"].(string)
	lines := asMaps(invoice["line_items"])
	if len(lines) == 0 {
		return nil, invoiceflow.NewFatalError(fmt.Sprintf("invoice %s has no line items to post", invoiceID))
	}

	var entries []map[string]any
	total := 0.0
	for _, line := range lines {
		amount := asFloat(line["quantity"]) * asFloat(line["unit_price"])
		total += amount
		entries = append(entries, map[string]any{
			"account":     expenseAccount(line),
			"debit":       amount,
			"credit":      0.0,
			"description": line["description"],
			"invoice_id":  invoiceID,
		})
	}
	entries = append(entries, map[string]any{
		"account":     "2000-accounts-payable",
		"debit":       0.0,
		"credit":      total,
		"description": fmt.Sprintf("AP %s (%s)", invoiceID, vendorName),
		"invoice_id":  invoiceID,
	})
	return entries, nil
}

// ApplyApprovalPolicy auto-approves at or below the limit and routes
// larger invoices to the finance approver queue.
func (l *StandardLedger) ApplyApprovalPolicy(ctx context.Context, amount, autoApproveLimit float64) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	if amount <= autoApproveLimit {
		return invoiceflow.ApprovalAutoApproved, "system", nil
	}
	return invoiceflow.ApprovalNeedsApproval, "finance-director", nil
}

func expenseAccount(line map[string]any) string {
	if account, _ := line["gl_account"].(string); account != "" {
		return account
	}
	return "6000-general-expense"
}
