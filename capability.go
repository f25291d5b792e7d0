package invoiceflow

import (
	"context"
	"fmt"
)

// External collaborators invoked by pipeline steps. The engine never looks
// these up at runtime; concrete implementations are injected through the
// Toolset when the pipeline registry is built.

// ExtractionResult is the output of document understanding.
type ExtractionResult struct {
	Invoice     map[string]any
	Confidence  float64
	DetectedPOs []string
}

// Extractor runs OCR/text extraction and parses invoice fields from an
// uploaded artifact referenced by the payload.
type Extractor interface {
	Extract(ctx context.Context, payload map[string]any) (*ExtractionResult, error)
}

// Normalizer canonicalizes vendor names and enriches vendor profiles.
type Normalizer interface {
	Normalize(ctx context.Context, vendorName string) (string, error)
	Enrich(ctx context.Context, vendorName string) (map[string]any, error)
}

// Retriever fetches purchase orders, goods receipts and vendor history
// from the ERP.
type Retriever interface {
	FetchPurchaseOrders(ctx context.Context, poRefs []string) ([]map[string]any, error)
	FetchGoodsReceipts(ctx context.Context, poRefs []string) ([]map[string]any, error)
	FetchVendorHistory(ctx context.Context, vendorName string) ([]map[string]any, error)
}

// MatchResult is the output of a two-way invoice/PO match. Whether the
// score is good enough is not the matcher's call; the pipeline compares it
// against the configured threshold.
type MatchResult struct {
	Score        float64
	TolerancePct float64
	Evidence     map[string]any
}

// Matcher computes the two-way match score between an invoice and a
// purchase order. The scoring formula is a collaborator concern.
type Matcher interface {
	Score(ctx context.Context, invoice, po map[string]any) (*MatchResult, error)
}

// Approval outcomes produced by the ledger policy.
const (
	ApprovalAutoApproved  = "AUTO_APPROVED"
	ApprovalNeedsApproval = "NEEDS_APPROVAL"
	ApprovalManualReview  = "MANUAL_REVIEW"
)

// Ledger builds accounting entries and applies the approval policy.
type Ledger interface {
	BuildEntries(ctx context.Context, invoice map[string]any, vendorName string) ([]map[string]any, error)
	ApplyApprovalPolicy(ctx context.Context, amount, autoApproveLimit float64) (status, approverID string, err error)
}

// Poster posts accounting entries to the ERP and schedules payment.
// Posting is assumed at-least-once with idempotent external calls.
type Poster interface {
	Post(ctx context.Context, entries []map[string]any) (txnID string, err error)
	SchedulePayment(ctx context.Context, invoice map[string]any, vendorName string) (paymentID string, err error)
}

// Notifier sends completion notifications.
type Notifier interface {
	NotifyVendor(ctx context.Context, invoiceID string) (map[string]any, error)
	NotifyFinance(ctx context.Context, invoiceID string) (map[string]any, error)
}

// Toolset bundles the injected collaborators the pipeline steps call.
type Toolset struct {
	Extractor  Extractor
	Normalizer Normalizer
	Retriever  Retriever
	Matcher    Matcher
	Ledger     Ledger
	Poster     Poster
	Notifier   Notifier
}

func (t Toolset) validate() error {
	switch {
	case t.Extractor == nil:
		return fmt.Errorf("extractor is required")
	case t.Normalizer == nil:
		return fmt.Errorf("normalizer is required")
	case t.Retriever == nil:
		return fmt.Errorf("retriever is required")
	case t.Matcher == nil:
		return fmt.Errorf("matcher is required")
	case t.Ledger == nil:
		return fmt.Errorf("ledger is required")
	case t.Poster == nil:
		return fmt.Errorf("poster is required")
	case t.Notifier == nil:
		return fmt.Errorf("notifier is required")
	}
	return nil
}
