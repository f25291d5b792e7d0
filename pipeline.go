package invoiceflow

import (
	"context"
	"fmt"
	"time"
)

// PipelineConfig tunes the pipeline's decision points.
type PipelineConfig struct {
	// MatchThreshold is the minimum two-way match score that avoids a
	// human review pause.
	MatchThreshold float64 `yaml:"match_threshold"`

	// AutoApproveLimit is the invoice amount below which the approval
	// policy auto-approves.
	AutoApproveLimit float64 `yaml:"auto_approve_limit"`
}

// DefaultPipelineConfig returns the production defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MatchThreshold:   0.90,
		AutoApproveLimit: 20000,
	}
}

const defaultMaxAttempts = 3

// NewInvoicePipeline builds the fixed ordered step registry for invoice
// processing, wiring each step to the injected collaborators. All
// deterministic steps retry up to three attempts; the two HITL steps never
// retry.
func NewInvoicePipeline(tools Toolset, cfg PipelineConfig) (*Registry, error) {
	if err := tools.validate(); err != nil {
		return nil, err
	}
	if cfg.MatchThreshold <= 0 {
		cfg.MatchThreshold = DefaultPipelineConfig().MatchThreshold
	}
	if cfg.AutoApproveLimit <= 0 {
		cfg.AutoApproveLimit = DefaultPipelineConfig().AutoApproveLimit
	}

	deterministic := func(name string, fn StepFunc) StepDefinition {
		return StepDefinition{Name: name, Retryable: true, MaxAttempts: defaultMaxAttempts, Func: fn}
	}

	return NewRegistry([]StepDefinition{
		deterministic(StepIntake, intakeStep()),
		deterministic(StepUnderstand, understandStep(tools.Extractor)),
		deterministic(StepPrepare, prepareStep(tools.Normalizer)),
		deterministic(StepRetrieve, retrieveStep(tools.Retriever)),
		deterministic(StepMatchTwoWay, matchStep(tools.Matcher, cfg.MatchThreshold)),
		{Name: StepCheckpointHITL, Func: checkpointHITLStep(cfg.MatchThreshold)},
		{Name: StepHITLDecision, Func: hitlDecisionStep()},
		deterministic(StepReconcile, reconcileStep(tools.Ledger)),
		deterministic(StepApprove, approveStep(tools.Ledger, cfg.AutoApproveLimit)),
		deterministic(StepPosting, postingStep(tools.Poster)),
		deterministic(StepNotify, notifyStep(tools.Notifier)),
		deterministic(StepComplete, completeStep()),
	})
}

// intakeStep validates the invoice payload shape and records intake
// bookkeeping. The raw id is derived from the invoice id so re-execution
// after a crash rewrites the same value.
func intakeStep() StepFunc {
	return func(ctx context.Context, payload map[string]any) Outcome {
		invoice := getMap(payload, "invoice_payload")
		if invoice == nil {
			return Fail(NewFatalError("invoice_payload is missing or not an object"), true)
		}
		invoiceID := getString(invoice, "invoice_id")
		if invoiceID == "" {
			return Fail(NewFatalError("invoice_payload.invoice_id is required"), true)
		}
		return Advance(map[string]any{
			"raw_id":    "raw_" + invoiceID,
			"ingest_ts": time.Now().UTC().Format(time.RFC3339),
			"validated": true,
		})
	}
}

// understandStep parses invoice fields. Complete manually supplied data
// skips extraction entirely; otherwise the extractor runs against the
// referenced artifact.
func understandStep(extractor Extractor) StepFunc {
	return func(ctx context.Context, payload map[string]any) Outcome {
		invoice := getMap(payload, "invoice_payload")

		if hasCompleteInvoiceData(invoice) {
			return Advance(map[string]any{
				"parsed_invoice": invoice,
				"ocr_confidence": 1.0,
				"detected_pos":   detectPORefs(invoice),
			})
		}

		result, err := extractor.Extract(ctx, payload)
		if err != nil {
			return Fail(err, false)
		}
		parsed := copyMap(invoice)
		if parsed == nil {
			parsed = map[string]any{}
		}
		for k, v := range result.Invoice {
			if v != nil {
				parsed[k] = v
			}
		}
		detected := result.DetectedPOs
		if len(detected) == 0 {
			detected = detectPORefs(parsed)
		}
		return Advance(map[string]any{
			"parsed_invoice": parsed,
			"ocr_confidence": result.Confidence,
			"detected_pos":   detected,
		})
	}
}

// prepareStep normalizes the vendor name and builds the vendor profile.
func prepareStep(normalizer Normalizer) StepFunc {
	return func(ctx context.Context, payload map[string]any) Outcome {
		parsed := getMap(payload, "parsed_invoice")
		vendorName := getString(parsed, "vendor_name")
		if vendorName == "" {
			return Fail(NewFatalError("parsed invoice has no vendor_name"), true)
		}

		normalized, err := normalizer.Normalize(ctx, vendorName)
		if err != nil {
			return Fail(err, false)
		}
		enrichment, err := normalizer.Enrich(ctx, vendorName)
		if err != nil {
			return Fail(err, false)
		}

		taxID := getString(parsed, "vendor_tax_id")
		if taxID == "" {
			taxID = getString(enrichment, "tax_id")
		}
		return Advance(map[string]any{
			"normalized_vendor_name": normalized,
			"vendor_profile": map[string]any{
				"normalized_name": normalized,
				"tax_id":          taxID,
				"enrichment_meta": enrichment,
			},
			"flags": vendorFlags(enrichment),
		})
	}
}

// retrieveStep pulls POs, goods receipts and history from the ERP.
func retrieveStep(retriever Retriever) StepFunc {
	return func(ctx context.Context, payload map[string]any) Outcome {
		poRefs := getStrings(payload, "detected_pos")
		vendor := getString(payload, "normalized_vendor_name")

		pos, err := retriever.FetchPurchaseOrders(ctx, poRefs)
		if err != nil {
			return Fail(err, false)
		}
		grns, err := retriever.FetchGoodsReceipts(ctx, poRefs)
		if err != nil {
			return Fail(err, false)
		}
		history, err := retriever.FetchVendorHistory(ctx, vendor)
		if err != nil {
			return Fail(err, false)
		}
		return Advance(map[string]any{
			"matched_pos":  pos,
			"matched_grns": grns,
			"history":      history,
		})
	}
}

// matchStep computes the two-way match score against the first matched PO.
func matchStep(matcher Matcher, threshold float64) StepFunc {
	return func(ctx context.Context, payload map[string]any) Outcome {
		parsed := getMap(payload, "parsed_invoice")
		pos := getMaps(payload, "matched_pos")
		if len(pos) == 0 {
			return Fail(NewFatalError("no purchase orders matched for two-way match"), true)
		}

		result, err := matcher.Score(ctx, parsed, pos[0])
		if err != nil {
			return Fail(err, false)
		}
		matchResult := "FAILED"
		if result.Score >= threshold {
			matchResult = "MATCHED"
		}
		return Advance(map[string]any{
			"match_score":    result.Score,
			"match_result":   matchResult,
			"tolerance_pct":  result.TolerancePct,
			"match_evidence": result.Evidence,
		})
	}
}

// checkpointHITLStep is the pure marker step that decides between the
// auto-approve path and a human review pause by comparing the match score
// to the threshold.
func checkpointHITLStep(threshold float64) StepFunc {
	return func(ctx context.Context, payload map[string]any) Outcome {
		score := getFloat(payload, "match_score")
		if score >= threshold {
			return Advance(map[string]any{
				"needs_human_review": false,
				"human_decision":     DecisionAutoApproved,
			})
		}

		parsed := getMap(payload, "parsed_invoice")
		reason := fmt.Sprintf("match score %.2f below threshold %.2f", score, threshold)
		return Interrupt(reason, map[string]any{
			"score":      score,
			"threshold":  threshold,
			"invoice_id": getString(parsed, "invoice_id"),
			"vendor":     getString(payload, "normalized_vendor_name"),
			"amount":     getFloat(parsed, "amount"),
		})
	}
}

// hitlDecisionStep records the routing implied by the decision value. On
// the human path this step is crossed by resume, which merges the decision
// and advances past it; run only executes it on the auto-approve path.
// Reaching it without a decision present is an internal invariant
// violation, not a user-facing condition.
func hitlDecisionStep() StepFunc {
	return func(ctx context.Context, payload map[string]any) Outcome {
		decision := getString(payload, "human_decision")
		if decision == "" {
			return Fail(NewFatalError("internal: decision step reached without a decision"), true)
		}
		nextStage := "RECONCILE"
		if decision == DecisionReject {
			nextStage = "MANUAL_HANDOFF"
		}
		return Advance(map[string]any{"next_stage": nextStage})
	}
}

// reconcileStep builds accounting entries. On a rejected invoice the
// entries are still built for the manual handoff package.
func reconcileStep(ledger Ledger) StepFunc {
	return func(ctx context.Context, payload map[string]any) Outcome {
		parsed := getMap(payload, "parsed_invoice")
		vendor := getString(payload, "normalized_vendor_name")

		entries, err := ledger.BuildEntries(ctx, parsed, vendor)
		if err != nil {
			return Fail(err, false)
		}
		return Advance(map[string]any{
			"accounting_entries": entries,
			"manual_handoff":     getString(payload, "human_decision") == DecisionReject,
		})
	}
}

// approveStep applies the approval policy, or records a manual review
// handoff for rejected invoices.
func approveStep(ledger Ledger, autoApproveLimit float64) StepFunc {
	return func(ctx context.Context, payload map[string]any) Outcome {
		if getBool(payload, "manual_handoff") {
			return Advance(map[string]any{
				"approval_status": ApprovalManualReview,
				"approver_id":     getString(payload, "reviewer_id"),
			})
		}
		amount := getFloat(getMap(payload, "parsed_invoice"), "amount")
		status, approverID, err := ledger.ApplyApprovalPolicy(ctx, amount, autoApproveLimit)
		if err != nil {
			return Fail(err, false)
		}
		return Advance(map[string]any{
			"approval_status": status,
			"approver_id":     approverID,
		})
	}
}

// postingStep posts to the ERP and schedules payment. A manual handoff
// never auto-posts.
func postingStep(poster Poster) StepFunc {
	return func(ctx context.Context, payload map[string]any) Outcome {
		if getBool(payload, "manual_handoff") {
			return Advance(map[string]any{"posted": false})
		}
		entries := getMaps(payload, "accounting_entries")
		parsed := getMap(payload, "parsed_invoice")
		vendor := getString(payload, "normalized_vendor_name")

		txnID, err := poster.Post(ctx, entries)
		if err != nil {
			return Fail(err, false)
		}
		paymentID, err := poster.SchedulePayment(ctx, parsed, vendor)
		if err != nil {
			return Fail(err, false)
		}
		return Advance(map[string]any{
			"posted":               true,
			"erp_txn_id":           txnID,
			"scheduled_payment_id": paymentID,
		})
	}
}

// notifyStep notifies finance always and the vendor only on the posted
// path.
func notifyStep(notifier Notifier) StepFunc {
	return func(ctx context.Context, payload map[string]any) Outcome {
		invoiceID := getString(getMap(payload, "parsed_invoice"), "invoice_id")

		status := map[string]any{}
		finance, err := notifier.NotifyFinance(ctx, invoiceID)
		if err != nil {
			return Fail(err, false)
		}
		status["finance"] = finance

		if !getBool(payload, "manual_handoff") {
			vendor, err := notifier.NotifyVendor(ctx, invoiceID)
			if err != nil {
				return Fail(err, false)
			}
			status["vendor"] = vendor
		}
		return Advance(map[string]any{"notify_status": status})
	}
}

// completeStep assembles the final summary payload.
func completeStep() StepFunc {
	return func(ctx context.Context, payload map[string]any) Outcome {
		parsed := getMap(payload, "parsed_invoice")
		return Advance(map[string]any{
			"final_payload": map[string]any{
				"invoice_id":     getString(parsed, "invoice_id"),
				"vendor":         getString(payload, "normalized_vendor_name"),
				"amount":         getFloat(parsed, "amount"),
				"match_score":    getFloat(payload, "match_score"),
				"human_decision": getString(payload, "human_decision"),
				"posted":         getBool(payload, "posted"),
				"erp_txn_id":     getString(payload, "erp_txn_id"),
				"manual_handoff": getBool(payload, "manual_handoff"),
			},
		})
	}
}

func hasCompleteInvoiceData(invoice map[string]any) bool {
	if invoice == nil {
		return false
	}
	for _, field := range []string{"vendor_name", "amount", "line_items"} {
		if _, ok := invoice[field]; !ok {
			return false
		}
	}
	return true
}

func detectPORefs(invoice map[string]any) []string {
	seen := map[string]bool{}
	var refs []string
	for _, item := range getMaps(invoice, "line_items") {
		if ref := getString(item, "po_ref"); ref != "" && !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	return refs
}

func vendorFlags(enrichment map[string]any) []string {
	var flags []string
	if risk := getFloat(enrichment, "risk_score"); risk > 0.5 {
		flags = append(flags, fmt.Sprintf("high risk vendor (risk score: %.2f)", risk))
	}
	if credit := getFloat(enrichment, "credit_score"); credit > 0 && credit < 600 {
		flags = append(flags, fmt.Sprintf("low credit score (%.0f)", credit))
	}
	return flags
}

// Payload accessors tolerant of JSON round-trips: numbers may come back as
// float64, slices as []any.

func getString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func getBool(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	b, _ := m[key].(bool)
	return b
}

func getFloat(m map[string]any, key string) float64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func getMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]any)
	return v
}

func getMaps(m map[string]any, key string) []map[string]any {
	if m == nil {
		return nil
	}
	switch v := m[key].(type) {
	case []map[string]any:
		return v
	case []any:
		var out []map[string]any
		for _, item := range v {
			if entry, ok := item.(map[string]any); ok {
				out = append(out, entry)
			}
		}
		return out
	default:
		return nil
	}
}

func getStrings(m map[string]any, key string) []string {
	if m == nil {
		return nil
	}
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
