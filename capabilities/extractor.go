// Package capabilities provides fixture-backed implementations of the
// pipeline collaborator interfaces. They run entirely in process and are
// suitable for demos and tests; production deployments substitute real
// OCR, ERP and notification clients.
package capabilities

import (
	"context"
	"fmt"

	"github.com/clearledger-ai/invoiceflow"
)

// FixtureExtractor resolves invoice documents from an in-memory document
// set keyed by artifact reference.
type FixtureExtractor struct {
	documents  map[string]map[string]any
	confidence float64
}

// NewFixtureExtractor returns an extractor over the built-in document set.
func NewFixtureExtractor() *FixtureExtractor {
	return &FixtureExtractor{
		documents:  fixtureDocuments(),
		confidence: 0.93,
	}
}

func (e *FixtureExtractor) Extract(ctx context.Context, payload map[string]any) (*invoiceflow.ExtractionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	invoice, _ := payload["invoice_payload"].(map[string]any)
	ref, _ := invoice["artifact_ref"].(string)
	if ref == "" {
		ref, _ = invoice["invoice_id"].(string)
	}

	doc, ok := e.documents[ref]
	if !ok {
		return nil, invoiceflow.NewFatalError(fmt.Sprintf("no document found for artifact %q", ref))
	}

	var pos []string
	if items, ok := doc["line_items"].([]map[string]any); ok {
		seen := map[string]bool{}
		for _, item := range items {
			if p, _ := item["po_ref"].(string); p != "" && !seen[p] {
				seen[p] = true
				pos = append(pos, p)
			}
		}
	}
	return &invoiceflow.ExtractionResult{
		Invoice:     doc,
		Confidence:  e.confidence,
		DetectedPOs: pos,
	}, nil
}
