package capabilities

import (
	"context"
	"math"

	"github.com/clearledger-ai/invoiceflow"
)

// Two-way match weights. Amount agreement dominates, vendor identity and
// line item coverage split the remainder.
const (
	weightVendor    = 0.30
	weightAmount    = 0.40
	weightLineItems = 0.30

	amountTolerancePct = 2.0
)

// WeightedMatcher scores an invoice against a purchase order using a
// weighted blend of vendor, amount and line item agreement.
type WeightedMatcher struct{}

func NewWeightedMatcher() *WeightedMatcher {
	return &WeightedMatcher{}
}

func (m *WeightedMatcher) Score(ctx context.Context, invoice, po map[string]any) (*invoiceflow.MatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vendorScore := m.vendorScore(invoice, po)
	amountScore := m.amountScore(invoice, po)
	lineScore := m.lineItemScore(invoice, po)

	score := weightVendor*vendorScore + weightAmount*amountScore + weightLineItems*lineScore
	score = math.Round(score*100) / 100

	return &invoiceflow.MatchResult{
		Score:        score,
		TolerancePct: amountTolerancePct,
		Evidence: map[string]any{
			"vendor_score":    vendorScore,
			"amount_score":    amountScore,
			"line_item_score": lineScore,
		},
	}, nil
}

func (m *WeightedMatcher) vendorScore(invoice, po map[string]any) float64 {
	iv, _ := invoice["vendor_name"].(string)
	pv, _ := po["vendor_name"].(string)
	if iv == "" || pv == "" {
		return 0
	}
	if NormalizeVendorName(iv) == NormalizeVendorName(pv) {
		return 1
	}
	return 0
}

// amountScore is 1 inside the tolerance band and decays linearly with the
// deviation beyond it.
func (m *WeightedMatcher) amountScore(invoice, po map[string]any) float64 {
	ia := asFloat(invoice["amount"])
	pa := asFloat(po["amount"])
	if pa == 0 {
		return 0
	}
	deviationPct := math.Abs(ia-pa) / pa * 100
	if deviationPct <= amountTolerancePct {
		return 1
	}
	score := 1 - (deviationPct-amountTolerancePct)/100
	if score < 0 {
		return 0
	}
	return score
}

// lineItemScore is the fraction of invoice lines whose description and
// quantity both appear on the PO.
func (m *WeightedMatcher) lineItemScore(invoice, po map[string]any) float64 {
	invLines := asMaps(invoice["line_items"])
	poLines := asMaps(po["line_items"])
	if len(invLines) == 0 {
		return 0
	}
	matched := 0
	for _, inv := range invLines {
		for _, pol := range poLines {
			if lineMatches(inv, pol) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(invLines))
}

func lineMatches(inv, po map[string]any) bool {
	id, _ := inv["description"].(string)
	pd, _ := po["description"].(string)
	if id == "" || id != pd {
		return false
	}
	return asFloat(inv["quantity"]) == asFloat(po["quantity"])
}

func asFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return 0
	}
}

func asMaps(v any) []map[string]any {
	switch x := v.(type) {
	case []map[string]any:
		return x
	case []any:
		var out []map[string]any
		for _, item := range x {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}
