package capabilities

import "context"

// FixtureRetriever serves purchase orders, goods receipts and payment
// history from an in-memory ERP snapshot.
type FixtureRetriever struct {
	pos     map[string]map[string]any
	grns    map[string][]map[string]any
	history map[string][]map[string]any
}

func NewFixtureRetriever() *FixtureRetriever {
	return &FixtureRetriever{
		pos:     fixturePurchaseOrders(),
		grns:    fixtureGoodsReceipts(),
		history: fixtureVendorHistory(),
	}
}

func (r *FixtureRetriever) FetchPurchaseOrders(ctx context.Context, poRefs []string) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []map[string]any
	for _, ref := range poRefs {
		if po, ok := r.pos[ref]; ok {
			out = append(out, po)
		}
	}
	return out, nil
}

func (r *FixtureRetriever) FetchGoodsReceipts(ctx context.Context, poRefs []string) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []map[string]any
	for _, ref := range poRefs {
		out = append(out, r.grns[ref]...)
	}
	return out, nil
}

func (r *FixtureRetriever) FetchVendorHistory(ctx context.Context, vendorName string) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.history[vendorName], nil
}
