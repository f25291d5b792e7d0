package capabilities

import "github.com/clearledger-ai/invoiceflow"

// NewFixtureToolset bundles the in-memory implementations for demos and
// tests.
func NewFixtureToolset() invoiceflow.Toolset {
	return invoiceflow.Toolset{
		Extractor:  NewFixtureExtractor(),
		Normalizer: NewFixtureNormalizer(),
		Retriever:  NewFixtureRetriever(),
		Matcher:    NewWeightedMatcher(),
		Ledger:     NewStandardLedger(),
		Poster:     NewERPPoster(),
		Notifier:   NewRecordingNotifier(),
	}
}

// Fixture data. INV-1001 matches PO-7001 exactly; INV-2002 deviates on
// amount and one line item, landing below the 0.90 threshold.

func fixtureDocuments() map[string]map[string]any {
	return map[string]map[string]any{
		"INV-1001": {
			"invoice_id":  "INV-1001",
			"vendor_name": "Acme Corp",
			"amount":      4500.0,
			"currency":    "USD",
			"line_items": []map[string]any{
				{"description": "Industrial fasteners", "quantity": 100.0, "unit_price": 30.0, "po_ref": "PO-7001"},
				{"description": "Mounting brackets", "quantity": 50.0, "unit_price": 30.0, "po_ref": "PO-7001"},
			},
		},
		"INV-2002": {
			"invoice_id":  "INV-2002",
			"vendor_name": "Globex Ltd",
			"amount":      10950.0,
			"currency":    "USD",
			"line_items": []map[string]any{
				{"description": "Server racks", "quantity": 10.0, "unit_price": 900.0, "po_ref": "PO-8002"},
				{"description": "Rush delivery surcharge", "quantity": 1.0, "unit_price": 1950.0, "po_ref": "PO-8002"},
			},
		},
	}
}

func fixtureVendors() map[string]map[string]any {
	return map[string]map[string]any{
		"acme": {
			"tax_id":        "US-84-1234567",
			"risk_score":    0.12,
			"credit_score":  720.0,
			"payment_terms": "NET30",
		},
		"globex": {
			"tax_id":        "GB-992-8817-44",
			"risk_score":    0.34,
			"credit_score":  655.0,
			"payment_terms": "NET45",
		},
	}
}

func fixturePurchaseOrders() map[string]map[string]any {
	return map[string]map[string]any{
		"PO-7001": {
			"po_number":   "PO-7001",
			"vendor_name": "Acme Corporation",
			"amount":      4500.0,
			"status":      "OPEN",
			"line_items": []map[string]any{
				{"description": "Industrial fasteners", "quantity": 100.0, "unit_price": 30.0},
				{"description": "Mounting brackets", "quantity": 50.0, "unit_price": 30.0},
			},
		},
		"PO-8002": {
			"po_number":   "PO-8002",
			"vendor_name": "Globex Limited",
			"amount":      10000.0,
			"status":      "OPEN",
			"line_items": []map[string]any{
				{"description": "Server racks", "quantity": 10.0, "unit_price": 900.0},
				{"description": "Cable management kit", "quantity": 20.0, "unit_price": 50.0},
			},
		},
	}
}

func fixtureGoodsReceipts() map[string][]map[string]any {
	return map[string][]map[string]any{
		"PO-7001": {
			{"grn_number": "GRN-5501", "po_number": "PO-7001", "received_qty": 150.0, "status": "COMPLETE"},
		},
		"PO-8002": {
			{"grn_number": "GRN-5502", "po_number": "PO-8002", "received_qty": 10.0, "status": "PARTIAL"},
		},
	}
}

func fixtureVendorHistory() map[string][]map[string]any {
	return map[string][]map[string]any{
		"acme": {
			{"invoice_id": "INV-0861", "amount": 3200.0, "paid_on_time": true},
			{"invoice_id": "INV-0914", "amount": 5100.0, "paid_on_time": true},
		},
		"globex": {
			{"invoice_id": "INV-0777", "amount": 8400.0, "paid_on_time": false},
		},
	}
}
