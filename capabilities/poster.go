package capabilities

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clearledger-ai/invoiceflow/retry"
)

var errGatewayTimeout = errors.New("erp gateway timeout")

// ERPPoster records postings against an in-memory ERP ledger. Writes go
// through the retry helper so injected transient faults behave like a
// flaky ERP gateway.
type ERPPoster struct {
	mu       sync.Mutex
	postings map[string][]map[string]any
	payments map[string]map[string]any

	// failures counts down; while positive each call fails transiently.
	failures int
}

func NewERPPoster() *ERPPoster {
	return &ERPPoster{
		postings: map[string][]map[string]any{},
		payments: map[string]map[string]any{},
	}
}

// FailNext makes the next n gateway calls fail with a recoverable error.
func (p *ERPPoster) FailNext(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = n
}

func (p *ERPPoster) Post(ctx context.Context, entries []map[string]any) (string, error) {
	txnID := "ERP-TXN-" + shortID()
	err := retry.Do(ctx, func() error {
		return p.write(func() {
			p.postings[txnID] = entries
		})
	}, retry.WithMaxRetries(2), retry.WithBaseWait(10*time.Millisecond))
	if err != nil {
		return "", err
	}
	return txnID, nil
}

func (p *ERPPoster) SchedulePayment(ctx context.Context, invoice map[string]any, vendorName string) (string, error) {
	paymentID := "PAY-" + shortID()
	err := retry.Do(ctx, func() error {
		return p.write(func() {
			p.payments[paymentID] = map[string]any{
				"invoice_id": invoice["invoice_id"],
				"vendor":     vendorName,
				"amount":     asFloat(invoice["amount"]),
			}
		})
	}, retry.WithMaxRetries(2), retry.WithBaseWait(10*time.Millisecond))
	if err != nil {
		return "", err
	}
	return paymentID, nil
}

// Posting returns the entries recorded under a transaction id.
func (p *ERPPoster) Posting(txnID string) ([]map[string]any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entries, ok := p.postings[txnID]
	return entries, ok
}

func (p *ERPPoster) write(apply func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return retry.NewRecoverableError(errGatewayTimeout)
	}
	apply()
	return nil
}

func shortID() string {
	return strings.ToUpper(uuid.NewString()[:8])
}
