package capabilities

import (
	"context"
	"sync"
	"time"
)

// RecordingNotifier captures outbound notifications instead of sending
// them, keeping the demo hermetic.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []map[string]any
}

func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

func (n *RecordingNotifier) NotifyVendor(ctx context.Context, invoiceID string) (map[string]any, error) {
	return n.record(ctx, "vendor", invoiceID)
}

func (n *RecordingNotifier) NotifyFinance(ctx context.Context, invoiceID string) (map[string]any, error) {
	return n.record(ctx, "finance", invoiceID)
}

// Sent returns a copy of all captured notifications in send order.
func (n *RecordingNotifier) Sent() []map[string]any {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]map[string]any, len(n.sent))
	copy(out, n.sent)
	return out
}

func (n *RecordingNotifier) record(ctx context.Context, channel, invoiceID string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg := map[string]any{
		"channel":    channel,
		"invoice_id": invoiceID,
		"status":     "sent",
		"sent_at":    time.Now().UTC().Format(time.RFC3339),
	}
	n.mu.Lock()
	n.sent = append(n.sent, msg)
	n.mu.Unlock()
	return msg, nil
}
