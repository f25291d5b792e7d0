package invoiceflow

import "sync"

// leaseTable enforces at most one active run/resume per thread within this
// process. Leases are deliberately not persisted: a crash must never leave
// a thread permanently leased, and on restart any RUNNING thread is
// re-entered from its last durable checkpoint.
type leaseTable struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newLeaseTable() *leaseTable {
	return &leaseTable{held: map[string]struct{}{}}
}

// acquire takes the lease for a thread, failing fast when already held.
func (t *leaseTable) acquire(threadID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.held[threadID]; ok {
		return false
	}
	t.held[threadID] = struct{}{}
	return true
}

func (t *leaseTable) release(threadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.held, threadID)
}
