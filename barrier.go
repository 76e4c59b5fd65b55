package warptile

import (
	"sync"
)

// TxBarrier models the hardware mbarrier: an arrive/wait barrier with an
// expected-transaction count. A phase completes once every participant has
// arrived and every expected transaction byte has been accounted for.
// Phases are monotonically increasing, so waiters name the phase they need
// rather than toggling parity.
//
// The producer arms the barrier with ExpectTx before issuing a bulk copy and
// calls CompleteTx when the copy lands; the enclosing collective, never the
// fusion node, issues the commit Arrive. This split avoids double-arming.
type TxBarrier struct {
	mu   sync.Mutex
	cond *sync.Cond

	arriveCount int
	arrived     int
	pendingTx   int
	phase       uint64
}

// NewTxBarrier creates a barrier expecting arriveCount participants per phase.
func NewTxBarrier(arriveCount int) *TxBarrier {
	if arriveCount <= 0 {
		arriveCount = 1
	}
	b := &TxBarrier{arriveCount: arriveCount}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// ExpectTx arms the current phase with n transaction bytes that must be
// completed before the phase can flip.
func (b *TxBarrier) ExpectTx(n int) {
	b.mu.Lock()
	b.pendingTx += n
	b.mu.Unlock()
}

// CompleteTx accounts for n transaction bytes having landed.
func (b *TxBarrier) CompleteTx(n int) {
	b.mu.Lock()
	b.pendingTx -= n
	b.tryFlipLocked()
	b.mu.Unlock()
}

// Arrive registers one participant's arrival at the current phase.
func (b *TxBarrier) Arrive() {
	b.mu.Lock()
	b.arrived++
	b.tryFlipLocked()
	b.mu.Unlock()
}

// WaitPhase blocks until at least `phase` phases have completed.
func (b *TxBarrier) WaitPhase(phase uint64) {
	b.mu.Lock()
	for b.phase < phase {
		b.cond.Wait()
	}
	b.mu.Unlock()
}

// Phase returns the number of completed phases.
func (b *TxBarrier) Phase() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

func (b *TxBarrier) tryFlipLocked() {
	// Arrivals for future phases may already be queued; flip as many
	// phases as are fully satisfied.
	for b.arrived >= b.arriveCount && b.pendingTx == 0 {
		b.arrived -= b.arriveCount
		b.phase++
		b.cond.Broadcast()
	}
}
