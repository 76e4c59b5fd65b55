package warptile

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTxBarrierArriveFlipsPhase(t *testing.T) {
	b := NewTxBarrier(1)
	require.Equal(t, uint64(0), b.Phase())

	b.Arrive()
	b.WaitPhase(1)
	require.Equal(t, uint64(1), b.Phase())
}

func TestTxBarrierTransactionsGateFlip(t *testing.T) {
	b := NewTxBarrier(1)

	b.ExpectTx(64)
	b.Arrive()
	require.Equal(t, uint64(0), b.Phase(), "phase must not flip with transactions pending")

	b.CompleteTx(32)
	require.Equal(t, uint64(0), b.Phase())

	b.CompleteTx(32)
	b.WaitPhase(1)
	require.Equal(t, uint64(1), b.Phase())
}

func TestTxBarrierPhaseMonotone(t *testing.T) {
	b := NewTxBarrier(1)
	for i := 1; i <= 5; i++ {
		b.ExpectTx(8)
		b.CompleteTx(8)
		b.Arrive()
		b.WaitPhase(uint64(i))
	}
	require.Equal(t, uint64(5), b.Phase())
}

func TestTxBarrierMultipleArrivals(t *testing.T) {
	const arrivals = 4
	b := NewTxBarrier(arrivals)

	var wg sync.WaitGroup
	for i := 0; i < arrivals; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Arrive()
		}()
	}
	b.WaitPhase(1)
	wg.Wait()
	require.Equal(t, uint64(1), b.Phase())
}

func TestTxBarrierWaitBlocksUntilFlip(t *testing.T) {
	b := NewTxBarrier(1)
	done := make(chan struct{})
	go func() {
		b.WaitPhase(1)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WaitPhase returned before any arrival")
	default:
	}

	b.Arrive()
	<-done
}
