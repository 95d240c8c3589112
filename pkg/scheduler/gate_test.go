package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateImmediateAcquire(t *testing.T) {
	g := newAdmissionGate()
	stopCh := make(chan struct{})

	require.True(t, g.Acquire(1, 1, stopCh))
	g.Release()
	require.True(t, g.Acquire(2, 1, stopCh))
	g.Release()
}

func TestGatePriorityOrder(t *testing.T) {
	g := newAdmissionGate()
	stopCh := make(chan struct{})

	require.True(t, g.Acquire(0, 1, stopCh))

	order := make(chan int, 3)
	acquire := func(queueID, gpuCount int) {
		go func() {
			if g.Acquire(queueID, gpuCount, stopCh) {
				order <- queueID
				g.Release()
			}
		}()
	}

	acquire(1, 1)
	acquire(2, 4)
	acquire(3, 4)
	waitForWaiters(t, g, 3)

	g.Release()

	var got []int
	for i := 0; i < 3; i++ {
		select {
		case id := <-order:
			got = append(got, id)
		case <-time.After(2 * time.Second):
			t.Fatalf("waiter %d never got the gate", i)
		}
	}
	assert.Equal(t, []int{2, 3, 1}, got,
		"widest task first, ties to the smaller queue, narrow task last")
}

func TestGateStopWhileWaiting(t *testing.T) {
	g := newAdmissionGate()
	stopCh := make(chan struct{})

	require.True(t, g.Acquire(0, 1, stopCh))

	result := make(chan bool, 1)
	go func() { result <- g.Acquire(1, 1, stopCh) }()
	waitForWaiters(t, g, 1)

	close(stopCh)

	select {
	case ok := <-result:
		assert.False(t, ok, "a stopped waiter must report failure")
	case <-time.After(2 * time.Second):
		t.Fatal("waiter did not observe stop")
	}

	// The holder's release must still leave the gate acquirable.
	g.Release()
	require.True(t, g.Acquire(2, 1, make(chan struct{})))
	g.Release()
}

func TestGateReleaseWithNoWaiters(t *testing.T) {
	g := newAdmissionGate()
	stopCh := make(chan struct{})

	require.True(t, g.Acquire(1, 1, stopCh))
	g.Release()

	require.True(t, g.Acquire(1, 1, stopCh))
	g.Release()
}

func waitForWaiters(t *testing.T, g *admissionGate, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		g.mu.Lock()
		waiting := len(g.waiters)
		g.mu.Unlock()
		if waiting == n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("never saw %d waiters", n)
}
