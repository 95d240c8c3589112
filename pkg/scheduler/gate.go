package scheduler

import "sync"

// admissionGate serializes admission attempts across the workers of one
// instance. When several workers wait, the next turn goes to the one
// with the largest gpu_count, ties to the smaller queue id, so wide
// tasks are not starved by narrow ones slipping in first.
type admissionGate struct {
	mu      sync.Mutex
	busy    bool
	waiters []*gateWaiter
}

type gateWaiter struct {
	queueID  int
	gpuCount int
	grant    chan struct{}
}

func newAdmissionGate() *admissionGate {
	return &admissionGate{}
}

// Acquire blocks until the caller holds the gate or stopCh closes. It
// returns false on stop.
func (g *admissionGate) Acquire(queueID, gpuCount int, stopCh <-chan struct{}) bool {
	g.mu.Lock()
	if !g.busy {
		g.busy = true
		g.mu.Unlock()
		return true
	}

	w := &gateWaiter{queueID: queueID, gpuCount: gpuCount, grant: make(chan struct{})}
	g.waiters = append(g.waiters, w)
	g.mu.Unlock()

	select {
	case <-w.grant:
		return true
	case <-stopCh:
		g.abandon(w)
		return false
	}
}

// Release hands the gate to the highest-priority waiter, or frees it.
func (g *admissionGate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := g.popNext()
	if next == nil {
		g.busy = false
		return
	}
	close(next.grant)
}

func (g *admissionGate) popNext() *gateWaiter {
	best := -1
	for i, w := range g.waiters {
		if best < 0 {
			best = i
			continue
		}
		b := g.waiters[best]
		if w.gpuCount > b.gpuCount || (w.gpuCount == b.gpuCount && w.queueID < b.queueID) {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	w := g.waiters[best]
	g.waiters = append(g.waiters[:best], g.waiters[best+1:]...)
	return w
}

// abandon removes w from the wait list. If the grant raced with the
// stop, the gate is passed on so it is not leaked.
func (g *admissionGate) abandon(w *gateWaiter) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, cand := range g.waiters {
		if cand == w {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			return
		}
	}

	select {
	case <-w.grant:
		next := g.popNext()
		if next == nil {
			g.busy = false
			return
		}
		close(next.grant)
	default:
	}
}
