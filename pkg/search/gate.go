package search

import (
	"context"
	"sync"
)

// startGate releases the issuing caller once the worker has started or has
// finished without starting. started, finished and err change together under mu.
type startGate struct {
	mu       sync.Mutex
	started  bool
	finished bool
	err      error
	changed  chan struct{} // closed and replaced on every transition
}

func newStartGate() *startGate {
	return &startGate{changed: make(chan struct{})}
}

// broadcast wakes every waiter. Caller holds mu.
func (g *startGate) broadcast() {
	close(g.changed)
	g.changed = make(chan struct{})
}

// signalStarted sets started unless the gate already started or finished.
// onStart runs under the monitor before waiters are woken.
func (g *startGate) signalStarted(onStart func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started || g.finished {
		return false
	}
	g.started = true
	if onStart != nil {
		onStart()
	}
	g.broadcast()
	return true
}

// signalFinished sets finished exactly once. err is recorded only when the
// gate never started. onFinish runs under the monitor and receives whether
// the gate had started.
func (g *startGate) signalFinished(err error, onFinish func(started bool)) (started bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.finished {
		return g.started
	}
	g.finished = true
	if !g.started && err != nil {
		g.err = err
	}
	if onFinish != nil {
		onFinish(g.started)
	}
	g.broadcast()
	return g.started
}

// do runs fn under the monitor with the current flags.
func (g *startGate) do(fn func(started, finished bool)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g.started, g.finished)
}

type gateResult int

const (
	gateStarted gateResult = iota
	gateFinished
	gateInterrupted
)

// wait blocks until the gate started or finished, or ctx is done.
// A recorded startup error takes priority over both flags.
func (g *startGate) wait(ctx context.Context) (gateResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		g.mu.Lock()
		started, finished, err, changed := g.started, g.finished, g.err, g.changed
		g.mu.Unlock()

		switch {
		case err != nil:
			return gateFinished, err
		case started:
			return gateStarted, nil
		case finished:
			return gateFinished, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return gateInterrupted, context.Cause(ctx)
		}
	}
}
