package search

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/srg/blsdp/internal/groutine"
)

// State is the lifecycle state of a Worker
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateStarted
	StateFinished
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStarted:
		return "started"
	case StateFinished:
		return "finished"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// WorkerInfo is a point-in-time view of a worker
type WorkerInfo struct {
	ID         TransID
	Device     string
	State      State
	Terminated bool
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Worker performs one service search on its own goroutine.
type Worker struct {
	id       TransID
	req      *Request
	runner   Runner
	registry *Registry
	logger   *logrus.Logger
	clock    clock.Clock
	delay    time.Duration

	gate       *startGate
	state      atomic.Int32
	terminated atomic.Bool
	done       <-chan struct{}

	// guarded by gate.mu
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
}

func newWorker(id TransID, req *Request, runner Runner, registry *Registry, logger *logrus.Logger, opts *Options) *Worker {
	w := &Worker{
		id:       id,
		req:      req,
		runner:   runner,
		registry: registry,
		logger:   logger,
		clock:    opts.Clock,
		delay:    opts.NotifyDelay,
		gate:     newStartGate(),
	}
	w.createdAt = w.clock.Now()
	w.state.Store(int32(StateCreated))
	return w
}

func (w *Worker) TransID() TransID { return w.id }

func (w *Worker) Request() *Request { return w.req }

func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) IsTerminated() bool { return w.terminated.Load() }

// Done is closed when the worker goroutine has returned. Nil before Start.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Info returns a consistent snapshot of the worker.
func (w *Worker) Info() WorkerInfo {
	var info WorkerInfo
	w.gate.do(func(_, _ bool) {
		info = WorkerInfo{
			ID:         w.id,
			Device:     w.req.Device(),
			State:      w.State(),
			Terminated: w.IsTerminated(),
			CreatedAt:  w.createdAt,
			StartedAt:  w.startedAt,
			FinishedAt: w.finishedAt,
		}
	})
	return info
}

func (w *Worker) log() *logrus.Entry {
	return w.logger.WithFields(logrus.Fields{
		"trans_id": w.id,
		"device":   w.req.Device(),
	})
}

// Start runs the search on a detached goroutine. Start must be called once.
func (w *Worker) Start() {
	if !w.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
		panic("search: Worker.Start called more than once")
	}
	w.done = groutine.Go(context.Background(), fmt.Sprintf("search-services-%d", w.id), w.run)
}

func (w *Worker) run(ctx context.Context) {
	code := ServiceSearchError
	var runErr error

	defer func() {
		if r := recover(); r != nil {
			w.log().WithField("panic", r).Error("Service search panicked")
			code = ServiceSearchError
			runErr = fmt.Errorf("service search panicked: %v", r)
		}
		w.finish(runErr, code)
	}()

	w.log().WithField("goroutine", groutine.GetName(ctx)).Debug("Running service search")
	code, runErr = w.runner.RunSearchServices(w, w.req)
	if runErr != nil {
		code = ServiceSearchError
	}
}

// NotifyStarted confirms that the search has begun. Calls after the first one,
// or after the worker finished, have no effect.
func (w *Worker) NotifyStarted() {
	ok := w.gate.signalStarted(func() {
		w.startedAt = w.clock.Now()
		w.state.CompareAndSwap(int32(StateRunning), int32(StateStarted))
	})
	if ok {
		w.log().Debug("Service search started")
	}
}

// Terminate marks the worker terminated and drops its registry entry.
// The running search is not interrupted; a started worker still reports
// completion to its listener.
func (w *Worker) Terminate() {
	w.gate.do(func(_, finished bool) {
		w.terminated.Store(true)
		if !finished {
			w.state.Store(int32(StateTerminated))
		}
		w.registry.Remove(w.id)
	})
	w.log().Info("Service search terminated")
}

// register inserts the worker into the registry if it is between started
// and finished and was not terminated.
func (w *Worker) register() bool {
	inserted := false
	w.gate.do(func(started, finished bool) {
		if started && !finished && !w.IsTerminated() {
			inserted = w.registry.Insert(w.id, w)
		}
	})
	return inserted
}

func (w *Worker) finish(runErr error, code ResponseCode) {
	var startErr error
	if runErr != nil {
		startErr = runErr
		if !IsStateError(runErr) {
			startErr = NewStateError(ErrNotStarted, "run search services", runErr)
		}
	}

	started := w.gate.signalFinished(startErr, func(bool) {
		w.finishedAt = w.clock.Now()
		w.state.Store(int32(StateFinished))
		w.registry.Remove(w.id)
	})

	entry := w.log().WithField("started", started)
	if runErr != nil {
		entry = entry.WithField("error", runErr)
	}
	entry.Debug("runSearchServices ends")

	if !started {
		return
	}

	if w.delay > 0 {
		w.clock.Sleep(w.delay)
	}

	w.log().WithField("code", code).Info("Service search completed")
	w.notifyListener(code)
}

// notifyListener delivers the result. A panicking listener only ends this
// worker; registry and state cleanup have already run.
func (w *Worker) notifyListener(code ResponseCode) {
	defer func() {
		if r := recover(); r != nil {
			w.log().WithField("panic", r).Error("Service search listener panicked")
		}
	}()
	w.req.Listener().ServiceSearchCompleted(w.id, code)
}
