package search

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// ErrNilListener is returned when a request has no listener to report to
var ErrNilListener = errors.New("service search listener is required")

// Options configures a Coordinator
type Options struct {
	// Clock stamps worker transitions and times NotifyDelay
	Clock clock.Clock
	// NotifyDelay is waited before a completed search is reported to its listener
	NotifyDelay time.Duration
}

// DefaultOptions returns default coordinator options
func DefaultOptions() *Options {
	return &Options{
		Clock: clock.New(),
	}
}

// Coordinator issues service searches and tracks the live ones.
type Coordinator struct {
	runner   Runner
	ids      *Allocator
	registry *Registry
	logger   *logrus.Logger
	opts     *Options
}

// NewCoordinator creates a coordinator that runs searches through runner.
func NewCoordinator(runner Runner, logger *logrus.Logger, opts *Options) *Coordinator {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	return &Coordinator{
		runner:   runner,
		ids:      NewAllocator(),
		registry: NewRegistry(),
		logger:   logger,
		opts:     opts,
	}
}

// StartSearch starts a search and blocks until it has begun or failed to begin.
// It never waits for the search to complete; completion is reported to the
// request's listener.
//
// A failure before the search begins is returned as a *StateError. If ctx is
// done while waiting, StartSearch returns NoTransaction and a nil error; the
// search keeps running and still reports to its listener.
func (c *Coordinator) StartSearch(ctx context.Context, req *Request) (TransID, error) {
	if req == nil || req.Listener() == nil {
		return NoTransaction, ErrNilListener
	}

	w := newWorker(c.ids.Next(), req, c.runner, c.registry, c.logger, c.opts)
	log := c.logger.WithFields(logrus.Fields{
		"trans_id": w.id,
		"device":   req.Device(),
	})
	log.Debug("Starting service search...")

	w.Start()

	result, err := w.gate.wait(ctx)
	switch {
	case result == gateInterrupted:
		log.WithField("reason", err).Debug("Wait for service search start interrupted")
		return NoTransaction, nil
	case err != nil:
		log.WithField("error", err).Warn("Service search failed to start")
		return NoTransaction, err
	case result != gateStarted:
		log.Warn("Service search finished without starting")
		return NoTransaction, ErrNotStarted
	}

	if !w.register() {
		log.Debug("Service search ended before registration")
	}
	log.Info("Service search started")
	return w.id, nil
}

// Lookup returns the live worker for id
func (c *Coordinator) Lookup(id TransID) (*Worker, bool) {
	return c.registry.Lookup(id)
}

// CancelSearch terminates the live search id. It reports false when id is
// not registered. The underlying search is not interrupted.
func (c *Coordinator) CancelSearch(id TransID) bool {
	w, ok := c.registry.Lookup(id)
	if !ok {
		return false
	}
	w.Terminate()
	return true
}

// Active returns the registered transaction IDs in ascending order
func (c *Coordinator) Active() []TransID {
	return c.registry.IDs()
}
