package testutils

import (
	"testing"
	"time"

	"github.com/srg/blsdp/pkg/search"
)

// ScriptedRunner is a search.Runner driven step by step from the test.
// Every RunSearchServices call blocks until the test tells it what to do
// through the RunnerCall it publishes.
type ScriptedRunner struct {
	calls chan *RunnerCall
}

func NewScriptedRunner() *ScriptedRunner {
	return &ScriptedRunner{calls: make(chan *RunnerCall, 64)}
}

type runnerStep struct {
	notify bool
	code   search.ResponseCode
	err    error
	panic  any
}

// RunnerCall is one in-progress RunSearchServices invocation
type RunnerCall struct {
	Handle  search.Handle
	Request *search.Request
	steps   chan runnerStep
}

func (r *ScriptedRunner) RunSearchServices(h search.Handle, req *search.Request) (search.ResponseCode, error) {
	call := &RunnerCall{Handle: h, Request: req, steps: make(chan runnerStep, 8)}
	r.calls <- call

	for step := range call.steps {
		switch {
		case step.panic != nil:
			panic(step.panic)
		case step.notify:
			h.NotifyStarted()
		default:
			return step.code, step.err
		}
	}
	return search.ServiceSearchError, nil
}

// NextCall waits for the next RunSearchServices invocation.
func (r *ScriptedRunner) NextCall(t testing.TB, timeout time.Duration) *RunnerCall {
	t.Helper()
	select {
	case c := <-r.calls:
		return c
	case <-time.After(timeout):
		t.Fatalf("runner was not called within %s", timeout)
		return nil
	}
}

// Start makes the runner confirm the search has begun
func (c *RunnerCall) Start() {
	c.steps <- runnerStep{notify: true}
}

// Finish makes RunSearchServices return code and err
func (c *RunnerCall) Finish(code search.ResponseCode, err error) {
	c.steps <- runnerStep{code: code, err: err}
}

// Panic makes RunSearchServices panic with v
func (c *RunnerCall) Panic(v any) {
	c.steps <- runnerStep{panic: v}
}
