package main

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter redraws a single status line with the elapsed time.
//
// A ProgressPrinter is single-use: Start at most once, Stop any number of times.
type ProgressPrinter struct {
	out       io.Writer
	prefix    string
	status    atomic.Value // string
	startTime time.Time
	stopChan  chan struct{}
	done      chan struct{}
	started   atomic.Bool
	stopped   atomic.Bool
}

// NewProgressPrinter creates a progress printer that counts up.
func NewProgressPrinter(out io.Writer, prefix, status string) *ProgressPrinter {
	p := &ProgressPrinter{
		out:      out,
		prefix:   prefix,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.status.Store(status)
	return p
}

// Start begins redrawing in a background goroutine.
// Panics if called more than once.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}
	p.startTime = time.Now()
	p.print()

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				p.print()
			}
		}
	}()
}

func (p *ProgressPrinter) print() {
	seconds := int(time.Since(p.startTime).Seconds())
	_, _ = fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, p.status.Load().(string), seconds)
}

// SetStatus replaces the status shown after the prefix. Safe for concurrent use.
func (p *ProgressPrinter) SetStatus(status string) {
	p.status.Store(status)
}

// Stop stops redrawing and clears the line. Only the first call has an effect.
func (p *ProgressPrinter) Stop() {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}
	close(p.stopChan)
	if p.started.Load() {
		<-p.done
		_, _ = fmt.Fprint(p.out, clearLineSequence)
	}
}
