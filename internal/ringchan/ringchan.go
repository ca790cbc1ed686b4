// Package ringchan provides a bounded channel whose producers never block.
package ringchan

import "sync/atomic"

// RingChannel wraps a buffered channel with overwrite-oldest semantics: when
// the buffer is full, Send discards the oldest element to make room.
//
// Readers use C() like a normal channel. A single producer is assumed for the
// overwrite path; concurrent producers may drop more than one element.
type RingChannel[T any] struct {
	ch      chan T
	dropped atomic.Int64
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest element if the buffer is full.
// It reports whether an element was dropped.
func (rc *RingChannel[T]) Send(v T) bool {
	dropped := false
	for {
		select {
		case rc.ch <- v:
			return dropped
		default:
		}

		select {
		case <-rc.ch:
			rc.dropped.Add(1)
			dropped = true
		default:
			// another consumer freed a slot, retry
		}
	}
}

// Dropped returns how many elements were overwritten
func (rc *RingChannel[T]) Dropped() int64 { return rc.dropped.Load() }
