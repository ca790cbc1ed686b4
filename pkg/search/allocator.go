package search

import "sync/atomic"

// Allocator hands out transaction IDs. IDs start at 1 and strictly increase;
// the counter never wraps within a process lifetime.
type Allocator struct {
	last atomic.Int64
}

// NewAllocator creates an allocator whose first ID is 1
func NewAllocator() *Allocator {
	return &Allocator{}
}

// Next returns the next transaction ID. Safe for concurrent use.
func (a *Allocator) Next() TransID {
	return TransID(a.last.Add(1))
}

// Last returns the most recently issued ID, or NoTransaction if none was issued.
func (a *Allocator) Last() TransID {
	return TransID(a.last.Load())
}
