package search

import (
	"slices"

	"github.com/cornelk/hashmap"
)

// Registry maps live transaction IDs to their workers.
// It is safe for concurrent use without external locking.
type Registry struct {
	workers *hashmap.Map[int64, *Worker]
}

func NewRegistry() *Registry {
	return &Registry{workers: hashmap.New[int64, *Worker]()}
}

// Insert adds w under id. It returns false and leaves the registry unchanged
// if id is already present.
func (r *Registry) Insert(id TransID, w *Worker) bool {
	return r.workers.Insert(int64(id), w)
}

// Lookup returns the worker registered under id
func (r *Registry) Lookup(id TransID) (*Worker, bool) {
	return r.workers.Get(int64(id))
}

// Remove deletes id. Removing an absent id is a no-op.
func (r *Registry) Remove(id TransID) {
	r.workers.Del(int64(id))
}

func (r *Registry) Len() int {
	return r.workers.Len()
}

// IDs returns a sorted snapshot of the registered transaction IDs.
func (r *Registry) IDs() []TransID {
	ids := make([]TransID, 0, r.workers.Len())
	r.workers.Range(func(key int64, _ *Worker) bool {
		ids = append(ids, TransID(key))
		return true
	})
	slices.Sort(ids)
	return ids
}
