package testutils

import (
	"sync"
	"testing"
	"time"

	"github.com/srg/blsdp/pkg/search"
)

// Completion is one ServiceSearchCompleted callback
type Completion struct {
	ID   search.TransID
	Code search.ResponseCode
}

// RecordingListener records every callback it receives. Safe for concurrent use.
type RecordingListener struct {
	mu          sync.Mutex
	completions []Completion
	records     map[search.TransID][]search.ServiceRecord
	events      chan Completion
}

func NewRecordingListener() *RecordingListener {
	return &RecordingListener{
		records: make(map[search.TransID][]search.ServiceRecord),
		events:  make(chan Completion, 64),
	}
}

func (l *RecordingListener) ServiceSearchCompleted(id search.TransID, code search.ResponseCode) {
	c := Completion{ID: id, Code: code}
	l.mu.Lock()
	l.completions = append(l.completions, c)
	l.mu.Unlock()
	l.events <- c
}

func (l *RecordingListener) ServicesDiscovered(id search.TransID, records []search.ServiceRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[id] = append(l.records[id], records...)
}

// Completions returns a copy of the completions seen so far
func (l *RecordingListener) Completions() []Completion {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Completion(nil), l.completions...)
}

func (l *RecordingListener) Records(id search.TransID) []search.ServiceRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]search.ServiceRecord(nil), l.records[id]...)
}

// WaitCompletion blocks until the next completion or fails the test on timeout.
func (l *RecordingListener) WaitCompletion(t testing.TB, timeout time.Duration) Completion {
	t.Helper()
	select {
	case c := <-l.events:
		return c
	case <-time.After(timeout):
		t.Fatalf("no service search completion within %s", timeout)
		return Completion{}
	}
}

// AssertNoCompletion fails the test if a completion arrives within wait.
func (l *RecordingListener) AssertNoCompletion(t testing.TB, wait time.Duration) {
	t.Helper()
	select {
	case c := <-l.events:
		t.Fatalf("unexpected completion %+v", c)
	case <-time.After(wait):
	}
}
