package main

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blsdp/internal/ringchan"
	"github.com/srg/blsdp/pkg/search"
)

type completion struct {
	id   search.TransID
	code search.ResponseCode
}

// resultCollector is the listener shared by every search of one command run.
// Completions are forwarded on a ring channel so the worker goroutines never block.
type resultCollector struct {
	logger  *logrus.Logger
	mu      sync.Mutex
	codes   map[search.TransID]search.ResponseCode
	records map[search.TransID][]search.ServiceRecord
	events  *ringchan.RingChannel[completion]
}

// newResultCollector sizes the event buffer for the given number of searches,
// each of which completes at most once.
func newResultCollector(logger *logrus.Logger, searches int) *resultCollector {
	if searches < 1 {
		searches = 1
	}
	return &resultCollector{
		logger:  logger,
		codes:   make(map[search.TransID]search.ResponseCode),
		records: make(map[search.TransID][]search.ServiceRecord),
		events:  ringchan.New[completion](searches),
	}
}

func (c *resultCollector) ServiceSearchCompleted(id search.TransID, code search.ResponseCode) {
	c.mu.Lock()
	c.codes[id] = code
	c.mu.Unlock()
	if c.events.Send(completion{id: id, code: code}) {
		c.logger.WithFields(logrus.Fields{
			"trans_id": id,
			"dropped":  c.events.Dropped(),
		}).Warn("Completion event buffer full, oldest event overwritten")
	}
}

func (c *resultCollector) ServicesDiscovered(id search.TransID, records []search.ServiceRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[id] = append(c.records[id], records...)
}

// result returns what is known about id so far
func (c *resultCollector) result(id search.TransID) (search.ResponseCode, []search.ServiceRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	code, done := c.codes[id]
	return code, c.records[id], done
}

// settle removes from remaining every transaction that has completed.
// It relies on the stored codes, not on the events, so an overwritten
// event cannot leave a completed search pending.
func (c *resultCollector) settle(remaining map[search.TransID]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range remaining {
		if _, done := c.codes[id]; done {
			delete(remaining, id)
		}
	}
}
