package search

import (
	"fmt"
	"slices"
)

// TransID names one in-flight service search. Zero means "no transaction".
type TransID int64

// NoTransaction is returned by StartSearch when the wait for the start
// signal was abandoned by the caller.
const NoTransaction TransID = 0

// ResponseCode is the final outcome of a search, delivered to the Listener.
type ResponseCode int

const (
	ServiceSearchCompleted          ResponseCode = 0x01
	ServiceSearchTerminated         ResponseCode = 0x02
	ServiceSearchError              ResponseCode = 0x03
	ServiceSearchNoRecords          ResponseCode = 0x04
	ServiceSearchDeviceNotReachable ResponseCode = 0x06
)

func (c ResponseCode) String() string {
	switch c {
	case ServiceSearchCompleted:
		return "completed"
	case ServiceSearchTerminated:
		return "terminated"
	case ServiceSearchError:
		return "error"
	case ServiceSearchNoRecords:
		return "no_records"
	case ServiceSearchDeviceNotReachable:
		return "device_not_reachable"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// Listener receives the completion of every search that reached the started state.
type Listener interface {
	ServiceSearchCompleted(id TransID, code ResponseCode)
}

// RecordsListener is implemented by listeners that also want the discovered
// service records. Runners deliver records before returning.
type RecordsListener interface {
	Listener
	ServicesDiscovered(id TransID, records []ServiceRecord)
}

// ServiceRecord describes one service found on the remote device
type ServiceRecord struct {
	UUID        string   `json:"uuid"`
	StartHandle uint16   `json:"start_handle"`
	EndHandle   uint16   `json:"end_handle"`
	Attributes  []string `json:"attributes,omitempty"`
}

// Request is an immutable description of one search.
type Request struct {
	attrIDs  []uint16
	uuids    []string
	device   string
	listener Listener
}

// NewRequest copies its arguments so later changes by the caller are not observed.
func NewRequest(attrIDs []uint16, uuids []string, device string, listener Listener) *Request {
	return &Request{
		attrIDs:  slices.Clone(attrIDs),
		uuids:    slices.Clone(uuids),
		device:   device,
		listener: listener,
	}
}

func (r *Request) AttrIDs() []uint16  { return slices.Clone(r.attrIDs) }
func (r *Request) UUIDs() []string    { return slices.Clone(r.uuids) }
func (r *Request) Device() string     { return r.device }
func (r *Request) Listener() Listener { return r.listener }

// Handle is the narrow view of a worker handed to the Runner.
type Handle interface {
	TransID() TransID
	// NotifyStarted must be called once the search has begun, from inside RunSearchServices.
	NotifyStarted()
	IsTerminated() bool
}

// Runner executes the blocking search. It must call h.NotifyStarted exactly
// once before returning unless it fails with a *StateError first.
type Runner interface {
	RunSearchServices(h Handle, req *Request) (ResponseCode, error)
}

// RunnerFunc adapts a function to the Runner interface
type RunnerFunc func(h Handle, req *Request) (ResponseCode, error)

func (f RunnerFunc) RunSearchServices(h Handle, req *Request) (ResponseCode, error) {
	return f(h, req)
}
