package goble

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blsdp/internal/testutils"
	"github.com/srg/blsdp/pkg/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	id         search.TransID
	started    atomic.Int32
	terminated atomic.Bool
}

func (h *fakeHandle) TransID() search.TransID { return h.id }
func (h *fakeHandle) NotifyStarted()          { h.started.Add(1) }
func (h *fakeHandle) IsTerminated() bool      { return h.terminated.Load() }

type fakeClient struct {
	mu            sync.Mutex
	services      []*ble.Service
	chars         map[string][]*ble.Characteristic
	servicesErr   error
	serviceFilter []ble.UUID
	charFilter    []ble.UUID
	cancelled     int
	block         chan struct{}
	onDiscover    func()
}

func (c *fakeClient) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	if c.block != nil {
		<-c.block
	}
	if c.onDiscover != nil {
		c.onDiscover()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serviceFilter = filter
	return c.services, c.servicesErr
}

func (c *fakeClient) DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.charFilter = filter
	return c.chars[s.UUID.String()], nil
}

func (c *fakeClient) CancelConnection() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled++
	return nil
}

func newTestRunner(t *testing.T, opts *Options, cl *fakeClient, dialErr error) (*Runner, *[]string) {
	t.Helper()
	r := NewRunner(logrus.New(), opts)
	var dialed []string
	r.dial = func(_ context.Context, address string) (client, error) {
		dialed = append(dialed, address)
		if dialErr != nil {
			return nil, dialErr
		}
		return cl, nil
	}
	return r, &dialed
}

func batteryClient() *fakeClient {
	battery := &ble.Service{UUID: ble.UUID16(0x180f), Handle: 1, EndHandle: 4}
	return &fakeClient{
		services: []*ble.Service{battery},
		chars: map[string][]*ble.Characteristic{
			battery.UUID.String(): {{UUID: ble.UUID16(0x2a19)}},
		},
	}
}

func TestRunner_DiscoversServices(t *testing.T) {
	cl := batteryClient()
	r, dialed := newTestRunner(t, nil, cl, nil)
	listener := testutils.NewRecordingListener()
	h := &fakeHandle{id: 5}

	req := search.NewRequest([]uint16{0x2a19}, []string{"180F"}, "AA:BB:CC:DD:EE:FF", listener)
	code, err := r.RunSearchServices(h, req)

	require.NoError(t, err)
	assert.Equal(t, search.ServiceSearchCompleted, code)
	assert.Equal(t, int32(1), h.started.Load())
	assert.Equal(t, []string{"AA:BB:CC:DD:EE:FF"}, *dialed)
	assert.Equal(t, 1, cl.cancelled)

	require.Len(t, cl.serviceFilter, 1)
	assert.True(t, cl.serviceFilter[0].Equal(ble.UUID16(0x180f)))
	require.Len(t, cl.charFilter, 1)
	assert.True(t, cl.charFilter[0].Equal(ble.UUID16(0x2a19)))

	assert.Equal(t, []search.ServiceRecord{
		{UUID: "180f", StartHandle: 1, EndHandle: 4, Attributes: []string{"2a19"}},
	}, listener.Records(5))
}

func TestRunner_ResponseCodes(t *testing.T) {
	tests := []struct {
		name      string
		client    func() *fakeClient
		dialErr   error
		terminate bool
		want      search.ResponseCode
	}{
		{
			name:    "device not reachable",
			client:  batteryClient,
			dialErr: errors.New("connection timed out"),
			want:    search.ServiceSearchDeviceNotReachable,
		},
		{
			name:   "no records",
			client: func() *fakeClient { return &fakeClient{} },
			want:   search.ServiceSearchNoRecords,
		},
		{
			name: "discovery error",
			client: func() *fakeClient {
				return &fakeClient{servicesErr: errors.New("att: request not supported")}
			},
			want: search.ServiceSearchError,
		},
		{
			name:      "terminated before discovery",
			client:    batteryClient,
			terminate: true,
			want:      search.ServiceSearchTerminated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRunner(t, nil, tt.client(), tt.dialErr)
			h := &fakeHandle{id: 1}
			h.terminated.Store(tt.terminate)

			code, err := r.RunSearchServices(h, search.NewRequest(nil, nil, "AA:BB:CC:DD:EE:FF", testutils.NewRecordingListener()))

			assert.NoError(t, err)
			assert.Equal(t, tt.want, code)
			assert.Equal(t, int32(1), h.started.Load(), "every dialed search has started")
		})
	}
}

func TestRunner_TerminatedDuringDiscovery(t *testing.T) {
	h := &fakeHandle{id: 3}
	cl := batteryClient()
	cl.onDiscover = func() { h.terminated.Store(true) }
	r, _ := newTestRunner(t, nil, cl, nil)
	listener := testutils.NewRecordingListener()

	code, err := r.RunSearchServices(h, search.NewRequest(nil, nil, "AA:BB:CC:DD:EE:FF", listener))

	assert.NoError(t, err)
	assert.Equal(t, search.ServiceSearchTerminated, code)
	assert.Empty(t, listener.Records(3))
	assert.Equal(t, 1, cl.cancelled)
}

func TestRunner_StartupFailures(t *testing.T) {
	t.Run("invalid UUID", func(t *testing.T) {
		r, dialed := newTestRunner(t, nil, batteryClient(), nil)
		h := &fakeHandle{id: 1}

		_, err := r.RunSearchServices(h, search.NewRequest(nil, []string{"not-a-uuid"}, "AA:BB:CC:DD:EE:FF", testutils.NewRecordingListener()))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid service UUID")
		assert.Zero(t, h.started.Load())
		assert.Empty(t, *dialed)
	})

	t.Run("stack unavailable", func(t *testing.T) {
		original := DeviceFactory
		t.Cleanup(func() { DeviceFactory = original })
		DeviceFactory = func() (ble.Device, error) { return nil, errors.New("no adapter") }

		r := NewRunner(logrus.New(), nil)
		h := &fakeHandle{id: 1}

		_, err := r.RunSearchServices(h, search.NewRequest(nil, nil, "AA:BB:CC:DD:EE:FF", testutils.NewRecordingListener()))

		assert.ErrorIs(t, err, search.ErrStackUnavailable)
		assert.Zero(t, h.started.Load())
		assert.NoError(t, r.Close())
	})

	t.Run("too many searches", func(t *testing.T) {
		cl := batteryClient()
		cl.block = make(chan struct{})
		r, _ := newTestRunner(t, &Options{MaxConcurrentSearches: 1, DialTimeout: time.Second}, cl, nil)

		first := &fakeHandle{id: 1}
		done := make(chan search.ResponseCode, 1)
		go func() {
			code, _ := r.RunSearchServices(first, search.NewRequest(nil, nil, "AA:BB:CC:DD:EE:FF", testutils.NewRecordingListener()))
			done <- code
		}()
		require.Eventually(t, func() bool { return first.started.Load() == 1 }, time.Second, time.Millisecond)

		second := &fakeHandle{id: 2}
		_, err := r.RunSearchServices(second, search.NewRequest(nil, nil, "AA:BB:CC:DD:EE:FF", testutils.NewRecordingListener()))
		assert.ErrorIs(t, err, search.ErrTooManySearches)
		assert.Zero(t, second.started.Load())

		close(cl.block)
		assert.Equal(t, search.ServiceSearchCompleted, <-done)

		// the slot is released once the first search returns
		third := &fakeHandle{id: 3}
		code, err := r.RunSearchServices(third, search.NewRequest(nil, nil, "AA:BB:CC:DD:EE:FF", testutils.NewRecordingListener()))
		assert.NoError(t, err)
		assert.Equal(t, search.ServiceSearchCompleted, code)
	})
}

func TestNewRunner_Defaults(t *testing.T) {
	r := NewRunner(nil, &Options{})
	assert.NotNil(t, r.logger)
	assert.Equal(t, 30*time.Second, r.opts.DialTimeout)
	assert.Equal(t, 7, cap(r.slots))
}

func TestNormalizeUUID(t *testing.T) {
	tests := map[string]string{
		"180F":                                 "180f",
		"0x2A19":                               "2a19",
		"0000180f-0000-1000-8000-00805f9b34fb": "180f",
		"6E400001-B5A3-F393-E0A9-E50E24DCCA9E": "6e400001b5a3f393e0a9e50e24dcca9e",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeUUID(in), in)
	}
}

func TestValidateUUIDs(t *testing.T) {
	got, err := ValidateUUIDs("180F", "0000180a-0000-1000-8000-00805f9b34fb")
	require.NoError(t, err)
	assert.Equal(t, []string{"180f", "180a"}, got)

	_, err = ValidateUUIDs("180F", "zz")
	assert.ErrorContains(t, err, "index 1")
}
