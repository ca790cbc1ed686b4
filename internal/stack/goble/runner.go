// Package goble runs service searches against remote devices with go-ble.
//
// A search dials the device, confirms the start to the coordinator, then
// discovers GATT services (filtered by the request's UUIDs) and their
// characteristics (filtered by the request's attribute IDs).
package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blsdp/pkg/search"
)

// DeviceFactory creates the local BLE device (can be overridden in tests)
//
//nolint:revive // DeviceFactory name mirrors the platform constructors
var DeviceFactory = newPlatformDevice

// client is the part of ble.Client a search needs
type client interface {
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	CancelConnection() error
}

type dialFunc func(ctx context.Context, address string) (client, error)

// Options configures a Runner
type Options struct {
	// DialTimeout bounds connecting to the remote device
	DialTimeout time.Duration
	// MaxConcurrentSearches is the number of searches allowed at once
	MaxConcurrentSearches int
}

// DefaultOptions returns default runner options
func DefaultOptions() *Options {
	return &Options{
		DialTimeout:           30 * time.Second,
		MaxConcurrentSearches: 7,
	}
}

// Runner implements search.Runner on top of a go-ble device.
type Runner struct {
	logger *logrus.Logger
	opts   *Options
	slots  chan struct{}

	mu   sync.Mutex
	dev  ble.Device
	dial dialFunc
}

// NewRunner creates a runner. The BLE device is created on first use.
func NewRunner(logger *logrus.Logger, opts *Options) *Runner {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.MaxConcurrentSearches <= 0 {
		opts.MaxConcurrentSearches = DefaultOptions().MaxConcurrentSearches
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultOptions().DialTimeout
	}

	return &Runner{
		logger: logger,
		opts:   opts,
		slots:  make(chan struct{}, opts.MaxConcurrentSearches),
	}
}

// dialer returns the dial function, creating the BLE device if needed.
func (r *Runner) dialer() (dialFunc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dial != nil {
		return r.dial, nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		return nil, err
	}
	r.dev = dev
	r.dial = func(ctx context.Context, address string) (client, error) {
		return dev.Dial(ctx, ble.NewAddr(address))
	}
	return r.dial, nil
}

// Close stops the BLE device if one was created
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dev == nil {
		return nil
	}
	err := r.dev.Stop()
	r.dev = nil
	r.dial = nil
	return err
}

// RunSearchServices implements search.Runner.
func (r *Runner) RunSearchServices(h search.Handle, req *search.Request) (search.ResponseCode, error) {
	log := r.logger.WithFields(logrus.Fields{
		"trans_id": h.TransID(),
		"device":   req.Device(),
	})

	select {
	case r.slots <- struct{}{}:
	default:
		return search.ServiceSearchError, search.NewStateError(search.ErrTooManySearches, "run search services",
			fmt.Errorf("limit is %d", cap(r.slots)))
	}
	defer func() { <-r.slots }()

	serviceFilter, err := parseUUIDs(req.UUIDs())
	if err != nil {
		return search.ServiceSearchError, err
	}

	dial, err := r.dialer()
	if err != nil {
		return search.ServiceSearchError, search.NewStateError(search.ErrStackUnavailable, "create BLE device", err)
	}

	h.NotifyStarted()

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.DialTimeout)
	defer cancel()

	log.WithField("timeout", r.opts.DialTimeout).Debug("Dialing BLE device...")
	cl, err := dial(ctx, req.Device())
	if err != nil {
		log.WithField("error", err).Warn("Failed to dial BLE device")
		return search.ServiceSearchDeviceNotReachable, nil
	}
	defer func() {
		if err := cl.CancelConnection(); err != nil {
			log.WithField("error", err).Warn("Failed to cancel connection after service search")
		}
	}()

	if h.IsTerminated() {
		return search.ServiceSearchTerminated, nil
	}

	services, err := cl.DiscoverServices(serviceFilter)
	if err != nil {
		log.WithField("error", err).Error("Failed to discover services")
		return search.ServiceSearchError, nil
	}

	attrFilter := attributeFilter(req.AttrIDs())
	records := make([]search.ServiceRecord, 0, len(services))
	for _, svc := range services {
		if h.IsTerminated() {
			return search.ServiceSearchTerminated, nil
		}

		rec := search.ServiceRecord{
			UUID:        normalizeUUID(svc.UUID.String()),
			StartHandle: svc.Handle,
			EndHandle:   svc.EndHandle,
		}

		chars, err := cl.DiscoverCharacteristics(attrFilter, svc)
		if err != nil {
			log.WithFields(logrus.Fields{
				"service_uuid": rec.UUID,
				"error":        err,
			}).Warn("Failed to discover characteristics")
		}
		for _, c := range chars {
			rec.Attributes = append(rec.Attributes, normalizeUUID(c.UUID.String()))
		}

		log.WithFields(logrus.Fields{
			"service_uuid": rec.UUID,
			"attributes":   len(rec.Attributes),
		}).Debug("Found service")
		records = append(records, rec)
	}

	if len(records) == 0 {
		return search.ServiceSearchNoRecords, nil
	}

	if rl, ok := req.Listener().(search.RecordsListener); ok {
		rl.ServicesDiscovered(h.TransID(), records)
	}
	return search.ServiceSearchCompleted, nil
}

func parseUUIDs(uuids []string) ([]ble.UUID, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	out := make([]ble.UUID, 0, len(uuids))
	for i, s := range uuids {
		u, err := ble.Parse(strings.TrimPrefix(strings.ToLower(s), "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid service UUID at index %d (%q): %w", i, s, err)
		}
		out = append(out, u)
	}
	return out, nil
}

// ValidateUUIDs checks that every UUID parses and returns them normalized.
func ValidateUUIDs(uuids ...string) ([]string, error) {
	if _, err := parseUUIDs(uuids); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(uuids))
	for _, u := range uuids {
		out = append(out, normalizeUUID(u))
	}
	return out, nil
}

func attributeFilter(ids []uint16) []ble.UUID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]ble.UUID, 0, len(ids))
	for _, id := range ids {
		out = append(out, ble.UUID16(id))
	}
	return out
}

const sigBaseSuffix = "00001000800000805f9b34fb"

// normalizeUUID lowercases a UUID, drops dashes, and shortens SIG base UUIDs to 16 bits.
func normalizeUUID(s string) string {
	u := strings.ToLower(strings.ReplaceAll(s, "-", ""))
	u = strings.TrimPrefix(u, "0x")
	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	return u
}
