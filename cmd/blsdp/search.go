package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blsdp/internal/stack/goble"
	"github.com/srg/blsdp/pkg/config"
	"github.com/srg/blsdp/pkg/search"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

// searchRunner is a search.Runner that owns platform resources
type searchRunner interface {
	search.Runner
	Close() error
}

// newRunner creates the search collaborator (can be overridden in tests)
var newRunner = func(logger *logrus.Logger, opts *goble.Options) searchRunner {
	return goble.NewRunner(logger, opts)
}

type searchFlags struct {
	uuids         []string
	attrs         []string
	format        string
	timeout       time.Duration
	maxConcurrent int
	verbose       bool
}

func newSearchCmd() *cobra.Command {
	flags := &searchFlags{}

	cmd := &cobra.Command{
		Use:   "search ADDRESS...",
		Short: "Search services on remote devices",
		Long: `Start one service search per device and report the services found.

Searches run concurrently. The command waits until every started search
has reported its result; Ctrl+C cancels the searches still running.`,
		Example: `  blsdp search AA:BB:CC:DD:EE:FF
  blsdp search AA:BB:CC:DD:EE:FF 11:22:33:44:55:66 --uuid 180F --attr 0x2A19
  blsdp search AA:BB:CC:DD:EE:FF --format json --timeout 10s`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, args, flags)
		},
	}

	cmd.Flags().StringSliceVarP(&flags.uuids, "uuid", "u", nil, "Service UUIDs to search for")
	cmd.Flags().StringSliceVarP(&flags.attrs, "attr", "a", nil, "Attribute IDs to retrieve (decimal or 0x hex)")
	cmd.Flags().StringVarP(&flags.format, "format", "f", "table", "Output format (table, json)")
	cmd.Flags().DurationVarP(&flags.timeout, "timeout", "t", 0, "Connection timeout per device (e.g. 10s)")
	cmd.Flags().IntVar(&flags.maxConcurrent, "max-concurrent", 0, "Maximum number of concurrent searches")
	cmd.Flags().BoolVar(&flags.verbose, "verbose", false, "Enable debug logging")

	return cmd
}

// loadConfig reads --config if given and applies the command-line overrides
func loadConfig(cmd *cobra.Command, flags *searchFlags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if cmd.Flags().Changed("format") {
		cfg.OutputFormat = flags.format
	}
	if cmd.Flags().Changed("timeout") {
		cfg.SearchTimeout = flags.timeout
	}
	if cmd.Flags().Changed("max-concurrent") {
		cfg.MaxConcurrentSearches = flags.maxConcurrent
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseAttrIDs accepts decimal or 0x-prefixed 16-bit attribute IDs
func parseAttrIDs(values []string) ([]uint16, error) {
	ids := make([]uint16, 0, len(values))
	for _, v := range values {
		id, err := strconv.ParseUint(strings.TrimSpace(v), 0, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid attribute ID %q: must be a 16-bit number", v)
		}
		ids = append(ids, uint16(id))
	}
	return ids, nil
}

func runSearch(cmd *cobra.Command, args []string, flags *searchFlags) error {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return err
	}

	attrIDs, err := parseAttrIDs(flags.attrs)
	if err != nil {
		return err
	}
	var uuids []string
	if len(flags.uuids) > 0 {
		if uuids, err = goble.ValidateUUIDs(flags.uuids...); err != nil {
			return err
		}
	}

	logger, err := configureLogger(cmd, cfg, "verbose")
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	runner := newRunner(logger, &goble.Options{
		DialTimeout:           cfg.SearchTimeout,
		MaxConcurrentSearches: cfg.MaxConcurrentSearches,
	})
	defer func() {
		if err := runner.Close(); err != nil {
			logger.WithError(err).Warn("Failed to release BLE device")
		}
	}()

	coord := search.NewCoordinator(runner, logger, &search.Options{
		Clock:       clock.New(),
		NotifyDelay: cfg.NotifyDelay,
	})

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// One entry per distinct device, in argument order
	results := orderedmap.New[string, *deviceResult]()
	for _, addr := range args {
		addr = strings.ToUpper(strings.TrimSpace(addr))
		if _, present := results.Get(addr); present {
			logger.WithField("device", addr).Warn("Duplicate device address ignored")
			continue
		}
		results.Set(addr, &deviceResult{Device: addr, Result: resultPending})
	}

	collector := newResultCollector(logger, results.Len())

	var progress *ProgressPrinter
	if cfg.OutputFormat == "table" && isTerminal(cmd) {
		progress = NewProgressPrinter(cmd.ErrOrStderr(), "Searching services", "starting")
		progress.Start()
		defer progress.Stop()
	}

	started, startErr := startSearches(ctx, coord, collector, results, attrIDs, uuids)

	waitErr := waitForCompletions(ctx, cmd, coord, collector, started, progress)
	if progress != nil {
		progress.Stop()
	}

	list := make([]*deviceResult, 0, results.Len())
	for pair := results.Oldest(); pair != nil; pair = pair.Next() {
		r := pair.Value
		if r.TransID != search.NoTransaction {
			code, records, done := collector.result(r.TransID)
			if done {
				r.Code = code
				r.Result = code.String()
			}
			r.Services = records
		}
		list = append(list, r)
	}

	out := cmd.OutOrStdout()
	if cfg.OutputFormat == "json" {
		err = displayResultsJSON(out, list)
	} else {
		err = displayResultsTable(out, list)
	}
	if err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}

	if waitErr != nil {
		return waitErr
	}
	if len(started) == 0 && startErr != nil {
		return multierr.Append(ErrNoSearchStarted, startErr)
	}
	return startErr
}

// startSearches issues one search per device concurrently. It returns the
// started transactions and the aggregated startup failures.
func startSearches(ctx context.Context, coord *search.Coordinator, collector *resultCollector,
	results *orderedmap.OrderedMap[string, *deviceResult], attrIDs []uint16, uuids []string,
) (map[search.TransID]*deviceResult, error) {
	var (
		g        errgroup.Group
		mu       sync.Mutex
		startErr error
		started  = make(map[search.TransID]*deviceResult)
	)

	for pair := results.Oldest(); pair != nil; pair = pair.Next() {
		r := pair.Value
		g.Go(func() error {
			id, err := coord.StartSearch(ctx, search.NewRequest(attrIDs, uuids, r.Device, collector))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				r.Result = resultStartFailed
				r.Error = err.Error()
				err = fmt.Errorf("%s: %w", r.Device, err)
				startErr = multierr.Append(startErr, err)
				return err
			case id == search.NoTransaction:
				r.Result = resultInterrupted
			default:
				r.TransID = id
				started[id] = r
			}
			return nil
		})
	}

	// Wait reports only the first failure; every failure is kept in startErr.
	if err := g.Wait(); err != nil {
		return started, startErr
	}
	return started, nil
}

// waitForCompletions blocks until every started search reported, or ctx is
// done, in which case the searches still registered are cancelled.
func waitForCompletions(ctx context.Context, cmd *cobra.Command, coord *search.Coordinator,
	collector *resultCollector, started map[search.TransID]*deviceResult, progress *ProgressPrinter,
) error {
	remaining := make(map[search.TransID]struct{}, len(started))
	for id := range started {
		remaining[id] = struct{}{}
	}

	for len(remaining) > 0 {
		if progress != nil {
			progress.SetStatus(fmt.Sprintf("%d pending", len(remaining)))
		}

		select {
		case <-collector.events.C():
			collector.settle(remaining)
		case <-ctx.Done():
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "\nInterrupted, cancelling service searches...")
			for _, id := range coord.Active() {
				coord.CancelSearch(id)
			}
			return ctx.Err()
		}
	}
	return nil
}

func isTerminal(cmd *cobra.Command) bool {
	f, ok := cmd.OutOrStdout().(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
