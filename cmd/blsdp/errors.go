package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/srg/blsdp/pkg/search"
	"go.uber.org/multierr"
)

// Command-level errors
var (
	// ErrNoSearchStarted indicates that none of the requested searches could be started
	ErrNoSearchStarted = errors.New("no service search started")
)

// FormatUserError turns an error chain into a short message for the terminal.
// Aggregated failures are listed one per line.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	errs := multierr.Errors(err)
	if len(errs) > 1 {
		lines := make([]string, 0, len(errs))
		for _, e := range errs {
			lines = append(lines, "  - "+FormatUserError(e))
		}
		return fmt.Sprintf("%d errors occurred:\n%s", len(errs), strings.Join(lines, "\n"))
	}

	switch {
	case errors.Is(err, search.ErrTooManySearches):
		return err.Error() + " (lower the number of devices or raise max_concurrent_searches)"
	case errors.Is(err, search.ErrStackUnavailable):
		return err.Error() + " (is Bluetooth enabled and accessible?)"
	}
	return err.Error()
}
