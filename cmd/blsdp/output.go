package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/srg/blsdp/pkg/search"
)

// Result values that are not response codes
const (
	resultStartFailed = "start_failed"
	resultInterrupted = "interrupted"
	resultPending     = "pending"
)

// deviceResult is the outcome of the search issued for one device
type deviceResult struct {
	Device   string                 `json:"device"`
	TransID  search.TransID         `json:"trans_id,omitempty"`
	Result   string                 `json:"result"`
	Code     search.ResponseCode    `json:"code,omitempty"`
	Services []search.ServiceRecord `json:"services,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

var (
	okColor   = color.New(color.FgGreen).SprintFunc()
	warnColor = color.New(color.FgYellow).SprintFunc()
	failColor = color.New(color.FgRed).SprintFunc()
)

func colorizeResult(result string) string {
	switch result {
	case search.ServiceSearchCompleted.String():
		return okColor(result)
	case search.ServiceSearchNoRecords.String(), search.ServiceSearchTerminated.String(), resultInterrupted, resultPending:
		return warnColor(result)
	default:
		return failColor(result)
	}
}

// displayResultsTable prints one row per device followed by its services
func displayResultsTable(out io.Writer, results []*deviceResult) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TRANS\tDEVICE\tRESULT\tSERVICES")
	_, _ = fmt.Fprintln(w, "-----\t------\t------\t--------")

	for _, r := range results {
		trans := "-"
		if r.TransID != search.NoTransaction {
			trans = fmt.Sprintf("%d", r.TransID)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", trans, r.Device, colorizeResult(r.Result), len(r.Services))
		for _, svc := range r.Services {
			attrs := "-"
			if len(svc.Attributes) > 0 {
				attrs = strings.Join(svc.Attributes, ",")
			}
			_, _ = fmt.Fprintf(w, "\t  %s\t[0x%04x-0x%04x]\t%s\n", svc.UUID, svc.StartHandle, svc.EndHandle, attrs)
		}
		if r.Error != "" {
			_, _ = fmt.Fprintf(w, "\t  %s\t\t\n", failColor(r.Error))
		}
	}

	return w.Flush()
}

func displayResultsJSON(out io.Writer, results []*deviceResult) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
