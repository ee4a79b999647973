package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fluentlens/fluentlens/internal/core"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// Formatter renders aggregation results for the CLI.
type Formatter interface {
	FormatTopErrors(userID uuid.UUID, ranked []core.RankedError) (string, error)
	FormatPending(userID uuid.UUID, pending []core.PendingDelta) (string, error)
	FormatFlush(report core.FlushReport) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatYAML:
		return &YAMLFormatter{}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

// TopErrorsView is the serialized shape of a top-N listing.
type TopErrorsView struct {
	UserID string        `json:"user_id" yaml:"user_id"`
	Errors []RankedEntry `json:"errors" yaml:"errors"`
}

// RankedEntry is one ranked error.
type RankedEntry struct {
	Rank        int    `json:"rank" yaml:"rank"`
	Category    string `json:"error_category" yaml:"error_category"`
	Subcategory string `json:"error_subcategory" yaml:"error_subcategory"`
	Frequency   int64  `json:"frequency" yaml:"frequency"`
}

// PendingView is the serialized shape of a user's unflushed deltas.
type PendingView struct {
	UserID  string         `json:"user_id" yaml:"user_id"`
	Pending []PendingEntry `json:"pending" yaml:"pending"`
}

// PendingEntry is one accumulator entry. ExpiresIn is empty when the entry
// has no expiration.
type PendingEntry struct {
	Category    string `json:"error_category" yaml:"error_category"`
	Subcategory string `json:"error_subcategory" yaml:"error_subcategory"`
	Delta       int64  `json:"delta" yaml:"delta"`
	ExpiresIn   string `json:"expires_in,omitempty" yaml:"expires_in,omitempty"`
}

// FlushView is the serialized shape of a flush report.
type FlushView struct {
	Scanned    int    `json:"scanned" yaml:"scanned"`
	Applied    int    `json:"applied" yaml:"applied"`
	Vanished   int    `json:"vanished" yaml:"vanished"`
	Malformed  int    `json:"malformed" yaml:"malformed"`
	Failed     int    `json:"failed" yaml:"failed"`
	Delta      int64  `json:"delta" yaml:"delta"`
	StartedAt  string `json:"started_at" yaml:"started_at"`
	DurationMS int64  `json:"duration_ms" yaml:"duration_ms"`
}

func topErrorsView(userID uuid.UUID, ranked []core.RankedError) TopErrorsView {
	view := TopErrorsView{UserID: userID.String(), Errors: make([]RankedEntry, 0, len(ranked))}
	for i, entry := range ranked {
		view.Errors = append(view.Errors, RankedEntry{
			Rank:        i + 1,
			Category:    entry.Category,
			Subcategory: entry.Subcategory,
			Frequency:   entry.Frequency,
		})
	}
	return view
}

func pendingView(userID uuid.UUID, pending []core.PendingDelta) PendingView {
	view := PendingView{UserID: userID.String(), Pending: make([]PendingEntry, 0, len(pending))}
	for _, entry := range pending {
		view.Pending = append(view.Pending, PendingEntry{
			Category:    entry.Category,
			Subcategory: entry.Subcategory,
			Delta:       entry.Delta,
			ExpiresIn:   expiresLabel(entry),
		})
	}
	return view
}

func flushView(report core.FlushReport) FlushView {
	view := FlushView{
		Scanned:    report.Scanned,
		Applied:    report.Applied,
		Vanished:   report.Vanished,
		Malformed:  report.Malformed,
		Failed:     report.Failed,
		Delta:      report.Delta,
		DurationMS: report.Duration.Milliseconds(),
	}
	if !report.StartedAt.IsZero() {
		view.StartedAt = report.StartedAt.UTC().Format(time.RFC3339)
	}
	return view
}

func expiresLabel(entry core.PendingDelta) string {
	if entry.ExpiresIn == nil {
		return ""
	}
	return entry.ExpiresIn.Round(time.Second).String()
}
