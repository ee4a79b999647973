package output

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/fluentlens/fluentlens/internal/core"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatTopErrors renders a top-N listing as a table.
func (f *TableFormatter) FormatTopErrors(userID uuid.UUID, ranked []core.RankedError) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Top errors for " + userID.String())
	t.AppendHeader(table.Row{"#", "Category", "Subcategory", "Frequency"})

	var total int64
	for _, entry := range topErrorsView(userID, ranked).Errors {
		t.AppendRow(table.Row{entry.Rank, entry.Category, entry.Subcategory, entry.Frequency})
		total += entry.Frequency
	}
	t.AppendFooter(table.Row{"", "", "Total", total})

	return t.Render(), nil
}

// FormatPending renders unflushed deltas as a table.
func (f *TableFormatter) FormatPending(userID uuid.UUID, pending []core.PendingDelta) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Pending deltas for " + userID.String())
	t.AppendHeader(table.Row{"Category", "Subcategory", "Delta", "Expires In"})

	view := pendingView(userID, pending)
	for _, entry := range view.Pending {
		expires := entry.ExpiresIn
		if expires == "" {
			expires = "never"
		}
		t.AppendRow(table.Row{entry.Category, entry.Subcategory, entry.Delta, expires})
	}
	if len(view.Pending) == 0 {
		t.AppendFooter(table.Row{"", "", "nothing pending", ""})
	}

	return t.Render(), nil
}

// FormatFlush renders a flush report as a two-column table.
func (f *TableFormatter) FormatFlush(report core.FlushReport) (string, error) {
	view := flushView(report)

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Flush")
	t.AppendRows([]table.Row{
		{"Scanned", view.Scanned},
		{"Applied", view.Applied},
		{"Vanished", view.Vanished},
		{"Malformed", view.Malformed},
		{"Failed", view.Failed},
		{"Delta", view.Delta},
		{"Duration", fmt.Sprintf("%dms", view.DurationMS)},
	})

	return t.Render(), nil
}
