package output

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fluentlens/fluentlens/internal/core"
)

// MarkdownFormatter renders results as markdown tables.
type MarkdownFormatter struct{}

// FormatTopErrors renders a top-N listing as Markdown.
func (f *MarkdownFormatter) FormatTopErrors(userID uuid.UUID, ranked []core.RankedError) (string, error) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Top errors for %s\n\n", userID))
	sb.WriteString("| # | Category | Subcategory | Frequency |\n")
	sb.WriteString("|---|----------|-------------|-----------|\n")

	for _, entry := range topErrorsView(userID, ranked).Errors {
		sb.WriteString(fmt.Sprintf("| %d | %s | %s | %d |\n",
			entry.Rank,
			escapeMarkdownCell(entry.Category),
			escapeMarkdownCell(entry.Subcategory),
			entry.Frequency,
		))
	}

	return sb.String(), nil
}

// FormatPending renders unflushed deltas as Markdown.
func (f *MarkdownFormatter) FormatPending(userID uuid.UUID, pending []core.PendingDelta) (string, error) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Pending deltas for %s\n\n", userID))
	sb.WriteString("| Category | Subcategory | Delta | Expires In |\n")
	sb.WriteString("|----------|-------------|-------|------------|\n")

	for _, entry := range pendingView(userID, pending).Pending {
		sb.WriteString(fmt.Sprintf("| %s | %s | %d | %s |\n",
			escapeMarkdownCell(entry.Category),
			escapeMarkdownCell(entry.Subcategory),
			entry.Delta,
			entry.ExpiresIn,
		))
	}

	return sb.String(), nil
}

// FormatFlush renders a flush report as Markdown.
func (f *MarkdownFormatter) FormatFlush(report core.FlushReport) (string, error) {
	view := flushView(report)

	var sb strings.Builder
	sb.WriteString("## Flush\n\n")
	sb.WriteString(fmt.Sprintf("- **Scanned**: %d\n", view.Scanned))
	sb.WriteString(fmt.Sprintf("- **Applied**: %d (delta %d)\n", view.Applied, view.Delta))
	sb.WriteString(fmt.Sprintf("- **Vanished**: %d\n", view.Vanished))
	sb.WriteString(fmt.Sprintf("- **Malformed**: %d\n", view.Malformed))
	sb.WriteString(fmt.Sprintf("- **Failed**: %d\n", view.Failed))
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
