package output

import (
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/fluentlens/fluentlens/internal/core"
)

// YAMLFormatter renders results as YAML documents.
type YAMLFormatter struct{}

// FormatTopErrors renders a top-N listing as YAML.
func (f *YAMLFormatter) FormatTopErrors(userID uuid.UUID, ranked []core.RankedError) (string, error) {
	return marshalYAML(topErrorsView(userID, ranked))
}

// FormatPending renders unflushed deltas as YAML.
func (f *YAMLFormatter) FormatPending(userID uuid.UUID, pending []core.PendingDelta) (string, error) {
	return marshalYAML(pendingView(userID, pending))
}

// FormatFlush renders a flush report as YAML.
func (f *YAMLFormatter) FormatFlush(report core.FlushReport) (string, error) {
	return marshalYAML(flushView(report))
}

func marshalYAML(value any) (string, error) {
	var sb strings.Builder
	enc := yaml.NewEncoder(&sb)
	enc.SetIndent(2)
	if err := enc.Encode(value); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
