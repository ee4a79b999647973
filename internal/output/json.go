package output

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/fluentlens/fluentlens/internal/core"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatTopErrors renders a top-N listing as JSON.
func (f *JSONFormatter) FormatTopErrors(userID uuid.UUID, ranked []core.RankedError) (string, error) {
	return f.marshal(topErrorsView(userID, ranked))
}

// FormatPending renders unflushed deltas as JSON.
func (f *JSONFormatter) FormatPending(userID uuid.UUID, pending []core.PendingDelta) (string, error) {
	return f.marshal(pendingView(userID, pending))
}

// FormatFlush renders a flush report as JSON.
func (f *JSONFormatter) FormatFlush(report core.FlushReport) (string, error) {
	return f.marshal(flushView(report))
}

func (f *JSONFormatter) marshal(value any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
