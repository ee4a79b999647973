package scheduler

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger routes cron's internal logging into the service logger.
// Cron's info stream (wake, run, schedule) is demoted to debug.
type cronLogger struct {
	logger *logging.Logger
}

var _ cron.Logger = cronLogger{}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, toFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := append(toFields(keysAndValues), zap.Error(err))
	l.logger.Error("cron: "+msg, fields...)
}

func toFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		if i+1 >= len(keysAndValues) {
			fields = append(fields, zap.Any(key, nil))
			break
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
