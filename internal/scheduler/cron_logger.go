package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/siteops/internal/logger"
)

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func newCronLogger(log logger.Logger) cron.Logger {
	return cronLogger{log: log}
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, toFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(toFields(keysAndValues), logger.Error(err))...)
}

func toFields(keysAndValues []any) []logger.Field {
	fields := make([]logger.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields = append(fields, logger.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return fields
}
