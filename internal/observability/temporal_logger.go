package observability

import (
	"fmt"

	"github.com/rs/zerolog"
)

// TemporalLogger satisfies the Temporal SDK's log.Logger on top of
// zerolog, so SDK output lands in the same structured stream as the
// rest of the service.
type TemporalLogger struct {
	logger zerolog.Logger
}

// NewTemporalLogger wraps the given logger, tagging every SDK line with
// component=temporal-sdk.
func NewTemporalLogger(logger zerolog.Logger) *TemporalLogger {
	return &TemporalLogger{logger: logger.With().Str("component", "temporal-sdk").Logger()}
}

// Debug forwards an SDK debug line with its key-value pairs.
func (l *TemporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug().Fields(keyvalToMap(keyvals)).Msg(msg)
}

// Info forwards an SDK info line with its key-value pairs.
func (l *TemporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info().Fields(keyvalToMap(keyvals)).Msg(msg)
}

// Warn forwards an SDK warn line with its key-value pairs.
func (l *TemporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn().Fields(keyvalToMap(keyvals)).Msg(msg)
}

// Error forwards an SDK error line with its key-value pairs.
func (l *TemporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error().Fields(keyvalToMap(keyvals)).Msg(msg)
}

// keyvalToMap flattens the SDK's alternating key-value slice into
// zerolog fields. Non-string keys are rendered with %v; a trailing
// unpaired value is dropped.
func keyvalToMap(keyvals []interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keyvals[i])
		}
		m[key] = keyvals[i+1]
	}
	return m
}
