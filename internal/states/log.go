package states

import (
	"context"

	"github.com/logimos/reactor/internal/engine"

	"go.uber.org/zap"
)

// LogState writes a structured log line and always advances. Useful as a
// cheap instrumentation step between heavier states.
type LogState struct {
	id     string
	logger *zap.Logger

	Message string
	Level   string
	Fields  map[string]interface{}
}

// NewLogState builds a LogState with the given id.
func NewLogState(id string, logger *zap.Logger) *LogState {
	return &LogState{id: id, logger: logger, Level: "info"}
}

func (s *LogState) ID() string { return s.id }

func (s *LogState) Execute(ctx context.Context, actions engine.Actions) (engine.ExecutionResult, error) {
	fields := make([]zap.Field, 0, len(s.Fields))
	for k, v := range s.Fields {
		fields = append(fields, zap.Any(k, v))
	}

	switch s.Level {
	case "debug":
		s.logger.Debug(s.Message, fields...)
	case "warn", "warning":
		s.logger.Warn(s.Message, fields...)
	case "error":
		s.logger.Error(s.Message, fields...)
	default:
		s.logger.Info(s.Message, fields...)
	}

	return actions.Next(nil, map[string]interface{}{"message": s.Message}), nil
}
