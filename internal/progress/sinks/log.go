package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// LogSink writes every progress event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch. Failures are logged at warn level.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("source", evt.Source),
		}
		if evt.Identifier != "" {
			fields = append(fields, zap.String("identifier", evt.Identifier))
		}
		if evt.Page > 0 {
			fields = append(fields, zap.Int("page", evt.Page))
		}
		if evt.StatusClass != "" {
			fields = append(fields, zap.String("status_class", string(evt.StatusClass)))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.URI != "" {
			fields = append(fields, zap.String("uri", evt.URI))
		}
		switch evt.Stage {
		case progress.StageRunError, progress.StageFetchFailed, progress.StageRecordSkipped:
			s.logger.Warn(evt.Message, fields...)
		default:
			s.logger.Info(evt.Message, fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
