package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/sitemap-crawler/internal/logging"
	"github.com/JakeFAU/sitemap-crawler/internal/progress"
)

// LogSink mirrors the progress stream into the log. Fetches log at debug,
// batch and run milestones at info, and failed runs at warn.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a LogSink writing to logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume logs one entry per event.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		if ce := s.logger.Check(levelFor(evt.Stage), string(evt.Stage)); ce != nil {
			ce.Write(eventFields(evt)...)
		}
	}
	return nil
}

// Close is a no-op.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func levelFor(stage progress.Stage) zapcore.Level {
	switch stage {
	case progress.StageFetchDone:
		return zapcore.DebugLevel
	case progress.StageRunError:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func eventFields(evt progress.Event) []zap.Field {
	fields := []zap.Field{zap.Stringer("run_id", evt.RunUUID())}
	switch evt.Stage {
	case progress.StageFetchDone:
		fields = append(fields,
			zap.Int("batch", evt.Batch),
			zap.String("url", evt.URL),
			zap.String("outcome", evt.Outcome),
			zap.String("status_class", string(evt.StatusClass)),
			zap.Int64("bytes", evt.Bytes),
		)
	case progress.StageBatchStart, progress.StageBatchDone:
		fields = append(fields, zap.Int("batch", evt.Batch), logging.Memory("memory_mb", evt.Memory))
	}
	if evt.Stage != progress.StageFetchDone && evt.Stage != progress.StageBatchStart {
		fields = append(fields, zap.Int("succeeded", evt.Succeeded), zap.Int("failed", evt.Failed))
	}
	if evt.Dur > 0 {
		fields = append(fields, zap.Duration("dur", evt.Dur))
	}
	if evt.Note != "" {
		fields = append(fields, zap.String("note", evt.Note))
	}
	return fields
}
