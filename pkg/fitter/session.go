package fitter

import (
	"time"

	"go.uber.org/zap"
)

// FitSession tracks progress of a long-running fit: evaluation count,
// elapsed time, and periodic logging. Every 50th cost evaluation is
// reported at info level, the rest at debug.
type FitSession struct {
	NIter  int
	Start  time.Time
	logger *zap.Logger
}

func NewFitSession(logger *zap.Logger) *FitSession {
	return &FitSession{Start: time.Now(), logger: logger}
}

const infoEvery = 50

// Record logs one cost evaluation.
func (s *FitSession) Record(chisq float64, values []float64) {
	s.NIter++
	if s.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.Int("n_iter", s.NIter),
		zap.Float64("chisq", chisq),
		zap.Duration("elapsed", time.Since(s.Start)),
		zap.Float64s("values", values),
	}
	if s.NIter%infoEvery == 0 {
		s.logger.Info("field fit evaluation", fields...)
	} else {
		s.logger.Debug("field fit evaluation", fields...)
	}
}
