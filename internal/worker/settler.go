// Package worker runs settlement passes in the background.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"sweepstake-bot/internal/metrics"
	"sweepstake-bot/internal/settlement"
)

// Passer runs one settlement pass.
type Passer interface {
	RunPass(ctx context.Context) (*settlement.Report, error)
}

// Notifier delivers the announcements of a committed pass.
type Notifier interface {
	Notify(ctx context.Context, n settlement.Notification) error
}

type Settler struct {
	engine   Passer
	notifier Notifier
	lock     Locker
	interval time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewSettler(engine Passer, notifier Notifier, lock Locker, interval time.Duration, logger *zap.Logger, m *metrics.Metrics) *Settler {
	if lock == nil {
		lock = NewLocalLock()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Settler{engine: engine, notifier: notifier, lock: lock, interval: interval, logger: logger, metrics: m}
}

// Start runs a pass immediately and then on every tick until ctx is done.
func (s *Settler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("settlement worker started", zap.Duration("interval", s.interval))

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("settlement worker stopped")
			return nil
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce runs a pass unless one is already in progress, in which case it
// returns ran=false without waiting.
func (s *Settler) RunOnce(ctx context.Context) (report *settlement.Report, ran bool) {
	release, ok, err := s.lock.TryLock(ctx)
	if err != nil {
		s.logger.Warn("settlement lock unavailable", zap.Error(err))
		s.metrics.RecordPass("skipped", 0)
		return nil, false
	}
	if !ok {
		s.logger.Debug("settlement pass already running, skipping")
		s.metrics.RecordPass("skipped", 0)
		return nil, false
	}
	defer release()

	started := time.Now()
	report, err = s.engine.RunPass(ctx)
	took := time.Since(started)
	if err != nil {
		s.logger.Error("settlement pass failed", zap.Error(err), zap.Duration("took", took))
		s.metrics.RecordPass("error", took)
	} else if len(report.Deferred) > 0 {
		s.metrics.RecordPass("partial", took)
	} else {
		s.metrics.RecordPass("ok", took)
	}
	if report == nil {
		return nil, true
	}

	for _, d := range report.Deferred {
		s.logger.Warn("lottery deferred",
			zap.String("lottery", d.Lottery),
			zap.String("stage", string(d.Stage)),
			zap.Error(d.Err))
	}
	if !report.Empty() {
		s.logger.Info("settlement pass finished",
			zap.Strings("stopped", report.Stopped),
			zap.Strings("struck", report.Struck),
			zap.Strings("ended", report.Ended),
			zap.Int("deferred", len(report.Deferred)),
			zap.Duration("took", took))
	}
	s.dispatch(ctx, report.Notifications)
	return report, true
}

func (s *Settler) dispatch(ctx context.Context, notes []settlement.Notification) {
	if s.notifier == nil {
		return
	}
	for _, n := range notes {
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.logger.Warn("failed to send settlement notification",
				zap.String("lottery", n.Lottery),
				zap.String("kind", string(n.Kind)),
				zap.Error(err))
		}
	}
}
