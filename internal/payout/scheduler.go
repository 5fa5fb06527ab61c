package payout

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler runs a Processor on a cron schedule with a seconds field.
type Scheduler struct {
	cron      *cron.Cron
	processor *Processor
	logger    *zap.Logger
	schedule  string
}

func NewScheduler(schedule string, processor *Processor, logger *zap.Logger) (*Scheduler, error) {
	if err := ValidateSchedule(schedule); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cron:      cron.New(cron.WithParser(parser)),
		processor: processor,
		logger:    logger.Named("payout-scheduler"),
		schedule:  schedule,
	}
	return s, nil
}

// Start blocks until ctx is cancelled, then waits for a running batch.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.processor.ProcessDue(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("payout run", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid payout schedule %q: %w", s.schedule, err)
	}

	s.logger.Info("payout scheduler started", zap.String("schedule", s.schedule))
	s.cron.Start()
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("payout scheduler stopped")
	return nil
}

// ValidateSchedule parses a six-field cron expression.
func ValidateSchedule(schedule string) error {
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid payout schedule %q: %w", schedule, err)
	}
	return nil
}
