package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const DefaultReportSpec = "0 21 * * *"

var ErrNoReportFunc = errors.New("scheduler: report function not set")

// Scheduler runs the periodic report job in UTC.
type Scheduler struct {
	cron       *cron.Cron
	spec       string
	log        *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	reportFunc func(ctx context.Context) error
}

func New(spec string, log *zap.Logger) *Scheduler {
	if spec == "" {
		spec = DefaultReportSpec
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		spec:   spec,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Scheduler) SetReportFunction(f func(ctx context.Context) error) {
	s.reportFunc = f
}

// Start registers the report job and starts the cron loop.
func (s *Scheduler) Start() error {
	if s.reportFunc == nil {
		return ErrNoReportFunc
	}

	_, err := s.cron.AddFunc(s.spec, s.runReport)
	if err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info("scheduler started", zap.String("spec", s.spec), zap.Time("next_run", s.Next()))
	return nil
}

func (s *Scheduler) runReport() {
	s.log.Info("daily report triggered")
	if err := s.reportFunc(s.ctx); err != nil {
		s.log.Error("daily report failed", zap.Error(err))
	}
}

// Stop waits for a running job to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.log.Info("scheduler stopped")
}

// Run starts the scheduler and stops it when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Scheduler) IsRunning() bool {
	return s.cron != nil && len(s.cron.Entries()) > 0
}

// Next is the next time the report job fires, or zero when not started.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
