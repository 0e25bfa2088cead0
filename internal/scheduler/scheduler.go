// Package scheduler runs the periodic policy sweeps: the escalation SLA
// scan and the server-side session sweep.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tribes-rights-management/tribesportal/internal/clock"
	escalationdomain "github.com/tribes-rights-management/tribesportal/internal/escalation/domain"
	obsmetrics "github.com/tribes-rights-management/tribesportal/internal/observability/metrics"
	"github.com/tribes-rights-management/tribesportal/internal/sessionwatch"
	"github.com/tribes-rights-management/tribesportal/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

type Params struct {
	fx.In

	Log           *zap.Logger
	Clock         clock.Clock
	EscalationSvc escalationdomain.Service
	Watch         *sessionwatch.Watcher
	Config        Config `optional:"true"`
}

type Scheduler struct {
	log           *zap.Logger
	cfg           Config
	clock         clock.Clock
	escalationSvc escalationdomain.Service
	watch         *sessionwatch.Watcher
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.EscalationSvc == nil || p.Watch == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:           p.Log.Named("scheduler"),
		cfg:           p.Config.withDefaults(),
		clock:         p.Clock,
		escalationSvc: p.EscalationSvc,
		watch:         p.Watch,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	ctx = tenantctx.WithActor(ctx, "scheduler", name)
	m := obsmetrics.Default()
	m.IncJobRun(name)

	err := fn(ctx)
	m.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}
	m.IncJobError(name)
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes one pass of every job.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	err = errors.Join(err, s.runJob(parent, "escalation_scan", s.EscalationScanJob))
	err = errors.Join(err, s.runJob(parent, "session_sweep", s.SessionSweepJob))
	return err
}

// EscalationScanJob fires every escalation whose SLA has elapsed.
func (s *Scheduler) EscalationScanJob(ctx context.Context) error {
	fired, err := s.escalationSvc.Scan(ctx)
	if err != nil {
		return err
	}
	obsmetrics.Default().AddEscalationsFired(fired)
	if fired > 0 {
		s.log.Info("escalations fired", zap.Int("count", fired))
	}
	return nil
}

// SessionSweepJob expires sessions past their idle or absolute deadlines
// even when no request arrives for them.
func (s *Scheduler) SessionSweepJob(ctx context.Context) error {
	expired, err := s.watch.Sweep(ctx, s.cfg.SweepBatchSize)
	if err != nil {
		return err
	}
	if expired > 0 {
		s.log.Info("sessions expired by sweep", zap.Int("count", expired))
	}
	return nil
}

// RunForever drives RunOnce on the configured interval until ctx is done.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			obsmetrics.Default().ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
