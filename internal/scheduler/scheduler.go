// Package scheduler owns deferred license notifications and the expiry
// sweep.
//
// Approving an application arms a one-shot timer; when it fires, a worker
// claims the notificationSent transition through a conditional write and
// only then delivers the notification. A cancellation that lands first
// makes the claim fail, and the worker stands down without sending. Armed
// timers live in process; a periodic recovery scan rebuilds them from the
// store after a restart, firing missed schedules immediately.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sankeyhub/internal/config"
	apierrors "sankeyhub/internal/errors"
	"sankeyhub/internal/infrastructure"
	"sankeyhub/internal/notify"
	"sankeyhub/internal/store"
	"sankeyhub/pkg/contracts/domain"
)

// defaultWorkers is used when the configured worker count is not positive.
const defaultWorkers = 2

// Transitioner is the slice of the lifecycle machine the scheduler drives.
type Transitioner interface {
	MarkNotificationSent(ctx context.Context, ref domain.ApplicationRef) (*domain.Application, error)
	ExpireIfDue(ctx context.Context, app *domain.Application) (*domain.Application, bool, error)
}

// Scheduler runs one-shot notification timers, a worker pool that fires
// them, and the recovery and expiry sweep loops.
type Scheduler struct {
	mu     sync.Mutex
	timers map[domain.ApplicationRef]*time.Timer

	fires    chan domain.ApplicationRef
	workers  int
	wg       sync.WaitGroup
	group    *errgroup.Group
	shutdown chan struct{}

	store    store.Store
	machine  Transitioner
	notifier notify.Notifier
	mode     string
	metrics  *infrastructure.BusinessMetrics
	now      func() time.Time
	logger   *slog.Logger

	recoveryInterval time.Duration
	expiryInterval   time.Duration
}

// New builds a Scheduler. Start must be called before timers fire.
func New(st store.Store, machine Transitioner, notifier notify.Notifier, cfg config.NotificationConfig, logger *slog.Logger) *Scheduler {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	mode := cfg.Mode
	if mode == "" {
		mode = "noop"
	}
	return &Scheduler{
		timers:           make(map[domain.ApplicationRef]*time.Timer),
		fires:            make(chan domain.ApplicationRef, workers*2),
		workers:          workers,
		shutdown:         make(chan struct{}),
		store:            st,
		machine:          machine,
		notifier:         notifier,
		mode:             mode,
		now:              time.Now,
		logger:           logger.With(slog.String("component", "scheduler")),
		recoveryInterval: cfg.RecoveryInterval,
		expiryInterval:   cfg.ExpirySweep,
	}
}

// SetMetrics attaches the notification instruments; nil leaves recording
// off.
func (s *Scheduler) SetMetrics(metrics *infrastructure.BusinessMetrics) {
	s.metrics = metrics
}

// Start launches the workers and the sweep loops.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("starting scheduler",
		slog.Int("workers", s.workers),
		slog.Duration("recovery_interval", s.recoveryInterval),
		slog.Duration("expiry_interval", s.expiryInterval))

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return s.recoveryLoop(gctx) })
	group.Go(func() error { return s.expiryLoop(gctx) })
	s.group = group
}

// Stop disarms every timer and waits for workers and sweeps to drain,
// up to the given timeout.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.logger.Info("stopping scheduler")
	close(s.shutdown)

	s.mu.Lock()
	for ref, timer := range s.timers {
		timer.Stop()
		delete(s.timers, ref)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		if s.group != nil {
			_ = s.group.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped gracefully")
		return nil
	case <-time.After(timeout):
		s.logger.Warn("scheduler stop timeout exceeded")
		return fmt.Errorf("timeout waiting for scheduler workers to finish")
	}
}

// Arm schedules a one-shot fire for ref at fireAt, replacing any existing
// schedule. Past fire times fire immediately.
func (s *Scheduler) Arm(ref domain.ApplicationRef, fireAt time.Time) {
	delay := fireAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[ref]; ok {
		timer.Stop()
	}
	s.timers[ref] = time.AfterFunc(delay, func() { s.enqueue(ref) })
	infrastructure.RecordNotificationArmed(context.Background(), s.metrics)
}

// Disarm cancels the schedule for ref if it has not fired yet. Already
// fired or unknown refs are a no-op; the conditional claim makes a late
// disarm harmless.
func (s *Scheduler) Disarm(ref domain.ApplicationRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[ref]; ok {
		timer.Stop()
		delete(s.timers, ref)
		infrastructure.RecordNotificationDisarmed(context.Background(), s.metrics)
	}
}

// Armed reports whether ref currently has a pending timer.
func (s *Scheduler) Armed(ref domain.ApplicationRef) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[ref]
	return ok
}

// ArmedCount reports how many timers are pending.
func (s *Scheduler) ArmedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Scheduler) enqueue(ref domain.ApplicationRef) {
	s.mu.Lock()
	delete(s.timers, ref)
	s.mu.Unlock()

	select {
	case s.fires <- ref:
	case <-s.shutdown:
	}
}

func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	logger := s.logger.With(slog.Int("worker_id", id))
	logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopped by context")
			return
		case <-s.shutdown:
			logger.Debug("worker stopped by shutdown")
			return
		case ref := <-s.fires:
			// Each fire gets its own trace ID for log correlation.
			s.fire(infrastructure.EnsureTraceID(ctx), ref)
		}
	}
}

// fire claims the transition, then delivers. The claim comes first: once it
// succeeds the application is Active whatever the delivery outcome, and a
// failed delivery is reported for the surrounding infrastructure to retry.
func (s *Scheduler) fire(ctx context.Context, ref domain.ApplicationRef) {
	app, err := s.machine.MarkNotificationSent(ctx, ref)
	if err != nil {
		var invalid *apierrors.InvalidTransitionError
		if errors.As(err, &invalid) {
			s.logger.InfoContext(ctx, "standing down, application left the notification window",
				slog.String("ref", ref.String()),
				slog.String("status", invalid.Current))
			return
		}
		s.logger.ErrorContext(ctx, "notification claim failed",
			slog.String("ref", ref.String()),
			slog.String("error", err.Error()))
		return
	}

	start := time.Now()
	err = s.notifier.Send(ctx, notify.FromApplication(app))
	infrastructure.RecordNotificationMetrics(ctx, s.metrics, s.mode, time.Since(start), err)
	if err != nil {
		s.logger.ErrorContext(ctx, "notification delivery failed",
			slog.String("ref", ref.String()),
			slog.String("email", app.Email),
			slog.String("error", err.Error()))
		return
	}

	s.logger.InfoContext(ctx, "notification fired",
		slog.String("ref", ref.String()),
		slog.String("email", app.Email))
}

// recoveryLoop rebuilds timers from persisted schedules, once at startup
// and then on a jittered interval.
func (s *Scheduler) recoveryLoop(ctx context.Context) error {
	s.recoverSchedules(infrastructure.EnsureTraceID(ctx))
	for {
		timer := time.NewTimer(jittered(s.recoveryInterval))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-s.shutdown:
			timer.Stop()
			return nil
		case <-timer.C:
			s.recoverSchedules(infrastructure.EnsureTraceID(ctx))
		}
	}
}

func (s *Scheduler) recoverSchedules(ctx context.Context) {
	apps, err := s.store.ScanAwaitingNotification(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "recovery scan failed", slog.String("error", err.Error()))
		return
	}

	recovered := 0
	for _, app := range apps {
		if app.NotificationScheduledAt == nil {
			s.logger.WarnContext(ctx, "awaiting application has no scheduled time",
				slog.String("ref", app.Ref().String()))
			continue
		}
		if s.Armed(app.Ref()) {
			continue
		}
		s.Arm(app.Ref(), *app.NotificationScheduledAt)
		recovered++
	}
	if recovered > 0 {
		s.logger.InfoContext(ctx, "recovered persisted schedules", slog.Int("count", recovered))
	}
}

// expiryLoop lazily expires Active applications whose licenses lapsed.
func (s *Scheduler) expiryLoop(ctx context.Context) error {
	for {
		timer := time.NewTimer(jittered(s.expiryInterval))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-s.shutdown:
			timer.Stop()
			return nil
		case <-timer.C:
			s.sweepExpired(infrastructure.EnsureTraceID(ctx))
		}
	}
}

func (s *Scheduler) sweepExpired(ctx context.Context) int {
	apps, err := s.store.ScanActiveExpiring(ctx, s.now())
	if err != nil {
		s.logger.ErrorContext(ctx, "expiry scan failed", slog.String("error", err.Error()))
		return 0
	}

	expired := 0
	for i := range apps {
		app := apps[i]
		_, changed, err := s.machine.ExpireIfDue(ctx, &app)
		if err != nil {
			s.logger.ErrorContext(ctx, "expiry transition failed",
				slog.String("ref", app.Ref().String()),
				slog.String("error", err.Error()))
			continue
		}
		if changed {
			expired++
		}
	}
	if expired > 0 {
		s.logger.InfoContext(ctx, "expired lapsed licenses", slog.Int("count", expired))
	}
	return expired
}

// RunOnce performs one recovery pass and one expiry pass inline, without
// starting workers or timers. Overdue notifications fire immediately;
// future schedules are left for the next run. Safe to run next to a live
// instance, the conditional claim decides who delivers.
func (s *Scheduler) RunOnce(ctx context.Context) (fired, expired int) {
	apps, err := s.store.ScanAwaitingNotification(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "recovery scan failed", slog.String("error", err.Error()))
	} else {
		now := s.now()
		for _, app := range apps {
			if app.NotificationScheduledAt == nil || app.NotificationScheduledAt.After(now) {
				continue
			}
			s.fire(ctx, app.Ref())
			fired++
		}
	}

	expired = s.sweepExpired(ctx)
	return fired, expired
}

// jittered spreads an interval by up to 10% so sweeps from multiple
// instances do not align.
func jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + rand.N(d/10+1)
}
