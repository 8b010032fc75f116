package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sankeyhub/internal/config"
	apierrors "sankeyhub/internal/errors"
	"sankeyhub/internal/infrastructure"
	"sankeyhub/internal/license"
	"sankeyhub/internal/store"
	"sankeyhub/pkg/contracts/domain"
)

// retryAttempts bounds the optimistic retry loop. A transition that is
// still losing races after this many attempts surfaces a ConflictError.
const retryAttempts = 3

// Scheduler is the notification side-effect collaborator. Approve arms a
// deferred send, Cancel disarms it. Implementations must tolerate calls for
// refs they do not know about.
type Scheduler interface {
	Arm(ref domain.ApplicationRef, fireAt time.Time)
	Disarm(ref domain.ApplicationRef)
}

// Machine executes application lifecycle transitions against the store.
type Machine struct {
	store     store.Store
	codec     *license.Codec
	scheduler Scheduler
	metrics   *infrastructure.BusinessMetrics
	delay     time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewMachine builds a Machine. The scheduler is attached separately via
// SetScheduler because the scheduler itself needs the machine to fire
// transitions.
func NewMachine(st store.Store, codec *license.Codec, cfg config.NotificationConfig, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		store:  st,
		codec:  codec,
		delay:  cfg.Delay,
		now:    time.Now,
		logger: logger.With(slog.String("component", "lifecycle")),
	}
}

// SetScheduler attaches the notification scheduler. Transitions committed
// while no scheduler is attached are picked up by its recovery scan.
func (m *Machine) SetScheduler(s Scheduler) {
	m.scheduler = s
}

// SetMetrics attaches the business instruments. Every transition source
// funnels through the machine, which makes it the one counting point; nil
// leaves recording off.
func (m *Machine) SetMetrics(metrics *infrastructure.BusinessMetrics) {
	m.metrics = metrics
}

// transitionRequest describes one lifecycle mutation. prepare runs against
// the freshly-read entity on every attempt, before legality is checked, and
// may veto the transition or stage field changes on the in-memory copy.
type transitionRequest struct {
	ref     domain.ApplicationRef
	event   domain.LifecycleEvent
	actor   string
	reason  string
	prepare func(app *domain.Application) error
}

// transition times one lifecycle mutation end to end and records its
// outcome on the business instruments, delegating the actual work to
// execute.
func (m *Machine) transition(ctx context.Context, req transitionRequest) (*domain.Application, error) {
	start := time.Now()
	app, from, err := m.execute(ctx, req)

	to := ""
	if err == nil {
		to = string(app.Status)
	}
	infrastructure.RecordTransitionMetrics(ctx, m.metrics,
		string(req.event), string(from), to, time.Since(start), err)

	if err != nil {
		return nil, err
	}
	return app, nil
}

// execute runs the read, guard, compute, conditional write cycle with a
// bounded retry on lost races. On success it appends the audit record and
// returns the updated entity along with the status it left.
func (m *Machine) execute(ctx context.Context, req transitionRequest) (*domain.Application, domain.ApplicationStatus, error) {
	var from domain.ApplicationStatus
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		app, err := m.store.GetApplication(ctx, req.ref)
		if err != nil {
			return nil, from, err
		}
		from = app.Status

		if req.prepare != nil {
			if err := req.prepare(app); err != nil {
				return nil, from, err
			}
		}

		next, err := Next(req.ref, app.Status, req.event)
		if err != nil {
			return nil, from, err
		}

		expected := app.Version
		app.Status = next
		app.UpdatedAt = m.now()

		err = m.store.UpdateApplicationConditionally(ctx, app, expected)
		if errors.Is(err, apierrors.ErrConditionFailed) {
			infrastructure.RecordTransitionConflict(ctx, m.metrics, string(req.event))
			m.logger.InfoContext(ctx, "transition lost optimistic race",
				slog.String("ref", req.ref.String()),
				slog.String("event", string(req.event)),
				slog.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, from, err
		}

		m.appendHistory(ctx, req, app, from)
		m.logger.InfoContext(ctx, "application transitioned",
			slog.String("ref", req.ref.String()),
			slog.String("event", string(req.event)),
			slog.String("from", string(from)),
			slog.String("to", string(app.Status)),
			slog.String("actor", req.actor))
		return app, from, nil
	}
	return nil, from, apierrors.NewConflict(req.ref.String(), retryAttempts)
}

// appendHistory writes the audit record for a committed transition. The
// record key is derived from the new version, so a replay cannot duplicate
// it. Failures are logged, not surfaced: the transition already stands.
func (m *Machine) appendHistory(ctx context.Context, req transitionRequest, app *domain.Application, from domain.ApplicationStatus) {
	rec := &domain.StatusChangeRecord{
		UserID:        app.UserID,
		SK:            store.HistorySK(app.SK, app.Version),
		ApplicationSK: app.SK,
		FromStatus:    from,
		ToStatus:      app.Status,
		Actor:         req.actor,
		Reason:        req.reason,
		ChangedAt:     app.UpdatedAt,
	}
	if err := m.store.AppendHistory(ctx, rec); err != nil {
		m.logger.ErrorContext(ctx, "history append failed",
			slog.String("ref", req.ref.String()),
			slog.String("event", string(req.event)),
			slog.String("error", err.Error()))
	}
}

// Approve moves a Pending application to AwaitingNotification: it enforces
// the duplicate-account guard, seals the license key, stamps the expiry and
// the deferred notification time, and arms the scheduler.
func (m *Machine) Approve(ctx context.Context, ref domain.ApplicationRef, input domain.ApprovalInput) (*domain.Application, error) {
	var fireAt time.Time

	prepare := func(app *domain.Application) error {
		if app.Status != domain.StatusPending {
			return nil
		}

		now := m.now()
		if !input.ExpiryDate.After(now) {
			return apierrors.NewValidation("expiry_date", "must be in the future")
		}

		siblings, err := m.store.QueryApplicationsByBrokerAccount(ctx, app.Broker, app.AccountNumber)
		if err != nil {
			return fmt.Errorf("duplicate account check: %w", err)
		}
		for _, other := range siblings {
			if other.Ref() == app.Ref() || other.Status.IsTerminal() {
				continue
			}
			return apierrors.NewInvalidTransition(ref.String(), string(domain.EventApprove), string(app.Status)).
				WithReason(fmt.Sprintf("account %s/%s already has a %s application", app.Broker, app.AccountNumber, other.Status))
		}

		licenseKey, err := m.codec.Encrypt(domain.LicensePayload{
			AccountID: app.AccountNumber,
			EAName:    app.EAName,
			Broker:    app.Broker,
			Email:     app.Email,
			Expiry:    input.ExpiryDate,
			IssuedAt:  now,
			LicenseID: "LIC-" + uuid.NewString(),
		})
		if err != nil {
			return fmt.Errorf("seal license for %s: %w", ref, err)
		}

		expiry := input.ExpiryDate
		fireAt = now.Add(m.delay)
		app.LicenseKey = licenseKey
		app.ExpiryDate = &expiry
		app.NotificationScheduledAt = &fireAt
		return nil
	}

	app, err := m.transition(ctx, transitionRequest{
		ref:     ref,
		event:   domain.EventApprove,
		actor:   input.Actor,
		reason:  input.Notes,
		prepare: prepare,
	})
	if err != nil {
		return nil, err
	}

	if m.scheduler != nil {
		m.scheduler.Arm(ref, fireAt)
	}
	return app, nil
}

// Reject moves a Pending application to Rejected.
func (m *Machine) Reject(ctx context.Context, ref domain.ApplicationRef, actor, reason string) (*domain.Application, error) {
	return m.transition(ctx, transitionRequest{
		ref:    ref,
		event:  domain.EventReject,
		actor:  actor,
		reason: reason,
	})
}

// Cancel withdraws an approved application before its notification fires.
// It is only legal while the scheduled send time is still in the future;
// afterwards, and when the notification has already gone out, the caller
// gets a WindowExpiredError.
func (m *Machine) Cancel(ctx context.Context, ref domain.ApplicationRef, actor string) (*domain.Application, error) {
	prepare := func(app *domain.Application) error {
		switch app.Status {
		case domain.StatusActive:
			// The scheduler won the race and the license is out.
			when := app.UpdatedAt
			if app.NotificationScheduledAt != nil {
				when = *app.NotificationScheduledAt
			}
			return apierrors.NewWindowExpired(ref.String(), when)
		case domain.StatusAwaitingNotification:
			if app.NotificationScheduledAt == nil || !m.now().Before(*app.NotificationScheduledAt) {
				when := app.UpdatedAt
				if app.NotificationScheduledAt != nil {
					when = *app.NotificationScheduledAt
				}
				return apierrors.NewWindowExpired(ref.String(), when)
			}
			app.NotificationScheduledAt = nil
		}
		return nil
	}

	app, err := m.transition(ctx, transitionRequest{
		ref:     ref,
		event:   domain.EventCancel,
		actor:   actor,
		reason:  "cancelled before notification",
		prepare: prepare,
	})
	if err != nil {
		return nil, err
	}

	if m.scheduler != nil {
		m.scheduler.Disarm(ref)
	}
	return app, nil
}

// MarkNotificationSent is the scheduler's claim on an AwaitingNotification
// application: the conditional write is the race arbiter, so the scheduler
// must call this before delivering anything. A cancellation that landed
// first surfaces as an InvalidTransitionError, which callers treat as an
// instruction to stand down.
func (m *Machine) MarkNotificationSent(ctx context.Context, ref domain.ApplicationRef) (*domain.Application, error) {
	return m.transition(ctx, transitionRequest{
		ref:   ref,
		event: domain.EventNotificationSent,
		actor: "scheduler",
		prepare: func(app *domain.Application) error {
			if app.Status == domain.StatusAwaitingNotification {
				app.NotificationScheduledAt = nil
			}
			return nil
		},
	})
}

// Revoke moves an Active application to Revoked, recording the operator's
// reason in the history.
func (m *Machine) Revoke(ctx context.Context, ref domain.ApplicationRef, actor, reason string) (*domain.Application, error) {
	return m.transition(ctx, transitionRequest{
		ref:    ref,
		event:  domain.EventRevoke,
		actor:  actor,
		reason: reason,
	})
}

// ExpireIfDue lazily retires an Active application whose expiry has passed.
// It reports whether a transition was committed. A concurrent transition by
// another actor is not an error: the fresh state is returned unchanged.
func (m *Machine) ExpireIfDue(ctx context.Context, app *domain.Application) (*domain.Application, bool, error) {
	if app == nil || !app.IsExpiredAt(m.now()) {
		return app, false, nil
	}

	updated, err := m.transition(ctx, transitionRequest{
		ref:    app.Ref(),
		event:  domain.EventExpire,
		actor:  "system",
		reason: fmt.Sprintf("license expired %s", app.ExpiryDate.UTC().Format(time.RFC3339)),
	})
	if err != nil {
		var invalid *apierrors.InvalidTransitionError
		if errors.As(err, &invalid) {
			fresh, readErr := m.store.GetApplication(ctx, app.Ref())
			if readErr != nil {
				return nil, false, readErr
			}
			return fresh, false, nil
		}
		return nil, false, err
	}

	infrastructure.RecordApplicationExpired(ctx, m.metrics)
	return updated, true, nil
}
