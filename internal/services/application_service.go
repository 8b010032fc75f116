package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	apierrors "sankeyhub/internal/errors"
	"sankeyhub/internal/infrastructure"
	"sankeyhub/internal/lifecycle"
	"sankeyhub/internal/store"
	"sankeyhub/pkg/contracts/domain"
	"sankeyhub/pkg/contracts/events"
)

// createAttempts bounds retries of the timestamp-keyed initial put.
const createAttempts = 3

// Broadcaster pushes live events to connected dashboard clients. A nil
// broadcaster disables the live feed without touching the services.
type Broadcaster interface {
	Broadcast(messageType events.MessageType, data interface{})
}

// ApplicationService fronts the application lifecycle for the transport
// layer: intake, reads with lazy expiry, listings, history and the four
// operator transitions.
type ApplicationService struct {
	store       store.Store
	machine     *lifecycle.Machine
	broadcaster Broadcaster
	validate    *validator.Validate
	now         func() time.Time
	logger      *slog.Logger
}

// NewApplicationService creates an application service. broadcaster may be
// nil.
func NewApplicationService(st store.Store, machine *lifecycle.Machine, broadcaster Broadcaster, logger *slog.Logger) *ApplicationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApplicationService{
		store:       st,
		machine:     machine,
		broadcaster: broadcaster,
		validate:    newValidator(),
		now:         time.Now,
		logger:      logger.With(slog.String("component", "application_service")),
	}
}

// Create files a Pending application from a validated form submission. The
// sort key is the application timestamp, so a same-millisecond resubmission
// retries under a fresh key.
func (s *ApplicationService) Create(ctx context.Context, sub domain.FormSubmission) (*domain.Application, error) {
	if err := checkStruct(s.validate, sub); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < createAttempts; attempt++ {
		now := s.now().UTC()
		app := &domain.Application{
			UserID:        sub.UserID,
			SK:            store.NewApplicationSK(now),
			AccountNumber: sub.AccountNumber,
			EAName:        sub.EAName,
			Broker:        sub.Broker,
			Email:         sub.Email,
			XAccount:      sub.XAccount,
			Status:        domain.StatusPending,
			AppliedAt:     now,
			UpdatedAt:     now,
			Version:       1,
		}

		err := s.store.PutApplication(ctx, app)
		if errors.Is(err, apierrors.ErrConditionFailed) {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.logger.InfoContext(ctx, "application created",
			slog.String("ref", app.Ref().String()),
			slog.String("ea_name", app.EAName),
			slog.String("broker", app.Broker))
		infrastructure.RecordApplicationSubmitted(ctx, infrastructure.BusinessMetricsFromContext(ctx))
		s.announce(app)
		return app, nil
	}
	return nil, apierrors.NewConflict(sub.UserID, createAttempts)
}

// Get reads one application, lazily expiring a lapsed Active license.
func (s *ApplicationService) Get(ctx context.Context, ref domain.ApplicationRef) (*domain.Application, error) {
	app, err := s.store.GetApplication(ctx, ref)
	if err != nil {
		return nil, err
	}
	fresh, changed, err := s.machine.ExpireIfDue(ctx, app)
	if err != nil {
		return nil, err
	}
	if changed {
		s.announce(fresh)
	}
	return fresh, nil
}

// List returns one page of a user's applications in the given status,
// oldest first.
func (s *ApplicationService) List(ctx context.Context, userID, status, cursor string, limit int32) (*domain.ApplicationPage, error) {
	if userID == "" {
		return nil, apierrors.NewValidation("user_id", "is required")
	}
	st := domain.ApplicationStatus(status)
	if !st.IsValid() {
		return nil, apierrors.NewValidation("status", fmt.Sprintf("%q is not a recognized status", status))
	}
	return s.store.QueryApplicationsByStatus(ctx, userID, st, cursor, limit)
}

// History returns the application's status changes, most recent first.
func (s *ApplicationService) History(ctx context.Context, ref domain.ApplicationRef) ([]domain.StatusChangeRecord, error) {
	if _, err := s.store.GetApplication(ctx, ref); err != nil {
		return nil, err
	}
	return s.store.ListHistory(ctx, ref.UserID, ref.SK)
}

// Approve seals a license into the application and schedules its delivery.
func (s *ApplicationService) Approve(ctx context.Context, ref domain.ApplicationRef, input domain.ApprovalInput) (*domain.Application, error) {
	if err := checkStruct(s.validate, input); err != nil {
		return nil, err
	}
	app, err := s.machine.Approve(ctx, ref, input)
	if err != nil {
		return nil, err
	}
	s.announce(app)
	return app, nil
}

// Reject closes a Pending application.
func (s *ApplicationService) Reject(ctx context.Context, ref domain.ApplicationRef, input domain.RejectInput) (*domain.Application, error) {
	if err := checkStruct(s.validate, input); err != nil {
		return nil, err
	}
	app, err := s.machine.Reject(ctx, ref, input.Actor, input.Reason)
	if err != nil {
		return nil, err
	}
	s.announce(app)
	return app, nil
}

// Cancel withdraws an approved application inside its notification window.
func (s *ApplicationService) Cancel(ctx context.Context, ref domain.ApplicationRef, input domain.CancelInput) (*domain.Application, error) {
	if err := checkStruct(s.validate, input); err != nil {
		return nil, err
	}
	app, err := s.machine.Cancel(ctx, ref, input.Actor)
	if err != nil {
		return nil, err
	}
	s.announce(app)
	return app, nil
}

// Revoke withdraws an Active license.
func (s *ApplicationService) Revoke(ctx context.Context, ref domain.ApplicationRef, input domain.RevokeInput) (*domain.Application, error) {
	if err := checkStruct(s.validate, input); err != nil {
		return nil, err
	}
	app, err := s.machine.Revoke(ctx, ref, input.Actor, input.Reason)
	if err != nil {
		return nil, err
	}
	s.announce(app)
	return app, nil
}

// CollectForExport gathers every application of a user across all statuses,
// oldest first. Listing pages are walked to the end per status.
func (s *ApplicationService) CollectForExport(ctx context.Context, userID string) ([]domain.Application, error) {
	if userID == "" {
		return nil, apierrors.NewValidation("user_id", "is required")
	}

	var all []domain.Application
	for _, status := range domain.AllStatuses {
		cursor := ""
		for {
			page, err := s.store.QueryApplicationsByStatus(ctx, userID, status, cursor, 0)
			if err != nil {
				return nil, err
			}
			all = append(all, page.Items...)
			if page.NextCursor == "" {
				break
			}
			cursor = page.NextCursor
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].SK < all[j].SK })
	return all, nil
}

func (s *ApplicationService) announce(app *domain.Application) {
	if s.broadcaster == nil || app == nil {
		return
	}
	s.broadcaster.Broadcast(events.MessageTypeApplicationStatus, app)
}
