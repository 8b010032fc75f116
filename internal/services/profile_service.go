package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	apierrors "sankeyhub/internal/errors"
	"sankeyhub/internal/integration"
	"sankeyhub/internal/lifecycle"
	"sankeyhub/internal/store"
	"sankeyhub/pkg/contracts/domain"
)

// updateAttempts bounds retries of conditional profile writes.
const updateAttempts = 3

// ProfileService manages user profiles: first-contact creation, setup
// phase progression and the embedded integration test summary.
type ProfileService struct {
	store    store.Store
	validate *validator.Validate
	now      func() time.Time
	logger   *slog.Logger
}

// NewProfileService creates a profile service.
func NewProfileService(st store.Store, logger *slog.Logger) *ProfileService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileService{
		store:    st,
		validate: newValidator(),
		now:      time.Now,
		logger:   logger.With(slog.String("component", "profile_service")),
	}
}

// Ensure returns the user's profile, creating it with defaults on first
// contact. Losing a concurrent create race falls back to the winner's row.
func (s *ProfileService) Ensure(ctx context.Context, userID string) (*domain.UserProfile, error) {
	if userID == "" {
		return nil, apierrors.NewValidation("user_id", "is required")
	}

	profile, err := s.store.GetProfile(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, apierrors.ErrItemNotFound) {
		return nil, err
	}

	profile = domain.NewUserProfile(userID, s.now().UTC())
	if err := s.store.PutProfile(ctx, profile); err != nil {
		if errors.Is(err, apierrors.ErrConditionFailed) {
			return s.store.GetProfile(ctx, userID)
		}
		return nil, err
	}

	s.logger.InfoContext(ctx, "profile created", slog.String("user_id", userID))
	return profile, nil
}

// AdvancePhase moves the setup phase one step forward. Backward moves,
// skips and unknown phases are refused.
func (s *ProfileService) AdvancePhase(ctx context.Context, userID string, req domain.PhaseChangeRequest) (*domain.UserProfile, error) {
	if err := checkStruct(s.validate, req); err != nil {
		return nil, err
	}
	if !req.To.IsValid() {
		return nil, apierrors.NewValidation("to", fmt.Sprintf("%q is not a recognized phase", req.To))
	}

	for attempt := 0; attempt < updateAttempts; attempt++ {
		profile, err := s.Ensure(ctx, userID)
		if err != nil {
			return nil, err
		}
		if !lifecycle.CanProgressPhase(profile.SetupPhase, req.To) {
			return nil, apierrors.NewInvalidTransition(userID, string(req.To), string(profile.SetupPhase)).
				WithReason("setup phase advances one step at a time")
		}

		expected := profile.Version
		from := profile.SetupPhase
		profile.SetupPhase = req.To
		profile.UpdatedAt = s.now().UTC()

		err = s.store.UpdateProfileConditionally(ctx, profile, expected)
		if errors.Is(err, apierrors.ErrConditionFailed) {
			s.logger.InfoContext(ctx, "phase change lost a concurrent update, retrying",
				slog.String("user_id", userID),
				slog.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, err
		}

		s.logger.InfoContext(ctx, "setup phase advanced",
			slog.String("user_id", userID),
			slog.String("from", string(from)),
			slog.String("to", string(req.To)))
		return profile, nil
	}
	return nil, apierrors.NewConflict(userID, updateAttempts)
}

// RecordTestOutcome embeds the latest integration test summary into the
// profile.
func (s *ProfileService) RecordTestOutcome(ctx context.Context, userID string, test *domain.IntegrationTest) (*domain.UserProfile, error) {
	if test == nil {
		return nil, apierrors.NewValidation("test", "is required")
	}
	summary := integration.Summarize(test)

	for attempt := 0; attempt < updateAttempts; attempt++ {
		profile, err := s.Ensure(ctx, userID)
		if err != nil {
			return nil, err
		}

		expected := profile.Version
		profile.TestResults = summary
		profile.UpdatedAt = s.now().UTC()

		err = s.store.UpdateProfileConditionally(ctx, profile, expected)
		if errors.Is(err, apierrors.ErrConditionFailed) {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.logger.InfoContext(ctx, "test outcome recorded on profile",
			slog.String("user_id", userID),
			slog.String("test_id", summary.TestID),
			slog.Bool("completed", summary.Completed))
		return profile, nil
	}
	return nil, apierrors.NewConflict(userID, updateAttempts)
}
