package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apierrors "sankeyhub/internal/errors"
	"sankeyhub/internal/store"
	"sankeyhub/pkg/contracts/domain"
)

// retryAttempts bounds the optimistic retry on step recording.
const retryAttempts = 3

// Tracker persists integration test runs. Step recording is a
// read-modify-write with a version-conditioned update, so concurrent
// webhook and REST reports for the same test serialize cleanly.
type Tracker struct {
	store  store.Store
	now    func() time.Time
	logger *slog.Logger
}

// NewTracker builds a Tracker on the given store.
func NewTracker(st store.Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:  st,
		now:    time.Now,
		logger: logger.With(slog.String("component", "integration")),
	}
}

// Create starts a new test run against the given web app URL. The run
// begins at STARTED/pending; the harness confirms the step with its first
// progress report.
func (t *Tracker) Create(ctx context.Context, gasWebappURL string) (*domain.IntegrationTest, error) {
	if err := ValidateGASWebappURL(gasWebappURL); err != nil {
		return nil, err
	}

	now := t.now()
	testID, err := NewTestID(now)
	if err != nil {
		return nil, err
	}

	test := &domain.IntegrationTest{
		TestID:            testID,
		GASWebappURL:      gasWebappURL,
		CurrentStep:       domain.StepStarted,
		CurrentStepStatus: domain.StepStatusPending,
		StartedAt:         now,
		LastUpdated:       now,
		CompletedSteps:    make(map[domain.TestStep]time.Time),
		Version:           1,
	}
	if err := t.store.PutIntegrationTest(ctx, test); err != nil {
		return nil, fmt.Errorf("create integration test: %w", err)
	}

	t.logger.InfoContext(ctx, "integration test started",
		slog.String("test_id", testID),
		slog.String("gas_webapp_url", gasWebappURL))
	return test, nil
}

// Get returns the current state of one test run.
func (t *Tracker) Get(ctx context.Context, testID string) (*domain.IntegrationTest, error) {
	return t.store.GetIntegrationTest(ctx, testID)
}

// RecordStepProgress folds one progress report into the stored run,
// retrying a bounded number of times when concurrent reports contend.
func (t *Tracker) RecordStepProgress(ctx context.Context, testID string, step domain.TestStep, success bool, details domain.StepReportDetails) (*domain.IntegrationTest, error) {
	if !IsValidStep(string(step)) {
		return nil, apierrors.NewValidation("step", fmt.Sprintf("unknown step %q", step))
	}

	for attempt := 1; attempt <= retryAttempts; attempt++ {
		test, err := t.store.GetIntegrationTest(ctx, testID)
		if err != nil {
			return nil, err
		}

		expected := test.Version
		if err := ApplyStepReport(test, step, success, details, t.now()); err != nil {
			return nil, err
		}

		err = t.store.UpdateIntegrationTestConditionally(ctx, test, expected)
		if errors.Is(err, apierrors.ErrConditionFailed) {
			t.logger.InfoContext(ctx, "step report lost optimistic race",
				slog.String("test_id", testID),
				slog.String("step", string(step)),
				slog.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, err
		}

		t.logger.InfoContext(ctx, "step recorded",
			slog.String("test_id", testID),
			slog.String("step", string(step)),
			slog.Bool("success", success),
			slog.Int("progress", Progress(test)))
		return test, nil
	}
	return nil, apierrors.NewConflict(testID, retryAttempts)
}
