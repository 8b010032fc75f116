package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sankeyhub/internal/config"
	apierrors "sankeyhub/internal/errors"
	"sankeyhub/internal/infrastructure"
	"sankeyhub/internal/integration"
	"sankeyhub/pkg/contracts/domain"
	"sankeyhub/pkg/contracts/events"
)

// GASTrigger starts a test run on a deployed web app.
type GASTrigger interface {
	Trigger(ctx context.Context, webappURL, testID string) error
}

// IntegrationService orchestrates end-to-end test runs: it creates the
// tracking record, triggers the target web app, records the step reports
// flowing back and answers bounded completion polls.
type IntegrationService struct {
	tracker      *integration.Tracker
	gas          GASTrigger
	broadcaster  Broadcaster
	pollInterval time.Duration
	maxAttempts  int
	stepEstimate time.Duration
	logger       *slog.Logger
}

// NewIntegrationService creates an integration service. broadcaster may be
// nil.
func NewIntegrationService(tracker *integration.Tracker, gas GASTrigger, broadcaster Broadcaster, cfg config.IntegrationConfig, logger *slog.Logger) *IntegrationService {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	maxAttempts := cfg.MaxPollAttempts
	if maxAttempts <= 0 {
		maxAttempts = 30
	}
	stepEstimate := cfg.StepEstimate
	if stepEstimate <= 0 {
		stepEstimate = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IntegrationService{
		tracker:      tracker,
		gas:          gas,
		broadcaster:  broadcaster,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
		stepEstimate: stepEstimate,
		logger:       logger.With(slog.String("component", "integration_service")),
	}
}

// Start creates a test record and asks the web app to run its self-test.
// The returned duration is the estimate clients should plan their polling
// around. A failed trigger is recorded on the test before the error
// surfaces, so the row explains why nothing ever progressed.
func (s *IntegrationService) Start(ctx context.Context, gasWebappURL string) (*domain.IntegrationTest, time.Duration, error) {
	test, err := s.tracker.Create(ctx, gasWebappURL)
	if err != nil {
		return nil, 0, err
	}
	estimate := s.stepEstimate * time.Duration(len(domain.TestSteps))
	metrics := infrastructure.BusinessMetricsFromContext(ctx)
	infrastructure.RecordTestStarted(ctx, metrics)

	if err := s.gas.Trigger(ctx, gasWebappURL, test.TestID); err != nil {
		infrastructure.RecordTestFinished(ctx, metrics, "trigger_failed", 0)
		details := domain.StepReportDetails{Message: fmt.Sprintf("trigger failed: %v", err)}
		if _, recErr := s.tracker.RecordStepProgress(ctx, test.TestID, domain.StepStarted, false, details); recErr != nil {
			s.logger.ErrorContext(ctx, "could not record trigger failure",
				slog.String("test_id", test.TestID),
				slog.String("error", recErr.Error()))
		}
		return nil, 0, err
	}

	return test, estimate, nil
}

// Get returns the test record.
func (s *IntegrationService) Get(ctx context.Context, testID string) (*domain.IntegrationTest, error) {
	return s.tracker.Get(ctx, testID)
}

// RecordStep applies one progress report and feeds the live progress
// stream. The report that completes the run also closes out its metrics.
func (s *IntegrationService) RecordStep(ctx context.Context, report domain.StepReport) (*domain.IntegrationTest, error) {
	test, err := s.tracker.RecordStepProgress(ctx, report.TestID, report.Step, report.Success, report.Details)
	if err != nil {
		return nil, err
	}
	if integration.JustCompleted(test) {
		var runtime time.Duration
		if ms := integration.Duration(test); ms != nil {
			runtime = time.Duration(*ms) * time.Millisecond
		}
		infrastructure.RecordTestFinished(ctx, infrastructure.BusinessMetricsFromContext(ctx), "completed", runtime)
	}
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(events.MessageTypeTestProgress, integration.StatusView(test))
	}
	return test, nil
}

// Wait polls the test until it completes or the attempt budget runs out,
// at which point the result wraps ErrPollTimeout. An incomplete test is
// abandoned client-side only; nothing is written.
func (s *IntegrationService) Wait(ctx context.Context, testID string) (*domain.IntegrationTest, error) {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		test, err := s.tracker.Get(ctx, testID)
		if err != nil {
			return nil, err
		}
		if integration.IsCompleted(test) {
			return test, nil
		}
		if attempt == s.maxAttempts-1 {
			break
		}

		timer := time.NewTimer(s.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("test %s incomplete after %d polls: %w", testID, s.maxAttempts, apierrors.ErrPollTimeout)
}
