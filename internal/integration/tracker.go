package integration

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	apierrors "sankeyhub/internal/errors"
	"sankeyhub/pkg/contracts/domain"
)

// successors maps each step to the one that follows it. COMPLETED has no
// successor.
var successors = map[domain.TestStep]domain.TestStep{
	domain.StepStarted:            domain.StepGASWebhookReceived,
	domain.StepGASWebhookReceived: domain.StepLicenseIssued,
	domain.StepLicenseIssued:      domain.StepCompleted,
}

// NewTestID mints a test identifier of the form
// INTEGRATION_<epochMillis>_<random8>. The random suffix makes ids
// unguessable, since knowing a test id is what authorizes progress reports.
func NewTestID(now time.Time) (string, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("generate test id: %w", err)
	}
	return fmt.Sprintf("INTEGRATION_%d_%s", now.UnixMilli(), hex.EncodeToString(suffix)), nil
}

// NextStep returns the successor of step, or "" when step is COMPLETED or
// unrecognized.
func NextStep(step domain.TestStep) domain.TestStep {
	return successors[step]
}

// ApplyStepReport folds one progress report into the test. A successful
// report moves currentStep/currentStepStatus, records the completion
// timestamp exactly once (re-recording a completed step never regresses
// it), merges detail fields and clears any earlier error. A failed report
// moves currentStep/currentStepStatus and records lastError, leaving
// completedSteps untouched.
func ApplyStepReport(test *domain.IntegrationTest, step domain.TestStep, success bool, details domain.StepReportDetails, now time.Time) error {
	if test == nil {
		return apierrors.NewValidation("test", "is required")
	}
	if !IsValidStep(string(step)) {
		return apierrors.NewValidation("step", fmt.Sprintf("unknown step %q", step))
	}

	test.CurrentStep = step
	test.LastUpdated = now

	if !success {
		test.CurrentStepStatus = domain.StepStatusFailed
		test.LastError = &domain.StepError{Step: step, Timestamp: now, Message: details.Message}
		return nil
	}

	test.CurrentStepStatus = domain.StepStatusSuccess
	if test.CompletedSteps == nil {
		test.CompletedSteps = make(map[domain.TestStep]time.Time)
	}
	if _, done := test.CompletedSteps[step]; !done {
		test.CompletedSteps[step] = now
	}
	if details.LicenseID != "" {
		test.LicenseID = details.LicenseID
	}
	if details.ApplicationSK != "" {
		test.ApplicationSK = details.ApplicationSK
	}
	test.LastError = nil
	return nil
}

// IsCompleted reports whether the run reached COMPLETED successfully.
func IsCompleted(test *domain.IntegrationTest) bool {
	if test == nil {
		return false
	}
	return test.CurrentStep == domain.StepCompleted && test.CurrentStepStatus == domain.StepStatusSuccess
}

// JustCompleted reports whether the most recent report is the one that
// confirmed COMPLETED. A duplicate confirmation keeps the original
// completion timestamp while LastUpdated moves on, so only the completing
// report sees the two clocks equal.
func JustCompleted(test *domain.IntegrationTest) bool {
	if !IsCompleted(test) {
		return false
	}
	done, ok := test.CompletedSteps[domain.StepCompleted]
	return ok && done.Equal(test.LastUpdated)
}

// Progress returns the percentage of steps confirmed complete: 0, 25, 50,
// 75 or 100.
func Progress(test *domain.IntegrationTest) int {
	if test == nil {
		return 0
	}
	return len(test.CompletedSteps) * 100 / len(domain.TestSteps)
}

// Duration returns the elapsed milliseconds between the STARTED and
// COMPLETED confirmations, or nil while either endpoint is missing.
func Duration(test *domain.IntegrationTest) *int64 {
	if test == nil {
		return nil
	}
	started, ok := test.CompletedSteps[domain.StepStarted]
	if !ok {
		return nil
	}
	completed, ok := test.CompletedSteps[domain.StepCompleted]
	if !ok {
		return nil
	}
	ms := completed.Sub(started).Milliseconds()
	return &ms
}

// IsStepCompleted reports whether step has a confirmed completion.
func IsStepCompleted(test *domain.IntegrationTest, step domain.TestStep) bool {
	if test == nil {
		return false
	}
	_, ok := test.CompletedSteps[step]
	return ok
}

// StatusView projects a test into its API shape with derived fields.
func StatusView(test *domain.IntegrationTest) domain.TestStatusView {
	if test == nil {
		return domain.TestStatusView{}
	}
	return domain.TestStatusView{
		IntegrationTest: *test,
		Progress:        Progress(test),
		Completed:       IsCompleted(test),
		DurationMS:      Duration(test),
	}
}

// Summarize condenses a test into the profile-embedded result summary.
func Summarize(test *domain.IntegrationTest) *domain.TestResultSummary {
	if test == nil {
		return nil
	}
	summary := &domain.TestResultSummary{
		TestID:      test.TestID,
		Completed:   IsCompleted(test),
		Progress:    Progress(test),
		LastUpdated: test.LastUpdated,
		DurationMS:  Duration(test),
	}
	if test.LastError != nil {
		failed := *test.LastError
		summary.FailedStep = &failed
	}
	return summary
}

// IsValidStep reports membership in the closed step set. Empty and unknown
// tokens are invalid.
func IsValidStep(s string) bool {
	for _, step := range domain.TestSteps {
		if string(step) == s {
			return true
		}
	}
	return false
}

// IsValidStepStatus reports membership in the closed status set.
func IsValidStepStatus(s string) bool {
	switch domain.StepStatus(s) {
	case domain.StepStatusPending, domain.StepStatusSuccess, domain.StepStatusFailed:
		return true
	}
	return false
}

// IsValidSetupPhase reports membership in the closed setup phase set.
func IsValidSetupPhase(s string) bool {
	return domain.SetupPhase(s).IsValid()
}
