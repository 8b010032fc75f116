package domain

import (
	"time"
)

// TestStep identifies one step of the integration test sequence
type TestStep string

const (
	StepStarted            TestStep = "STARTED"
	StepGASWebhookReceived TestStep = "GAS_WEBHOOK_RECEIVED"
	StepLicenseIssued      TestStep = "LICENSE_ISSUED"
	StepCompleted          TestStep = "COMPLETED"
)

// TestSteps lists the integration test steps in execution order
var TestSteps = []TestStep{
	StepStarted,
	StepGASWebhookReceived,
	StepLicenseIssued,
	StepCompleted,
}

// StepStatus represents the outcome of the most recent step report
type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"
)

// StepError captures the most recent failed step report
type StepError struct {
	Step      TestStep  `json:"step" dynamodbav:"step"`
	Timestamp time.Time `json:"timestamp" dynamodbav:"timestamp"`
	Message   string    `json:"message" dynamodbav:"message"`
}

// IntegrationTest tracks one end-to-end integration test run against a
// deployed GAS web app. completedSteps only ever gains entries; currentStep
// and currentStepStatus track the latest report, ordered or not.
type IntegrationTest struct {
	TestID            string               `json:"test_id" dynamodbav:"testId"`
	GASWebappURL      string               `json:"gas_webapp_url" dynamodbav:"gasWebappUrl"`
	CurrentStep       TestStep             `json:"current_step" dynamodbav:"currentStep"`
	CurrentStepStatus StepStatus           `json:"current_step_status" dynamodbav:"currentStepStatus"`
	StartedAt         time.Time            `json:"started_at" dynamodbav:"startedAt"`
	LastUpdated       time.Time            `json:"last_updated" dynamodbav:"lastUpdated"`
	CompletedSteps    map[TestStep]time.Time `json:"completed_steps" dynamodbav:"completedSteps"`
	LastError         *StepError           `json:"last_error,omitempty" dynamodbav:"lastError,omitempty"`
	LicenseID         string               `json:"license_id,omitempty" dynamodbav:"licenseId,omitempty"`
	ApplicationSK     string               `json:"application_sk,omitempty" dynamodbav:"applicationSK,omitempty"`
	Version           int64                `json:"version" dynamodbav:"version"`
}

// ActionUpdateTestStatus is the only action the harness webhook accepts.
const ActionUpdateTestStatus = "updateTestStatus"

// StepReport is a single progress report for an integration test, arriving
// either from the harness webhook or from the REST step endpoint. JSON
// names match what the Apps Script harness sends.
type StepReport struct {
	Action  string            `json:"action" validate:"required"`
	TestID  string            `json:"testId" validate:"required"`
	Step    TestStep          `json:"step" validate:"required"`
	Success bool              `json:"success"`
	Details StepReportDetails `json:"details"`
}

// StepReportDetails carries optional step metadata merged into the test record
type StepReportDetails struct {
	LicenseID     string `json:"licenseId,omitempty"`
	ApplicationSK string `json:"applicationSK,omitempty"`
	Message       string `json:"message,omitempty"`
}

// TestStatusView is the API projection of an integration test with derived fields
type TestStatusView struct {
	IntegrationTest
	Progress   int    `json:"progress"`
	Completed  bool   `json:"completed"`
	DurationMS *int64 `json:"duration_ms,omitempty"`
}
