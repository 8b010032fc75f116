package domain

import (
	"time"
)

// SetupPhase represents a user's onboarding phase. Phases only move forward,
// one step at a time.
type SetupPhase string

const (
	PhaseSetup      SetupPhase = "SETUP"
	PhaseTest       SetupPhase = "TEST"
	PhaseProduction SetupPhase = "PRODUCTION"
)

// SetupPhases lists the phases in progression order
var SetupPhases = []SetupPhase{PhaseSetup, PhaseTest, PhaseProduction}

// IsValid reports whether the phase is a member of the closed phase set
func (p SetupPhase) IsValid() bool {
	switch p {
	case PhaseSetup, PhaseTest, PhaseProduction:
		return true
	}
	return false
}

// TestResultSummary embeds the latest integration test outcome in a profile
type TestResultSummary struct {
	TestID      string     `json:"test_id" dynamodbav:"testId"`
	Completed   bool       `json:"completed" dynamodbav:"completed"`
	Progress    int        `json:"progress" dynamodbav:"progress"`
	LastUpdated time.Time  `json:"last_updated" dynamodbav:"lastUpdated"`
	DurationMS  *int64     `json:"duration_ms,omitempty" dynamodbav:"durationMs,omitempty"`
	FailedStep  *StepError `json:"failed_step,omitempty" dynamodbav:"failedStep,omitempty"`
}

// UserProfile holds per-user settings and onboarding state. Created with
// defaults on first contact and never deleted.
type UserProfile struct {
	UserID              string             `json:"user_id" dynamodbav:"userId"`
	SetupPhase          SetupPhase         `json:"setup_phase" dynamodbav:"setupPhase"`
	NotificationEnabled bool               `json:"notification_enabled" dynamodbav:"notificationEnabled"`
	CreatedAt           time.Time          `json:"created_at" dynamodbav:"createdAt"`
	UpdatedAt           time.Time          `json:"updated_at" dynamodbav:"updatedAt"`
	TestResults         *TestResultSummary `json:"test_results,omitempty" dynamodbav:"testResults,omitempty"`
	Version             int64              `json:"version" dynamodbav:"version"`
}

// NewUserProfile returns a profile with first-contact defaults
func NewUserProfile(userID string, now time.Time) *UserProfile {
	return &UserProfile{
		UserID:              userID,
		SetupPhase:          PhaseSetup,
		NotificationEnabled: true,
		CreatedAt:           now,
		UpdatedAt:           now,
		Version:             1,
	}
}

// PhaseChangeRequest asks to advance a profile to the given phase
type PhaseChangeRequest struct {
	To SetupPhase `json:"to" validate:"required"`
}
