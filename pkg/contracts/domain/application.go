// Package domain contains the core domain models for the Sankey EA License Hub.
// These types serve as the Single Source of Truth (SSOT) for all layers of the application.
package domain

import (
	"fmt"
	"time"
)

// ApplicationStatus represents the lifecycle status of an EA license application
type ApplicationStatus string

const (
	StatusPending              ApplicationStatus = "Pending"
	StatusAwaitingNotification ApplicationStatus = "AwaitingNotification"
	StatusActive               ApplicationStatus = "Active"
	StatusExpired              ApplicationStatus = "Expired"
	StatusRevoked              ApplicationStatus = "Revoked"
	StatusRejected             ApplicationStatus = "Rejected"
	StatusCancelled            ApplicationStatus = "Cancelled"
)

// AllStatuses lists every application status in lifecycle order
var AllStatuses = []ApplicationStatus{
	StatusPending,
	StatusAwaitingNotification,
	StatusActive,
	StatusExpired,
	StatusRevoked,
	StatusRejected,
	StatusCancelled,
}

// IsTerminal reports whether the status admits no further transitions
func (s ApplicationStatus) IsTerminal() bool {
	switch s {
	case StatusExpired, StatusRevoked, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// IsValid reports whether the status is a member of the closed status set
func (s ApplicationStatus) IsValid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// LifecycleEvent represents a cause of an application status transition
type LifecycleEvent string

const (
	EventApprove          LifecycleEvent = "approve"
	EventReject           LifecycleEvent = "reject"
	EventCancel           LifecycleEvent = "cancel"
	EventNotificationSent LifecycleEvent = "notification_sent"
	EventRevoke           LifecycleEvent = "revoke"
	EventExpire           LifecycleEvent = "expire"
)

// ApplicationRef identifies a single application item in storage
type ApplicationRef struct {
	UserID string `json:"user_id" validate:"required"`
	SK     string `json:"sk" validate:"required"`
}

// String renders the ref for logs and error messages
func (r ApplicationRef) String() string {
	return fmt.Sprintf("%s/%s", r.UserID, r.SK)
}

// Application represents an EA license application and its lifecycle state
type Application struct {
	UserID                  string            `json:"user_id" dynamodbav:"userId"`
	SK                      string            `json:"sk" dynamodbav:"sk"`
	AccountNumber           string            `json:"account_number" dynamodbav:"accountNumber"`
	EAName                  string            `json:"ea_name" dynamodbav:"eaName"`
	Broker                  string            `json:"broker" dynamodbav:"broker"`
	Email                   string            `json:"email" dynamodbav:"email"`
	XAccount                string            `json:"x_account,omitempty" dynamodbav:"xAccount,omitempty"`
	Status                  ApplicationStatus `json:"status" dynamodbav:"status"`
	AppliedAt               time.Time         `json:"applied_at" dynamodbav:"appliedAt"`
	UpdatedAt               time.Time         `json:"updated_at" dynamodbav:"updatedAt"`
	NotificationScheduledAt *time.Time        `json:"notification_scheduled_at,omitempty" dynamodbav:"notificationScheduledAt,omitempty"`
	LicenseKey              string            `json:"license_key,omitempty" dynamodbav:"licenseKey,omitempty"`
	ExpiryDate              *time.Time        `json:"expiry_date,omitempty" dynamodbav:"expiryDate,omitempty"`
	Version                 int64             `json:"version" dynamodbav:"version"`
}

// Ref returns the storage identity of the application
func (a *Application) Ref() ApplicationRef {
	return ApplicationRef{UserID: a.UserID, SK: a.SK}
}

// IsExpiredAt reports whether an Active application's license has lapsed at t
func (a *Application) IsExpiredAt(t time.Time) bool {
	return a.Status == StatusActive && a.ExpiryDate != nil && a.ExpiryDate.Before(t)
}

// StatusChangeRecord captures a single application status transition for audit
type StatusChangeRecord struct {
	UserID        string            `json:"user_id" dynamodbav:"userId"`
	SK            string            `json:"sk" dynamodbav:"sk"`
	ApplicationSK string            `json:"application_sk" dynamodbav:"applicationSK"`
	FromStatus    ApplicationStatus `json:"from_status" dynamodbav:"fromStatus"`
	ToStatus      ApplicationStatus `json:"to_status" dynamodbav:"toStatus"`
	Actor         string            `json:"actor" dynamodbav:"actor"`
	Reason        string            `json:"reason,omitempty" dynamodbav:"reason,omitempty"`
	ChangedAt     time.Time         `json:"changed_at" dynamodbav:"changedAt"`
}

// ApprovalInput carries the operator-provided parameters of an approval
type ApprovalInput struct {
	ExpiryDate time.Time `json:"expiry_date" validate:"required"`
	Actor      string    `json:"actor" validate:"required,min=1,max=100"`
	Notes      string    `json:"notes,omitempty" validate:"max=500"`
}

// RevokeInput carries the operator-provided parameters of a revocation
type RevokeInput struct {
	Actor  string `json:"actor" validate:"required,min=1,max=100"`
	Reason string `json:"reason" validate:"required,min=1,max=500"`
}

// RejectInput carries the operator-provided parameters of a rejection
type RejectInput struct {
	Actor  string `json:"actor" validate:"required,min=1,max=100"`
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// CancelInput identifies who asked for a cancellation
type CancelInput struct {
	Actor string `json:"actor" validate:"required,min=1,max=100"`
}

// FormSubmission represents a validated license application form event.
// JSON names match what the Apps Script form webhook sends, not the API's
// snake_case convention.
type FormSubmission struct {
	UserID        string `json:"userId" validate:"required,min=1,max=100"`
	AccountNumber string `json:"accountNumber" validate:"required,min=1,max=50"`
	EAName        string `json:"eaName" validate:"required,min=1,max=200"`
	Broker        string `json:"broker" validate:"required,min=1,max=100"`
	Email         string `json:"email" validate:"required,email"`
	XAccount      string `json:"xAccount,omitempty" validate:"max=100"`
}

// ApplicationPage is one page of a status-filtered application listing
type ApplicationPage struct {
	Items      []Application `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}
