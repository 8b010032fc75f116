// Package notify delivers license notifications to applicants once the
// scheduler claims an AwaitingNotification application.
//
// Three implementations exist: GmailNotifier sends mail through the Gmail
// API with a delegated service account, WebhookNotifier posts a signed JSON
// event to an HTTPS endpoint (typically the Apps Script web app that mails
// the applicant), and NoopNotifier logs and discards, for development and
// tests. Selection is by the notification mode in config.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sankeyhub/internal/config"
	apierrors "sankeyhub/internal/errors"
	"sankeyhub/pkg/contracts/domain"
)

// Notification is one deliverable license message.
type Notification struct {
	UserID        string    `json:"user_id"`
	Email         string    `json:"email"`
	Subject       string    `json:"subject"`
	Body          string    `json:"body"`
	LicenseKey    string    `json:"license_key"`
	ApplicationSK string    `json:"application_sk"`
	EAName        string    `json:"ea_name"`
	Expiry        time.Time `json:"expiry,omitempty"`
}

// Notifier delivers a notification. Send is invoked after the sending
// transition has been claimed; implementations report failure but must not
// retry internally, the surrounding infrastructure owns redelivery.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// FromApplication renders the license-issued notification for an approved
// application.
func FromApplication(app *domain.Application) Notification {
	n := Notification{
		UserID:        app.UserID,
		Email:         app.Email,
		Subject:       fmt.Sprintf("Your %s license is ready", app.EAName),
		LicenseKey:    app.LicenseKey,
		ApplicationSK: app.SK,
		EAName:        app.EAName,
	}
	if app.ExpiryDate != nil {
		n.Expiry = *app.ExpiryDate
		n.Body = fmt.Sprintf(
			"Your %s license for account %s (%s) is active.\n\nLicense key:\n%s\n\nValid until %s.",
			app.EAName, app.AccountNumber, app.Broker, app.LicenseKey,
			app.ExpiryDate.UTC().Format("2 January 2006"))
	} else {
		n.Body = fmt.Sprintf(
			"Your %s license for account %s (%s) is active.\n\nLicense key:\n%s",
			app.EAName, app.AccountNumber, app.Broker, app.LicenseKey)
	}
	return n
}

// New builds the notifier selected by cfg.Mode. Gmail credentials are
// passed in decrypted, the caller owns loading them.
func New(ctx context.Context, cfg config.NotificationConfig, gmailCredentials []byte, logger *slog.Logger) (Notifier, error) {
	switch cfg.Mode {
	case "gmail":
		return NewGmailNotifier(ctx, cfg.GmailSender, gmailCredentials, logger)
	case "webhook":
		return NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookSecret, logger)
	case "noop", "":
		return NewNoopNotifier(logger), nil
	}
	return nil, apierrors.NewValidation("notification.mode", fmt.Sprintf("unknown mode %q", cfg.Mode))
}
