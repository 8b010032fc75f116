package notify

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"strings"

	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	apierrors "sankeyhub/internal/errors"
)

// GmailNotifier sends license mail through the Gmail API using a service
// account with domain-wide delegation to the configured sender address.
type GmailNotifier struct {
	service *gmail.Service
	sender  string
	logger  *slog.Logger
}

// NewGmailNotifier builds a notifier impersonating sender with the given
// service account JSON.
func NewGmailNotifier(ctx context.Context, sender string, credentialsJSON []byte, logger *slog.Logger) (*GmailNotifier, error) {
	if sender == "" {
		return nil, apierrors.NewValidation("notification.gmail_sender", "is required in gmail mode")
	}
	if len(credentialsJSON) == 0 {
		return nil, apierrors.NewValidation("notification.gmail_credentials", "is required in gmail mode")
	}
	if logger == nil {
		logger = slog.Default()
	}

	jwtConfig, err := google.JWTConfigFromJSON(credentialsJSON, gmail.GmailSendScope)
	if err != nil {
		return nil, fmt.Errorf("parse gmail credentials: %w", err)
	}
	jwtConfig.Subject = sender

	service, err := gmail.NewService(ctx, option.WithHTTPClient(jwtConfig.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	return &GmailNotifier{
		service: service,
		sender:  sender,
		logger:  logger.With(slog.String("component", "notify")),
	}, nil
}

// Send delivers the notification as email.
func (g *GmailNotifier) Send(ctx context.Context, n Notification) error {
	if n.Email == "" {
		return apierrors.NewValidation("email", "notification has no recipient")
	}

	msg := &gmail.Message{Raw: encodeMessage(g.sender, n.Email, n.Subject, n.Body)}
	if _, err := g.service.Users.Messages.Send("me", msg).Context(ctx).Do(); err != nil {
		return fmt.Errorf("send mail to %s: %w", n.Email, err)
	}

	g.logger.InfoContext(ctx, "notification delivered",
		slog.String("user_id", n.UserID),
		slog.String("email", n.Email))
	return nil
}

// encodeMessage renders an RFC 2822 message and base64url-encodes it the
// way the Gmail API expects.
func encodeMessage(from, to, subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return base64.URLEncoding.EncodeToString([]byte(b.String()))
}
