package integration

import (
	"net/url"
	"strings"

	apierrors "sankeyhub/internal/errors"
)

// ValidateGASWebappURL checks that a reported URL is a deployed Apps Script
// web app endpoint: https, a Google script host, and a /macros/ exec path.
// Everything else is rejected before the tracker ever calls out to it.
func ValidateGASWebappURL(raw string) error {
	if raw == "" {
		return apierrors.NewValidation("gas_webapp_url", "is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return apierrors.NewValidation("gas_webapp_url", "is not a valid URL")
	}
	if u.Scheme != "https" {
		return apierrors.NewValidation("gas_webapp_url", "must use https")
	}

	switch u.Hostname() {
	case "script.google.com", "script.googleusercontent.com":
	default:
		return apierrors.NewValidation("gas_webapp_url", "must be a Google Apps Script host")
	}

	if !strings.Contains(u.Path, "/macros/") {
		return apierrors.NewValidation("gas_webapp_url", "must be a web app /macros/ path")
	}
	if strings.Contains(u.Path, "..") {
		return apierrors.NewValidation("gas_webapp_url", "path contains traversal segments")
	}
	if strings.Contains(strings.TrimPrefix(u.Path, "/"), "//") {
		return apierrors.NewValidation("gas_webapp_url", "path contains empty segments")
	}
	return nil
}
