// Package integration tracks end-to-end integration test runs against a
// deployed Google Apps Script web app.
//
// A run walks four fixed steps, STARTED, GAS_WEBHOOK_RECEIVED,
// LICENSE_ISSUED and COMPLETED. Progress reports arrive over the webhook or
// the REST step endpoint and may be duplicated or out of order; currentStep
// and currentStepStatus always reflect the latest report, while
// completedSteps accumulates confirmed successes and is the sole input to
// progress and completion calculations.
//
// The pure step functions operate on domain.IntegrationTest values. Tracker
// adds persistence with version-conditioned writes.
package integration
