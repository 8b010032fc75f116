package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "sankeyhub/internal/errors"
	"sankeyhub/pkg/contracts/domain"
)

func newStoredApplication(userID string, appliedAt time.Time, status domain.ApplicationStatus) *domain.Application {
	return &domain.Application{
		UserID:        userID,
		SK:            NewApplicationSK(appliedAt),
		AccountNumber: "5001001",
		EAName:        "TrendRider",
		Broker:        "ICMarkets",
		Email:         "trader@example.com",
		Status:        status,
		AppliedAt:     appliedAt,
		UpdatedAt:     appliedAt,
		Version:       1,
	}
}

func TestMemoryStore_PutAndGetApplication(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	app := newStoredApplication("user-1", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), domain.StatusPending)

	require.NoError(t, store.PutApplication(ctx, app))

	got, err := store.GetApplication(ctx, app.Ref())
	require.NoError(t, err)
	assert.Equal(t, app, got)

	err = store.PutApplication(ctx, app)
	assert.ErrorIs(t, err, apierrors.ErrConditionFailed)

	_, err = store.GetApplication(ctx, domain.ApplicationRef{UserID: "user-1", SK: "APPLICATION#missing"})
	assert.ErrorIs(t, err, apierrors.ErrItemNotFound)
}

func TestMemoryStore_GetApplicationReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	expiry := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	app := newStoredApplication("user-1", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), domain.StatusActive)
	app.ExpiryDate = &expiry
	require.NoError(t, store.PutApplication(ctx, app))

	got, err := store.GetApplication(ctx, app.Ref())
	require.NoError(t, err)
	got.Status = domain.StatusRevoked
	*got.ExpiryDate = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	fresh, err := store.GetApplication(ctx, app.Ref())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, fresh.Status)
	assert.True(t, fresh.ExpiryDate.Equal(expiry))
}

func TestMemoryStore_UpdateApplicationConditionally(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	app := newStoredApplication("user-1", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), domain.StatusPending)
	require.NoError(t, store.PutApplication(ctx, app))

	app.Status = domain.StatusAwaitingNotification
	require.NoError(t, store.UpdateApplicationConditionally(ctx, app, 1))
	assert.Equal(t, int64(2), app.Version)

	stored, err := store.GetApplication(ctx, app.Ref())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingNotification, stored.Status)
	assert.Equal(t, int64(2), stored.Version)

	stale := newStoredApplication("user-1", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), domain.StatusActive)
	err = store.UpdateApplicationConditionally(ctx, stale, 1)
	assert.ErrorIs(t, err, apierrors.ErrConditionFailed)
	assert.Equal(t, int64(1), stale.Version)

	missing := newStoredApplication("user-2", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), domain.StatusPending)
	err = store.UpdateApplicationConditionally(ctx, missing, 1)
	assert.ErrorIs(t, err, apierrors.ErrConditionFailed)
}

func TestMemoryStore_QueryApplicationsByStatus(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		app := newStoredApplication("user-1", base.AddDate(0, 0, i), domain.StatusPending)
		require.NoError(t, store.PutApplication(ctx, app))
	}
	other := newStoredApplication("user-1", base.AddDate(0, 1, 0), domain.StatusActive)
	require.NoError(t, store.PutApplication(ctx, other))

	page, err := store.QueryApplicationsByStatus(ctx, "user-1", domain.StatusPending, "", 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	assert.Less(t, page.Items[0].SK, page.Items[1].SK)

	rest, err := store.QueryApplicationsByStatus(ctx, "user-1", domain.StatusPending, page.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, rest.Items, 1)
	assert.Empty(t, rest.NextCursor)
	assert.Greater(t, rest.Items[0].SK, page.Items[1].SK)

	all, err := store.QueryApplicationsByStatus(ctx, "user-1", domain.StatusPending, "", 0)
	require.NoError(t, err)
	assert.Len(t, all.Items, 3)

	empty, err := store.QueryApplicationsByStatus(ctx, "user-2", domain.StatusPending, "", 0)
	require.NoError(t, err)
	assert.Empty(t, empty.Items)
}

func TestMemoryStore_QueryApplicationsByStatus_MalformedCursor(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.QueryApplicationsByStatus(context.Background(), "user-1", domain.StatusPending, "@@@", 10)

	var verr *apierrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "cursor", verr.Field)
}

func TestMemoryStore_QueryApplicationsByBrokerAccount(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mine := newStoredApplication("user-1", base, domain.StatusActive)
	require.NoError(t, store.PutApplication(ctx, mine))

	foreign := newStoredApplication("user-2", base.AddDate(0, 0, 1), domain.StatusPending)
	foreign.AccountNumber = "9009009"
	require.NoError(t, store.PutApplication(ctx, foreign))

	apps, err := store.QueryApplicationsByBrokerAccount(ctx, "ICMarkets", "5001001")
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "user-1", apps[0].UserID)

	none, err := store.QueryApplicationsByBrokerAccount(ctx, "ICMarkets", "0000000")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_History(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	appSK := "APPLICATION#2025-01-01T00:00:00Z"
	changed := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	first := &domain.StatusChangeRecord{
		UserID:        "user-1",
		SK:            HistorySK(appSK, 2),
		ApplicationSK: appSK,
		FromStatus:    domain.StatusPending,
		ToStatus:      domain.StatusAwaitingNotification,
		Actor:         "admin",
		ChangedAt:     changed,
	}
	second := &domain.StatusChangeRecord{
		UserID:        "user-1",
		SK:            HistorySK(appSK, 3),
		ApplicationSK: appSK,
		FromStatus:    domain.StatusAwaitingNotification,
		ToStatus:      domain.StatusActive,
		Actor:         "scheduler",
		ChangedAt:     changed.Add(time.Hour),
	}

	require.NoError(t, store.AppendHistory(ctx, first))
	require.NoError(t, store.AppendHistory(ctx, second))

	err := store.AppendHistory(ctx, first)
	assert.ErrorIs(t, err, apierrors.ErrConditionFailed)

	records, err := store.ListHistory(ctx, "user-1", appSK)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, domain.StatusActive, records[0].ToStatus)
	assert.Equal(t, domain.StatusAwaitingNotification, records[1].ToStatus)

	assert.Equal(t, 2, store.HistoryLen("user-1", appSK))
}

func TestMemoryStore_IntegrationTestLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	started := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	test := &domain.IntegrationTest{
		TestID:            "INTEGRATION_1736899200000_a1b2c3d4",
		GASWebappURL:      "https://script.google.com/macros/s/abc/exec",
		CurrentStep:       domain.StepStarted,
		CurrentStepStatus: domain.StepStatusSuccess,
		StartedAt:         started,
		LastUpdated:       started,
		CompletedSteps:    map[domain.TestStep]time.Time{domain.StepStarted: started},
		Version:           1,
	}

	require.NoError(t, store.PutIntegrationTest(ctx, test))
	assert.ErrorIs(t, store.PutIntegrationTest(ctx, test), apierrors.ErrConditionFailed)

	got, err := store.GetIntegrationTest(ctx, test.TestID)
	require.NoError(t, err)
	assert.Equal(t, test, got)

	got.CompletedSteps[domain.StepCompleted] = started.Add(time.Minute)
	fresh, err := store.GetIntegrationTest(ctx, test.TestID)
	require.NoError(t, err)
	assert.NotContains(t, fresh.CompletedSteps, domain.StepCompleted)

	test.CurrentStep = domain.StepGASWebhookReceived
	require.NoError(t, store.UpdateIntegrationTestConditionally(ctx, test, 1))
	assert.Equal(t, int64(2), test.Version)

	err = store.UpdateIntegrationTestConditionally(ctx, test, 1)
	assert.ErrorIs(t, err, apierrors.ErrConditionFailed)
	assert.Equal(t, int64(2), test.Version)

	_, err = store.GetIntegrationTest(ctx, "INTEGRATION_0_missing")
	assert.ErrorIs(t, err, apierrors.ErrItemNotFound)
}

func TestMemoryStore_ProfileLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	profile := domain.NewUserProfile("user-1", now)

	require.NoError(t, store.PutProfile(ctx, profile))
	assert.ErrorIs(t, store.PutProfile(ctx, profile), apierrors.ErrConditionFailed)

	got, err := store.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, profile, got)

	duration := int64(4250)
	profile.SetupPhase = domain.PhaseTest
	profile.TestResults = &domain.TestResultSummary{
		TestID:      "INTEGRATION_1736899200000_a1b2c3d4",
		Completed:   true,
		Progress:    100,
		LastUpdated: now.Add(time.Minute),
		DurationMS:  &duration,
	}
	require.NoError(t, store.UpdateProfileConditionally(ctx, profile, 1))
	assert.Equal(t, int64(2), profile.Version)

	got, err = store.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	*got.TestResults.DurationMS = 1
	fresh, err := store.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4250), *fresh.TestResults.DurationMS)

	err = store.UpdateProfileConditionally(ctx, profile, 1)
	assert.ErrorIs(t, err, apierrors.ErrConditionFailed)

	_, err = store.GetProfile(ctx, "user-2")
	assert.ErrorIs(t, err, apierrors.ErrItemNotFound)
}

func TestMemoryStore_ScanAwaitingNotification(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	waiting := newStoredApplication("user-1", base, domain.StatusAwaitingNotification)
	require.NoError(t, store.PutApplication(ctx, waiting))
	active := newStoredApplication("user-2", base.AddDate(0, 0, 1), domain.StatusActive)
	require.NoError(t, store.PutApplication(ctx, active))

	apps, err := store.ScanAwaitingNotification(ctx)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "user-1", apps[0].UserID)
}

func TestMemoryStore_ScanActiveExpiring(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cutoff := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	lapsed := newStoredApplication("user-1", base, domain.StatusActive)
	lapsedExpiry := cutoff.Add(-time.Hour)
	lapsed.ExpiryDate = &lapsedExpiry
	require.NoError(t, store.PutApplication(ctx, lapsed))

	current := newStoredApplication("user-2", base.AddDate(0, 0, 1), domain.StatusActive)
	currentExpiry := cutoff.Add(time.Hour)
	current.ExpiryDate = &currentExpiry
	require.NoError(t, store.PutApplication(ctx, current))

	perpetual := newStoredApplication("user-3", base.AddDate(0, 0, 2), domain.StatusActive)
	require.NoError(t, store.PutApplication(ctx, perpetual))

	due, err := store.ScanActiveExpiring(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "user-1", due[0].UserID)
}
