package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apierrors "sankeyhub/internal/errors"
	"sankeyhub/pkg/contracts/domain"
)

// MemoryStore is an in-memory Store for tests and local development. It
// mirrors the DynamoDB semantics: create-only puts, version-conditional
// updates, and the same sort-key ordering.
type MemoryStore struct {
	mu           sync.RWMutex
	applications map[string]*domain.Application
	history      map[string][]domain.StatusChangeRecord
	tests        map[string]*domain.IntegrationTest
	profiles     map[string]*domain.UserProfile
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		applications: make(map[string]*domain.Application),
		history:      make(map[string][]domain.StatusChangeRecord),
		tests:        make(map[string]*domain.IntegrationTest),
		profiles:     make(map[string]*domain.UserProfile),
	}
}

func memKey(userID, sk string) string {
	return userID + "|" + sk
}

// Ping always succeeds; the map is as reachable as it gets.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// PutApplication creates a new application, failing if the key exists.
func (m *MemoryStore) PutApplication(_ context.Context, app *domain.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memKey(app.UserID, app.SK)
	if _, ok := m.applications[key]; ok {
		return fmt.Errorf("application %s already exists: %w", app.Ref(), apierrors.ErrConditionFailed)
	}
	m.applications[key] = cloneApplication(app)
	return nil
}

// GetApplication returns a copy of the stored application.
func (m *MemoryStore) GetApplication(_ context.Context, ref domain.ApplicationRef) (*domain.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	app, ok := m.applications[memKey(ref.UserID, ref.SK)]
	if !ok {
		return nil, apierrors.NewNotFound("application", ref.String())
	}
	return cloneApplication(app), nil
}

// QueryApplicationsByStatus pages one user's applications in a given status,
// ordered by sort key.
func (m *MemoryStore) QueryApplicationsByStatus(_ context.Context, userID string, status domain.ApplicationStatus, cursor string, limit int32) (*domain.ApplicationPage, error) {
	var after string
	if cursor != "" {
		c, err := decodeCursor(cursor)
		if err != nil {
			return nil, apierrors.NewValidation("cursor", "malformed pagination cursor")
		}
		after = c.SK
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []*domain.Application
	for _, app := range m.applications {
		if app.UserID == userID && app.Status == status {
			matches = append(matches, app)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].SK < matches[j].SK })

	page := &domain.ApplicationPage{Items: make([]domain.Application, 0, len(matches))}
	for _, app := range matches {
		if after != "" && app.SK <= after {
			continue
		}
		if limit > 0 && int32(len(page.Items)) == limit {
			next, err := encodeCursorSK(page.Items[len(page.Items)-1].SK)
			if err != nil {
				return nil, err
			}
			page.NextCursor = next
			return page, nil
		}
		page.Items = append(page.Items, *cloneApplication(app))
	}
	return page, nil
}

// QueryApplicationsByBrokerAccount returns applications matching a trading
// account, any status.
func (m *MemoryStore) QueryApplicationsByBrokerAccount(_ context.Context, broker, accountNumber string) ([]domain.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var apps []domain.Application
	for _, app := range m.applications {
		if app.Broker == broker && app.AccountNumber == accountNumber {
			apps = append(apps, *cloneApplication(app))
		}
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].SK < apps[j].SK })
	return apps, nil
}

// UpdateApplicationConditionally replaces the stored application if its
// version still equals expectedVersion.
func (m *MemoryStore) UpdateApplicationConditionally(_ context.Context, app *domain.Application, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memKey(app.UserID, app.SK)
	stored, ok := m.applications[key]
	if !ok || stored.Version != expectedVersion {
		return fmt.Errorf("application %s at version %d: %w", app.Ref(), expectedVersion, apierrors.ErrConditionFailed)
	}

	app.Version = expectedVersion + 1
	m.applications[key] = cloneApplication(app)
	return nil
}

// AppendHistory writes one status change record, rejecting duplicate keys.
func (m *MemoryStore) AppendHistory(_ context.Context, rec *domain.StatusChangeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memKey(rec.UserID, rec.ApplicationSK)
	for _, existing := range m.history[key] {
		if existing.SK == rec.SK {
			return fmt.Errorf("history %s/%s already written: %w", rec.UserID, rec.SK, apierrors.ErrConditionFailed)
		}
	}
	m.history[key] = append(m.history[key], *rec)
	return nil
}

// ListHistory returns one application's status changes, most recent first.
func (m *MemoryStore) ListHistory(_ context.Context, userID, applicationSK string) ([]domain.StatusChangeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.history[memKey(userID, applicationSK)]
	records := make([]domain.StatusChangeRecord, len(stored))
	copy(records, stored)
	sort.Slice(records, func(i, j int) bool { return records[i].SK > records[j].SK })
	return records, nil
}

// PutIntegrationTest creates a new integration test record.
func (m *MemoryStore) PutIntegrationTest(_ context.Context, test *domain.IntegrationTest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tests[test.TestID]; ok {
		return fmt.Errorf("integration test %s already exists: %w", test.TestID, apierrors.ErrConditionFailed)
	}
	m.tests[test.TestID] = cloneTest(test)
	return nil
}

// GetIntegrationTest returns a copy of the stored test.
func (m *MemoryStore) GetIntegrationTest(_ context.Context, testID string) (*domain.IntegrationTest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	test, ok := m.tests[testID]
	if !ok {
		return nil, apierrors.NewNotFound("integration test", testID)
	}
	return cloneTest(test), nil
}

// UpdateIntegrationTestConditionally replaces the stored test if its version
// still equals expectedVersion.
func (m *MemoryStore) UpdateIntegrationTestConditionally(_ context.Context, test *domain.IntegrationTest, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.tests[test.TestID]
	if !ok || stored.Version != expectedVersion {
		return fmt.Errorf("integration test %s at version %d: %w", test.TestID, expectedVersion, apierrors.ErrConditionFailed)
	}

	test.Version = expectedVersion + 1
	m.tests[test.TestID] = cloneTest(test)
	return nil
}

// GetProfile returns a copy of the stored profile.
func (m *MemoryStore) GetProfile(_ context.Context, userID string) (*domain.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	profile, ok := m.profiles[userID]
	if !ok {
		return nil, apierrors.NewNotFound("profile", userID)
	}
	return cloneProfile(profile), nil
}

// PutProfile creates the per-user profile singleton.
func (m *MemoryStore) PutProfile(_ context.Context, profile *domain.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.profiles[profile.UserID]; ok {
		return fmt.Errorf("profile %s already exists: %w", profile.UserID, apierrors.ErrConditionFailed)
	}
	m.profiles[profile.UserID] = cloneProfile(profile)
	return nil
}

// UpdateProfileConditionally replaces the stored profile if its version
// still equals expectedVersion.
func (m *MemoryStore) UpdateProfileConditionally(_ context.Context, profile *domain.UserProfile, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.profiles[profile.UserID]
	if !ok || stored.Version != expectedVersion {
		return fmt.Errorf("profile %s at version %d: %w", profile.UserID, expectedVersion, apierrors.ErrConditionFailed)
	}

	profile.Version = expectedVersion + 1
	m.profiles[profile.UserID] = cloneProfile(profile)
	return nil
}

// ScanAwaitingNotification returns every application in AwaitingNotification.
func (m *MemoryStore) ScanAwaitingNotification(_ context.Context) ([]domain.Application, error) {
	return m.scanByStatus(domain.StatusAwaitingNotification, nil), nil
}

// ScanActiveExpiring returns Active applications expiring before the given
// instant.
func (m *MemoryStore) ScanActiveExpiring(_ context.Context, before time.Time) ([]domain.Application, error) {
	return m.scanByStatus(domain.StatusActive, func(app *domain.Application) bool {
		return app.ExpiryDate != nil && app.ExpiryDate.Before(before)
	}), nil
}

func (m *MemoryStore) scanByStatus(status domain.ApplicationStatus, keep func(*domain.Application) bool) []domain.Application {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var apps []domain.Application
	for _, app := range m.applications {
		if app.Status != status {
			continue
		}
		if keep != nil && !keep(app) {
			continue
		}
		apps = append(apps, *cloneApplication(app))
	}
	sort.Slice(apps, func(i, j int) bool {
		if apps[i].UserID != apps[j].UserID {
			return apps[i].UserID < apps[j].UserID
		}
		return apps[i].SK < apps[j].SK
	})
	return apps
}

// Len reports stored item counts for test assertions.
func (m *MemoryStore) Len() (applications, tests, profiles int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.applications), len(m.tests), len(m.profiles)
}

// HistoryLen reports the number of history records for one application.
func (m *MemoryStore) HistoryLen(userID, applicationSK string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.history[memKey(userID, applicationSK)])
}

func cloneApplication(app *domain.Application) *domain.Application {
	out := *app
	if app.NotificationScheduledAt != nil {
		t := *app.NotificationScheduledAt
		out.NotificationScheduledAt = &t
	}
	if app.ExpiryDate != nil {
		t := *app.ExpiryDate
		out.ExpiryDate = &t
	}
	return &out
}

func cloneTest(test *domain.IntegrationTest) *domain.IntegrationTest {
	out := *test
	if test.CompletedSteps != nil {
		out.CompletedSteps = make(map[domain.TestStep]time.Time, len(test.CompletedSteps))
		for step, at := range test.CompletedSteps {
			out.CompletedSteps[step] = at
		}
	}
	if test.LastError != nil {
		e := *test.LastError
		out.LastError = &e
	}
	return &out
}

func cloneProfile(profile *domain.UserProfile) *domain.UserProfile {
	out := *profile
	if profile.TestResults != nil {
		results := *profile.TestResults
		if profile.TestResults.DurationMS != nil {
			d := *profile.TestResults.DurationMS
			results.DurationMS = &d
		}
		if profile.TestResults.FailedStep != nil {
			f := *profile.TestResults.FailedStep
			results.FailedStep = &f
		}
		out.TestResults = &results
	}
	return &out
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*DynamoStore)(nil)
