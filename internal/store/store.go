// Package store persists the hub's single-table layout: applications, their
// status history, integration tests and user profiles share one DynamoDB
// table keyed by (userId, sk), with a kind attribute distinguishing item
// types. Every lifecycle-bearing write is a conditional put on the observed
// version; a lost condition reports errors.ErrConditionFailed so callers can
// re-read and retry. A MemoryStore mirrors the same semantics for tests.
package store

import (
	"context"
	"time"

	"sankeyhub/pkg/contracts/domain"
)

// Store is the persistence contract for the license hub.
//
// The conditional update methods write the given entity if and only if the
// stored item still carries expectedVersion; on success the entity's Version
// is advanced to expectedVersion+1 in place. A failed condition wraps
// errors.ErrConditionFailed and leaves both the store and the entity
// unchanged.
type Store interface {
	// Ping verifies the backing table is reachable.
	Ping(ctx context.Context) error

	// Applications
	PutApplication(ctx context.Context, app *domain.Application) error
	GetApplication(ctx context.Context, ref domain.ApplicationRef) (*domain.Application, error)
	QueryApplicationsByStatus(ctx context.Context, userID string, status domain.ApplicationStatus, cursor string, limit int32) (*domain.ApplicationPage, error)
	QueryApplicationsByBrokerAccount(ctx context.Context, broker, accountNumber string) ([]domain.Application, error)
	UpdateApplicationConditionally(ctx context.Context, app *domain.Application, expectedVersion int64) error

	// Status history
	AppendHistory(ctx context.Context, rec *domain.StatusChangeRecord) error
	ListHistory(ctx context.Context, userID, applicationSK string) ([]domain.StatusChangeRecord, error)

	// Integration tests
	PutIntegrationTest(ctx context.Context, test *domain.IntegrationTest) error
	GetIntegrationTest(ctx context.Context, testID string) (*domain.IntegrationTest, error)
	UpdateIntegrationTestConditionally(ctx context.Context, test *domain.IntegrationTest, expectedVersion int64) error

	// Profiles
	GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error)
	PutProfile(ctx context.Context, profile *domain.UserProfile) error
	UpdateProfileConditionally(ctx context.Context, profile *domain.UserProfile, expectedVersion int64) error

	// Sweeps
	ScanAwaitingNotification(ctx context.Context) ([]domain.Application, error)
	ScanActiveExpiring(ctx context.Context, before time.Time) ([]domain.Application, error)
}
