package store

import (
	"time"

	"sankeyhub/pkg/contracts/domain"
)

// applicationItem is the stored shape of an application: the domain
// attributes plus table bookkeeping the domain layer never sees. The ttl
// attribute is present only on terminal-status items, so DynamoDB's expiry
// never touches a live application.
type applicationItem struct {
	domain.Application
	Kind string `dynamodbav:"kind"`
	TTL  *int64 `dynamodbav:"ttl,omitempty"`
}

func newApplicationItem(app *domain.Application, retentionMonths int) applicationItem {
	item := applicationItem{Application: *app, Kind: KindApplication}
	if app.Status.IsTerminal() {
		item.TTL = terminalTTL(app.UpdatedAt, retentionMonths)
	}
	return item
}

// historyItem wraps a status change record. The record closing an
// application (transition into a terminal status) carries the same ttl as
// the application item it belongs to.
type historyItem struct {
	domain.StatusChangeRecord
	Kind string `dynamodbav:"kind"`
	TTL  *int64 `dynamodbav:"ttl,omitempty"`
}

func newHistoryItem(rec *domain.StatusChangeRecord, retentionMonths int) historyItem {
	item := historyItem{StatusChangeRecord: *rec, Kind: KindHistory}
	if rec.ToStatus.IsTerminal() {
		item.TTL = terminalTTL(rec.ChangedAt, retentionMonths)
	}
	return item
}

// integrationItem stores a test under the synthetic partition TEST#<testId>
// with the fixed INTEGRATION sort key.
type integrationItem struct {
	domain.IntegrationTest
	UserID string `dynamodbav:"userId"`
	SK     string `dynamodbav:"sk"`
	Kind   string `dynamodbav:"kind"`
}

func newIntegrationItem(test *domain.IntegrationTest) integrationItem {
	return integrationItem{
		IntegrationTest: *test,
		UserID:          TestPK(test.TestID),
		SK:              IntegrationSK,
		Kind:            KindIntegration,
	}
}

// profileItem stores the per-user singleton profile.
type profileItem struct {
	domain.UserProfile
	SK   string `dynamodbav:"sk"`
	Kind string `dynamodbav:"kind"`
}

func newProfileItem(profile *domain.UserProfile) profileItem {
	return profileItem{UserProfile: *profile, SK: ProfileSK, Kind: KindProfile}
}

// terminalTTL computes the purge instant for a terminal record as epoch
// seconds, retentionMonths calendar months after the closing write.
func terminalTTL(updatedAt time.Time, retentionMonths int) *int64 {
	ttl := updatedAt.AddDate(0, retentionMonths, 0).Unix()
	return &ttl
}
