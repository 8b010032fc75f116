package store

import (
	"fmt"
	"strings"
	"time"
)

// Item kinds stored in the table (attribute "kind").
const (
	KindApplication = "APPLICATION"
	KindHistory     = "HISTORY"
	KindIntegration = "INTEGRATION"
	KindProfile     = "PROFILE"
)

// Fixed sort keys for singleton items.
const (
	ProfileSK     = "PROFILE"
	IntegrationSK = "INTEGRATION"
)

const (
	applicationPrefix = "APPLICATION#"
	historyPrefix     = "HISTORY#"
	testPKPrefix      = "TEST#"
)

// NewApplicationSK builds the sort key for an application created at t.
func NewApplicationSK(t time.Time) string {
	return applicationPrefix + t.UTC().Format(time.RFC3339Nano)
}

// IsApplicationSK reports whether sk names an application item.
func IsApplicationSK(sk string) bool {
	return strings.HasPrefix(sk, applicationPrefix)
}

// ApplicationIDFromSK strips the item prefix, leaving the creation
// timestamp clients use as the application id in URLs.
func ApplicationIDFromSK(sk string) string {
	return strings.TrimPrefix(sk, applicationPrefix)
}

// ApplicationSKFromID rebuilds the sort key from a URL application id.
// Accepts the full sort key too, so callers can pass either form.
func ApplicationSKFromID(id string) string {
	if strings.HasPrefix(id, applicationPrefix) {
		return id
	}
	return applicationPrefix + id
}

// HistorySK builds the sort key for the seq-th status change of an
// application. The zero-padded sequence keeps history in write order under
// lexicographic sort, so ListHistory can walk it backwards.
func HistorySK(applicationSK string, seq int64) string {
	return fmt.Sprintf("%s%s#%06d", historyPrefix, strings.TrimPrefix(applicationSK, applicationPrefix), seq)
}

// HistorySKPrefix is the begins_with prefix selecting one application's
// history records.
func HistorySKPrefix(applicationSK string) string {
	return historyPrefix + strings.TrimPrefix(applicationSK, applicationPrefix) + "#"
}

// TestPK builds the partition key under which an integration test lives.
func TestPK(testID string) string {
	return testPKPrefix + testID
}
