package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewApplicationSK(t *testing.T) {
	applied := time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.FixedZone("AST", 3*3600))

	sk := NewApplicationSK(applied)

	assert.Equal(t, "APPLICATION#2025-03-14T06:26:53.589Z", sk)
	assert.True(t, IsApplicationSK(sk))
}

func TestNewApplicationSK_OrdersByTime(t *testing.T) {
	first := NewApplicationSK(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))
	second := NewApplicationSK(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))

	assert.Less(t, first, second)
}

func TestIsApplicationSK(t *testing.T) {
	assert.True(t, IsApplicationSK("APPLICATION#2025-01-01T00:00:00Z"))
	assert.False(t, IsApplicationSK(ProfileSK))
	assert.False(t, IsApplicationSK("HISTORY#2025-01-01T00:00:00Z#000001"))
	assert.False(t, IsApplicationSK(""))
}

func TestHistorySK(t *testing.T) {
	appSK := "APPLICATION#2025-01-01T00:00:00Z"

	assert.Equal(t, "HISTORY#2025-01-01T00:00:00Z#000002", HistorySK(appSK, 2))
	assert.Equal(t, "HISTORY#2025-01-01T00:00:00Z#000010", HistorySK(appSK, 10))
}

func TestHistorySK_ZeroPaddingOrdersNumerically(t *testing.T) {
	appSK := "APPLICATION#2025-01-01T00:00:00Z"

	// Without padding, "10" would sort before "2" and history replay order
	// would break past nine transitions.
	assert.Less(t, HistorySK(appSK, 2), HistorySK(appSK, 10))
	assert.Less(t, HistorySK(appSK, 99), HistorySK(appSK, 100))
}

func TestHistorySKPrefix(t *testing.T) {
	prefix := HistorySKPrefix("APPLICATION#2025-01-01T00:00:00Z")

	assert.Equal(t, "HISTORY#2025-01-01T00:00:00Z#", prefix)
}

func TestTestPK(t *testing.T) {
	assert.Equal(t, "TEST#INTEGRATION_1736899200000_a1b2c3d4", TestPK("INTEGRATION_1736899200000_a1b2c3d4"))
}
