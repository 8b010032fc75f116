package exporter

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sankeyhub/pkg/contracts/domain"
)

func TestWriteApplicationsCSV(t *testing.T) {
	applied := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	expiry := time.Date(2026, 3, 31, 23, 59, 59, 0, time.UTC)
	apps := []domain.Application{
		{
			UserID:        "user-1",
			AccountNumber: "5001001",
			EAName:        "TrendRider",
			Broker:        "ICMarkets",
			Email:         "trader@example.com",
			XAccount:      "@trendrider",
			Status:        domain.StatusActive,
			LicenseKey:    "sealed",
			ExpiryDate:    &expiry,
			AppliedAt:     applied,
			UpdatedAt:     applied.Add(time.Hour),
		},
		{
			UserID:        "user-1",
			AccountNumber: "5001002",
			EAName:        "ScalperX",
			Broker:        "Pepperstone",
			Email:         "trader@example.com",
			Status:        domain.StatusPending,
			AppliedAt:     applied.AddDate(0, 0, 18),
			UpdatedAt:     applied.AddDate(0, 0, 18),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteApplicationsCSV(&buf, apps))

	out := buf.Bytes()
	require.True(t, bytes.HasPrefix(out, utf8BOM), "missing UTF-8 BOM")

	rows, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(out, utf8BOM))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, applicationColumns, rows[0])

	assert.Equal(t, "2025-03-14T09:26:53Z", rows[1][0])
	assert.Equal(t, "Active", rows[1][1])
	assert.Equal(t, "TrendRider", rows[1][2])
	assert.Equal(t, "true", rows[1][7])
	assert.Equal(t, "2026-03-31T23:59:59Z", rows[1][8])

	assert.Equal(t, "Pending", rows[2][1])
	assert.Equal(t, "false", rows[2][7])
	assert.Equal(t, "", rows[2][8])
}

func TestWriteApplicationsCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteApplicationsCSV(&buf, nil))

	rows, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(buf.Bytes(), utf8BOM))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, applicationColumns, rows[0])
}

func TestFormatOptionalTime(t *testing.T) {
	assert.Equal(t, "", formatOptionalTime(nil))

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.FixedZone("UTC+3", 3*3600))
	assert.Equal(t, "2025-06-01T09:00:00Z", formatOptionalTime(&ts))
}
