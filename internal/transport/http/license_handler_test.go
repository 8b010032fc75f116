package http

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sankeyhub/pkg/contracts/domain"
)

func decodeTarget(licenseKey, accountID string) string {
	q := url.Values{}
	if licenseKey != "" {
		q.Set("license_key", licenseKey)
	}
	if accountID != "" {
		q.Set("account_id", accountID)
	}
	return "/api/licenses/decode?" + q.Encode()
}

func TestLicenseHandler_Decode(t *testing.T) {
	f := newFixture(t, time.Hour)
	r := f.router()

	seal := func(expiry time.Time) string {
		key, err := f.codec.Encrypt(domain.LicensePayload{
			AccountID: "5001001",
			EAName:    "TrendRider",
			Broker:    "ICMarkets",
			Expiry:    expiry,
			IssuedAt:  time.Now(),
		})
		require.NoError(t, err)
		return key
	}
	validKey := seal(time.Now().Add(24 * time.Hour))
	expiredKey := seal(time.Now().Add(-24 * time.Hour))

	tests := []struct {
		name        string
		licenseKey  string
		accountID   string
		wantVerdict string
	}{
		{
			name:        "valid license",
			licenseKey:  validKey,
			accountID:   "5001001",
			wantVerdict: "Valid",
		},
		{
			name:        "wrong account reads as tampered",
			licenseKey:  validKey,
			accountID:   "9999999",
			wantVerdict: "Tampered",
		},
		{
			name:        "expired license",
			licenseKey:  expiredKey,
			accountID:   "5001001",
			wantVerdict: "Expired",
		},
		{
			name:        "garbage key",
			licenseKey:  "%%%not-base64%%%",
			accountID:   "5001001",
			wantVerdict: "Invalid",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, r, http.MethodGet, decodeTarget(tt.licenseKey, tt.accountID), nil)

			require.Equal(t, http.StatusOK, w.Code)
			body := decodeMap(t, w)
			assert.Equal(t, tt.wantVerdict, body["verdict"])
		})
	}

	t.Run("valid verdict carries the payload", func(t *testing.T) {
		w := doRequest(t, r, http.MethodGet, decodeTarget(validKey, "5001001"), nil)

		require.Equal(t, http.StatusOK, w.Code)
		body := decodeMap(t, w)
		payload := body["payload"].(map[string]interface{})
		assert.Equal(t, "5001001", payload["accountId"])
		assert.Equal(t, "TrendRider", payload["eaName"])
	})
}

func TestLicenseHandler_Decode_MissingParams(t *testing.T) {
	f := newFixture(t, time.Hour)
	r := f.router()

	t.Run("license_key is required", func(t *testing.T) {
		w := doRequest(t, r, http.MethodGet, decodeTarget("", "5001001"), nil)

		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		body := decodeMap(t, w)
		assert.Equal(t, "license_key", body["field"])
	})

	t.Run("account_id is required", func(t *testing.T) {
		w := doRequest(t, r, http.MethodGet, decodeTarget("somekey", ""), nil)

		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		body := decodeMap(t, w)
		assert.Equal(t, "account_id", body["field"])
	})
}
