package license

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sankeyhub/pkg/contracts/domain"
)

// Envelope sealed by the issuing pipeline for account 1234 with
// testMasterKeyB64. Payload: eaName MyEA, expiry 2025-12-31T23:59:59Z.
// The EA terminal ships the same fixture, so both sides of the protocol
// are pinned to one known envelope.
const (
	testMasterKeyB64 = "9H6DEu8Z0Mipgz1djyM4eUeBqZ9AqzenZHmhh7UBWTw="
	testLicenseKey   = "ht4AoFy8o2UWNSBqCIcnLaAQqq6iAWjHrB3xZU+UA571yv/soPmyCTLSDClOQSsOiDcn1mFk1CpspKT5pErhT6v7ua8aHIwLghnzcEC2qfo/gdX9HvX/RHZ7eLOEOH2TU6iSf22LpX9N9B9+7pTm6+oLJV0U5VVfGwT4Q3MVZCs="
	testAccountID    = "1234"
)

var (
	beforeExpiry = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	afterExpiry  = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	vectorExpiry = time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC)
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	key, err := ParseMasterKey(testMasterKeyB64)
	require.NoError(t, err)
	codec, err := NewCodec(key)
	require.NoError(t, err)
	return codec
}

func TestNewCodec_KeyLength(t *testing.T) {
	_, err := NewCodec(make([]byte, 16))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")

	codec, err := NewCodec(make([]byte, KeySize))
	require.NoError(t, err)
	assert.NotNil(t, codec)
}

func TestCodec_DecodeKnownEnvelope(t *testing.T) {
	codec := newTestCodec(t)

	result := codec.DecodeAt(testLicenseKey, testAccountID, beforeExpiry)

	require.Equal(t, domain.VerdictValid, result.Verdict)
	require.NotNil(t, result.Payload)
	assert.Equal(t, "1234", result.Payload.AccountID)
	assert.Equal(t, "MyEA", result.Payload.EAName)
	assert.True(t, result.Payload.Expiry.Equal(vectorExpiry))
}

func TestCodec_DecodeAt(t *testing.T) {
	codec := newTestCodec(t)

	tests := []struct {
		name        string
		licenseKey  string
		accountID   string
		now         time.Time
		verdict     domain.LicenseVerdict
		wantPayload bool
	}{
		{
			name:        "valid before expiry",
			licenseKey:  testLicenseKey,
			accountID:   testAccountID,
			now:         beforeExpiry,
			verdict:     domain.VerdictValid,
			wantPayload: true,
		},
		{
			name:        "valid exactly at expiry",
			licenseKey:  testLicenseKey,
			accountID:   testAccountID,
			now:         vectorExpiry,
			verdict:     domain.VerdictValid,
			wantPayload: true,
		},
		{
			name:        "expired after expiry",
			licenseKey:  testLicenseKey,
			accountID:   testAccountID,
			now:         afterExpiry,
			verdict:     domain.VerdictExpired,
			wantPayload: true,
		},
		{
			name:       "tampered for foreign account",
			licenseKey: testLicenseKey,
			accountID:  "9999",
			now:        beforeExpiry,
			verdict:    domain.VerdictTampered,
		},
		{
			name:       "invalid for empty license",
			licenseKey: "",
			accountID:  testAccountID,
			now:        beforeExpiry,
			verdict:    domain.VerdictInvalid,
		},
		{
			name:       "invalid for malformed base64",
			licenseKey: "InvalidBase64!@#$",
			accountID:  testAccountID,
			now:        beforeExpiry,
			verdict:    domain.VerdictInvalid,
		},
		{
			name:       "invalid for short envelope",
			licenseKey: base64.StdEncoding.EncodeToString(make([]byte, headerSize-1)),
			accountID:  testAccountID,
			now:        beforeExpiry,
			verdict:    domain.VerdictInvalid,
		},
		{
			name:       "tampered for unauthenticated envelope",
			licenseKey: base64.StdEncoding.EncodeToString(make([]byte, headerSize+aes.BlockSize)),
			accountID:  testAccountID,
			now:        beforeExpiry,
			verdict:    domain.VerdictTampered,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := codec.DecodeAt(tt.licenseKey, tt.accountID, tt.now)

			assert.Equal(t, tt.verdict, result.Verdict)
			if tt.wantPayload {
				assert.NotNil(t, result.Payload)
			} else {
				assert.Nil(t, result.Payload)
				assert.NotEmpty(t, result.Message)
			}
		})
	}
}

func TestCodec_DecodeWrongMasterKey(t *testing.T) {
	codec, err := NewCodec(bytes.Repeat([]byte{'A'}, KeySize))
	require.NoError(t, err)

	result := codec.DecodeAt(testLicenseKey, testAccountID, beforeExpiry)

	assert.Equal(t, domain.VerdictTampered, result.Verdict)
	assert.Nil(t, result.Payload)
}

func TestCodec_ExpiredKeepsPayload(t *testing.T) {
	codec := newTestCodec(t)

	result := codec.DecodeAt(testLicenseKey, testAccountID, afterExpiry)

	require.Equal(t, domain.VerdictExpired, result.Verdict)
	require.NotNil(t, result.Payload)
	assert.Equal(t, "MyEA", result.Payload.EAName)
	assert.Contains(t, result.Message, "2025-12-31T23:59:59Z")
}

func TestCodec_RoundTrip(t *testing.T) {
	codec := newTestCodec(t)

	payload := domain.LicensePayload{
		AccountID: "8821004",
		EAName:    "SankeyTrendRider",
		Broker:    "IC Markets",
		Email:     "trader@example.com",
		Expiry:    time.Date(2027, 3, 15, 12, 0, 0, 0, time.UTC),
		IssuedAt:  time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
		LicenseID: "LIC-20260315-0001",
	}

	licenseKey, err := codec.Encrypt(payload)
	require.NoError(t, err)
	require.NotEmpty(t, licenseKey)

	result := codec.DecodeAt(licenseKey, payload.AccountID, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))

	require.Equal(t, domain.VerdictValid, result.Verdict)
	require.NotNil(t, result.Payload)
	assert.Equal(t, payload.AccountID, result.Payload.AccountID)
	assert.Equal(t, payload.EAName, result.Payload.EAName)
	assert.Equal(t, payload.Broker, result.Payload.Broker)
	assert.Equal(t, payload.Email, result.Payload.Email)
	assert.Equal(t, payload.LicenseID, result.Payload.LicenseID)
	assert.True(t, result.Payload.Expiry.Equal(payload.Expiry))
	assert.True(t, result.Payload.IssuedAt.Equal(payload.IssuedAt))
}

func TestCodec_EncryptRandomizesIV(t *testing.T) {
	codec := newTestCodec(t)
	payload := domain.LicensePayload{
		AccountID: "555",
		EAName:    "GridHedger",
		Expiry:    time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	first, err := codec.Encrypt(payload)
	require.NoError(t, err)
	second, err := codec.Encrypt(payload)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, domain.VerdictValid, codec.DecodeAt(first, "555", beforeExpiry).Verdict)
	assert.Equal(t, domain.VerdictValid, codec.DecodeAt(second, "555", beforeExpiry).Verdict)
}

func TestCodec_EncryptBindsAccount(t *testing.T) {
	codec := newTestCodec(t)
	payload := domain.LicensePayload{
		AccountID: "111",
		EAName:    "ScalperPro",
		Expiry:    time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	licenseKey, err := codec.Encrypt(payload)
	require.NoError(t, err)

	assert.Equal(t, domain.VerdictValid, codec.DecodeAt(licenseKey, "111", beforeExpiry).Verdict)
	assert.Equal(t, domain.VerdictTampered, codec.DecodeAt(licenseKey, "222", beforeExpiry).Verdict)
}

func TestCodec_EncryptValidation(t *testing.T) {
	codec := newTestCodec(t)

	_, err := codec.Encrypt(domain.LicensePayload{EAName: "NoAccount"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account id")

	_, err = codec.Encrypt(domain.LicensePayload{AccountID: "123"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EA name")
}

func TestCodec_NoExpiryVerifiesValid(t *testing.T) {
	codec := newTestCodec(t)
	payload := domain.LicensePayload{AccountID: "777", EAName: "Lifetime"}

	licenseKey, err := codec.Encrypt(payload)
	require.NoError(t, err)

	result := codec.DecodeAt(licenseKey, "777", time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC))

	require.Equal(t, domain.VerdictValid, result.Verdict)
	require.NotNil(t, result.Payload)
	assert.True(t, result.Payload.Expiry.IsZero())
}

// sealRaw assembles an envelope around arbitrary plaintext, bypassing
// Encrypt's payload handling.
func sealRaw(t *testing.T, codec *Codec, plaintext []byte, accountID string, pad bool) string {
	t.Helper()

	iv := bytes.Repeat([]byte{0x24}, ivSize)
	if pad {
		plaintext = pkcs7Pad(plaintext, aes.BlockSize)
	}
	require.Zero(t, len(plaintext)%aes.BlockSize)

	block, err := aes.NewCipher(codec.key)
	require.NoError(t, err)
	ciphertext := make([]byte, len(plaintext))
	if len(plaintext) > 0 {
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)
	}

	envelope := make([]byte, 0, headerSize+len(ciphertext))
	envelope = append(envelope, iv...)
	envelope = append(envelope, codec.mac(iv, ciphertext, accountID)...)
	envelope = append(envelope, ciphertext...)
	return base64.StdEncoding.EncodeToString(envelope)
}

func TestCodec_DecodeCraftedEnvelopes(t *testing.T) {
	codec := newTestCodec(t)

	tests := []struct {
		name      string
		plaintext []byte
		pad       bool
		verdict   domain.LicenseVerdict
	}{
		{
			name:    "empty ciphertext fails decryption",
			pad:     false,
			verdict: domain.VerdictDecryptionFailed,
		},
		{
			name:      "broken padding fails decryption",
			plaintext: bytes.Repeat([]byte{0x00}, aes.BlockSize),
			pad:       false,
			verdict:   domain.VerdictDecryptionFailed,
		},
		{
			name:      "non-JSON payload fails parse",
			plaintext: []byte("this is not a payload"),
			pad:       true,
			verdict:   domain.VerdictParseError,
		},
		{
			name:      "unparseable expiry is skipped",
			plaintext: []byte(`{"accountId":"42","eaName":"Legacy","expiry":"whenever"}`),
			pad:       true,
			verdict:   domain.VerdictValid,
		},
		{
			name:      "naive expiry format is honored",
			plaintext: []byte(`{"accountId":"42","eaName":"Legacy","expiry":"2020-01-01T00:00:00"}`),
			pad:       true,
			verdict:   domain.VerdictExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			licenseKey := sealRaw(t, codec, tt.plaintext, "42", tt.pad)
			result := codec.DecodeAt(licenseKey, "42", beforeExpiry)
			assert.Equal(t, tt.verdict, result.Verdict)
		})
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name         string
		masterKeyB64 string
		licenseKey   string
		accountID    string
		verdict      domain.LicenseVerdict
	}{
		{
			name:         "valid with configured key",
			masterKeyB64: testMasterKeyB64,
			licenseKey:   testLicenseKey,
			accountID:    testAccountID,
			verdict:      domain.VerdictValid,
		},
		{
			name:         "key error for empty key",
			masterKeyB64: "",
			licenseKey:   testLicenseKey,
			accountID:    testAccountID,
			verdict:      domain.VerdictKeyError,
		},
		{
			name:         "key error for malformed key",
			masterKeyB64: "not-base64!!",
			licenseKey:   testLicenseKey,
			accountID:    testAccountID,
			verdict:      domain.VerdictKeyError,
		},
		{
			name:         "key error for short key",
			masterKeyB64: base64.StdEncoding.EncodeToString(make([]byte, 16)),
			licenseKey:   testLicenseKey,
			accountID:    testAccountID,
			verdict:      domain.VerdictKeyError,
		},
		{
			name:         "tampered for wrong key of right length",
			masterKeyB64: base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{'A'}, KeySize)),
			licenseKey:   testLicenseKey,
			accountID:    testAccountID,
			verdict:      domain.VerdictTampered,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Verify(tt.masterKeyB64, tt.licenseKey, tt.accountID, beforeExpiry)
			assert.Equal(t, tt.verdict, result.Verdict)
		})
	}
}

func TestParseWireTime(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"rfc3339 utc", "2025-12-31T23:59:59Z", time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC)},
		{"rfc3339 with offset", "2025-12-31T23:59:59+03:00", time.Date(2025, 12, 31, 20, 59, 59, 0, time.UTC)},
		{"fractional seconds", "2025-12-31T23:59:59.000Z", time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC)},
		{"naive seconds as utc", "2025-12-31T23:59:59", time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC)},
		{"empty", "", time.Time{}},
		{"garbage", "whenever", time.Time{}},
		{"date only", "2025-12-31", time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseWireTime(tt.input)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
		})
	}
}

func TestPKCS7(t *testing.T) {
	for _, size := range []int{0, 1, 15, 16, 17, 100} {
		padded := pkcs7Pad(bytes.Repeat([]byte{0x7f}, size), aes.BlockSize)
		assert.Zero(t, len(padded)%aes.BlockSize)

		unpadded, err := pkcs7Unpad(padded, aes.BlockSize)
		require.NoError(t, err)
		assert.Len(t, unpadded, size)
	}

	_, err := pkcs7Unpad(nil, aes.BlockSize)
	assert.Error(t, err)

	_, err = pkcs7Unpad(bytes.Repeat([]byte{0x11}, aes.BlockSize), aes.BlockSize)
	assert.Error(t, err)
}
