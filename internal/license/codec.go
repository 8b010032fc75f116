package license

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sankeyhub/pkg/contracts/domain"
)

// Envelope layout. The wire format is base64(IV || MAC || ciphertext)
// with fixed-size header fields.
const (
	ivSize  = aes.BlockSize
	macSize = sha256.Size

	// KeySize is the required master key length for AES-256.
	KeySize = 32

	headerSize = ivSize + macSize
)

// Codec seals and opens license keys with a shared 32-byte master key.
type Codec struct {
	key []byte
}

// NewCodec creates a Codec from a raw master key. The key must be exactly
// KeySize bytes; use ParseMasterKey or DeriveMasterKey to obtain one from
// configuration.
func NewCodec(masterKey []byte) (*Codec, error) {
	if len(masterKey) != KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", KeySize, len(masterKey))
	}
	key := make([]byte, KeySize)
	copy(key, masterKey)
	return &Codec{key: key}, nil
}

// Encrypt seals a license payload into a base64 license key bound to
// payload.AccountID. The EA client presents the same account id when
// verifying; any mismatch fails the MAC check.
func (c *Codec) Encrypt(payload domain.LicensePayload) (string, error) {
	if payload.AccountID == "" {
		return "", errors.New("license payload requires an account id")
	}
	if payload.EAName == "" {
		return "", errors.New("license payload requires an EA name")
	}

	plaintext, err := json.Marshal(toWire(payload))
	if err != nil {
		return "", fmt.Errorf("marshal license payload: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate IV: %w", err)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	envelope := make([]byte, 0, headerSize+len(ciphertext))
	envelope = append(envelope, iv...)
	envelope = append(envelope, c.mac(iv, ciphertext, payload.AccountID)...)
	envelope = append(envelope, ciphertext...)

	return base64.StdEncoding.EncodeToString(envelope), nil
}

// Decode verifies a license key against the wall clock.
func (c *Codec) Decode(licenseKey, accountID string) domain.DecodeResult {
	return c.DecodeAt(licenseKey, accountID, time.Now())
}

// DecodeAt verifies a license key at a caller-supplied instant. Checks run
// in a fixed order and the first failure wins: envelope shape, MAC,
// decryption, payload parse, expiry. The MAC is verified before any
// decryption is attempted, so a key sealed under a different master key or
// account id reports Tampered rather than DecryptionFailed.
func (c *Codec) DecodeAt(licenseKey, accountID string, now time.Time) domain.DecodeResult {
	if licenseKey == "" {
		return failure(domain.VerdictInvalid, "license key is required")
	}

	envelope, err := base64.StdEncoding.DecodeString(licenseKey)
	if err != nil {
		return failure(domain.VerdictInvalid, "license key is not valid base64")
	}
	if len(envelope) < headerSize {
		return failure(domain.VerdictInvalid, "license envelope is too short")
	}

	iv := envelope[:ivSize]
	tag := envelope[ivSize:headerSize]
	ciphertext := envelope[headerSize:]

	if !hmac.Equal(tag, c.mac(iv, ciphertext, accountID)) {
		return failure(domain.VerdictTampered, "signature verification failed")
	}

	plaintext, err := c.open(iv, ciphertext)
	if err != nil {
		return failure(domain.VerdictDecryptionFailed, "decryption failed")
	}

	var wire wirePayload
	if err := json.Unmarshal(plaintext, &wire); err != nil {
		return failure(domain.VerdictParseError, "license payload is not valid JSON")
	}
	payload := wire.toDomain()

	if !payload.Expiry.IsZero() && now.After(payload.Expiry) {
		return domain.DecodeResult{
			Verdict: domain.VerdictExpired,
			Payload: &payload,
			Message: fmt.Sprintf("license expired %s", payload.Expiry.Format(time.RFC3339)),
		}
	}

	return domain.DecodeResult{Verdict: domain.VerdictValid, Payload: &payload}
}

// Verify runs the full decoder ladder used by the EA client. Master key
// material is validated before the envelope is touched, so operator tooling
// can distinguish key configuration problems (KeyError) from bad licenses.
func Verify(masterKeyB64, licenseKey, accountID string, now time.Time) domain.DecodeResult {
	key, err := ParseMasterKey(masterKeyB64)
	if err != nil {
		return failure(domain.VerdictKeyError, err.Error())
	}
	return (&Codec{key: key}).DecodeAt(licenseKey, accountID, now)
}

// mac computes the envelope tag over IV || ciphertext || accountId.
func (c *Codec) mac(iv, ciphertext []byte, accountID string) []byte {
	h := hmac.New(sha256.New, c.key)
	h.Write(iv)
	h.Write(ciphertext)
	h.Write([]byte(accountID))
	return h.Sum(nil)
}

// open decrypts and unpads the ciphertext. Callers must have verified the
// MAC first.
func (c *Codec) open(iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("ciphertext is not block aligned")
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)
	return pkcs7Unpad(padded, aes.BlockSize)
}

func failure(verdict domain.LicenseVerdict, message string) domain.DecodeResult {
	return domain.DecodeResult{Verdict: verdict, Message: message}
}

// wirePayload is the JSON form inside the envelope. Timestamps travel as
// strings so that a payload with a malformed expiry still parses; the
// decoder then skips the expiry check instead of rejecting the license.
type wirePayload struct {
	AccountID string `json:"accountId"`
	EAName    string `json:"eaName"`
	Broker    string `json:"broker,omitempty"`
	Email     string `json:"email,omitempty"`
	Expiry    string `json:"expiry,omitempty"`
	IssuedAt  string `json:"issuedAt,omitempty"`
	LicenseID string `json:"licenseId,omitempty"`
}

func toWire(p domain.LicensePayload) wirePayload {
	w := wirePayload{
		AccountID: p.AccountID,
		EAName:    p.EAName,
		Broker:    p.Broker,
		Email:     p.Email,
		LicenseID: p.LicenseID,
	}
	if !p.Expiry.IsZero() {
		w.Expiry = p.Expiry.UTC().Format(time.RFC3339)
	}
	if !p.IssuedAt.IsZero() {
		w.IssuedAt = p.IssuedAt.UTC().Format(time.RFC3339)
	}
	return w
}

// toDomain maps the wire payload to the typed contract. Missing or
// unparseable timestamps map to the zero time.
func (w wirePayload) toDomain() domain.LicensePayload {
	return domain.LicensePayload{
		AccountID: w.AccountID,
		EAName:    w.EAName,
		Broker:    w.Broker,
		Email:     w.Email,
		Expiry:    parseWireTime(w.Expiry),
		IssuedAt:  parseWireTime(w.IssuedAt),
		LicenseID: w.LicenseID,
	}
}

// parseWireTime accepts RFC 3339 and the naive "2006-01-02T15:04:05" form
// produced by older issuers, interpreting the latter as UTC.
func parseWireTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if len(s) >= 19 {
		if t, err := time.ParseInLocation("2006-01-02T15:04:05", s[:19], time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 {
		return nil, errors.New("empty plaintext")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, errors.New("invalid padding")
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return b[:len(b)-n], nil
}
