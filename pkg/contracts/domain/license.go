package domain

import (
	"time"
)

// LicensePayload is the plaintext content of an issued license key. The
// codec encrypts it into the licenseKey ciphertext stored on the application
// and decrypts it back for verification tooling and the EA client.
type LicensePayload struct {
	AccountID string    `json:"accountId" validate:"required"`
	EAName    string    `json:"eaName" validate:"required"`
	Broker    string    `json:"broker,omitempty"`
	Email     string    `json:"email,omitempty"`
	Expiry    time.Time `json:"expiry" validate:"required"`
	IssuedAt  time.Time `json:"issuedAt"`
	LicenseID string    `json:"licenseId,omitempty"`
}

// LicenseVerdict classifies the outcome of decoding a license key
type LicenseVerdict string

const (
	VerdictValid            LicenseVerdict = "Valid"
	VerdictExpired          LicenseVerdict = "Expired"
	VerdictInvalid          LicenseVerdict = "Invalid"
	VerdictTampered         LicenseVerdict = "Tampered"
	VerdictKeyError         LicenseVerdict = "KeyError"
	VerdictDecryptionFailed LicenseVerdict = "DecryptionFailed"
	VerdictParseError       LicenseVerdict = "ParseError"
)

// DecodeResult is the operator-facing outcome of decoding a license key
type DecodeResult struct {
	Verdict LicenseVerdict  `json:"verdict"`
	Payload *LicensePayload `json:"payload,omitempty"`
	Message string          `json:"message,omitempty"`
}
