// Package license implements the license key codec shared with the EA client.
//
// # Envelope Format
//
// A license key is the base64 encoding of a fixed-layout envelope:
//
//	IV[16] || HMAC-SHA256[32] || AES-256-CBC ciphertext
//
// The ciphertext is the PKCS#7-padded JSON payload. The HMAC tag is keyed
// with the master key and covers IV || ciphertext || accountId, which binds
// each key to the trading account it was issued for: presenting a license
// with any other account id fails signature verification.
//
// # Verification
//
// DecodeAt runs checks in a fixed order and stops at the first failure:
//
//	1. base64 decode and minimum envelope length
//	2. HMAC verification (before any decryption)
//	3. AES-256-CBC decryption and padding check
//	4. JSON payload parse
//	5. expiry check against the supplied instant
//
// Each outcome maps to a domain.LicenseVerdict. A payload whose expiry field
// is absent or unparseable skips step 5 and verifies as Valid, matching the
// client-side decoder in the EA terminal. The payload is returned for both
// Valid and Expired verdicts since the envelope authenticated in either case.
//
// # Key Material
//
// The master key is 32 raw bytes, configured either directly as base64 or
// derived from an operator passphrase with scrypt. The package-level Verify
// function additionally validates key material inline and reports KeyError,
// for parity with the client decoder's full ladder.
package license
