package license

import (
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"

	"sankeyhub/internal/config"
)

// SCRYPT parameters for passphrase-derived master keys, matching the
// credential encryption settings in internal/security (OWASP minimums).
const (
	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

// derivationSalt namespaces passphrase-derived keys to the license codec so
// the same passphrase cannot yield key material for any other subsystem.
var derivationSalt = []byte("SANKEY-LICENSE-V1")

// ParseMasterKey decodes a base64 master key and checks its length.
func ParseMasterKey(masterKeyB64 string) ([]byte, error) {
	if masterKeyB64 == "" {
		return nil, errors.New("master key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(masterKeyB64)
	if err != nil {
		return nil, fmt.Errorf("master key is not valid base64: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// DeriveMasterKey derives a 32-byte master key from an operator passphrase.
// Derivation is deterministic so every service instance configured with the
// same passphrase seals and opens the same licenses.
func DeriveMasterKey(passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase is empty")
	}
	key, err := scrypt.Key([]byte(passphrase), derivationSalt, scryptN, scryptR, scryptP, KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}
	return key, nil
}

// KeyFromConfig resolves master key material from configuration. An explicit
// base64 key wins over a passphrase.
func KeyFromConfig(cfg config.LicenseConfig) ([]byte, error) {
	switch {
	case cfg.MasterKey != "":
		return ParseMasterKey(cfg.MasterKey)
	case cfg.Passphrase != "":
		return DeriveMasterKey(cfg.Passphrase)
	default:
		return nil, errors.New("license master key is not configured")
	}
}
