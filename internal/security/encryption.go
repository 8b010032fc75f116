// Package security implements the credential protection used by the hub:
// shared-secret HMAC signatures for webhook traffic, and the scrypt/AES-256-GCM
// scheme that keeps the Gmail service account encrypted at rest.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/crypto/scrypt"
)

// payloadVersion is the on-disk format version of EncryptedPayload.
const payloadVersion = 1

// digestSeparator namespaces the payload digest.
const digestSeparator = "SANKEY-CREDENTIALS-V1"

// EncryptionConfig holds the scrypt and AES-GCM parameters. The defaults meet
// the OWASP ASVS minimums; ValidateEncryptionConfig rejects anything weaker.
type EncryptionConfig struct {
	SCryptN      int // CPU/memory cost, 32768 minimum
	SCryptR      int // block size
	SCryptP      int // parallelization
	SCryptKeyLen int // 32 for AES-256
	NonceSize    int // 12 for GCM
	TagSize      int // 16 for GCM
}

// DefaultEncryptionConfig returns the parameters both the encrypt-credentials
// tool and the runtime use. Changing them invalidates every payload already
// issued.
func DefaultEncryptionConfig() *EncryptionConfig {
	return &EncryptionConfig{
		SCryptN:      32768,
		SCryptR:      8,
		SCryptP:      1,
		SCryptKeyLen: 32,
		NonceSize:    12,
		TagSize:      16,
	}
}

// EncryptedPayload is the serialized form of an encrypted credential blob,
// embedded in the binary or stored in a payload file next to it.
type EncryptedPayload struct {
	Version    uint8  `json:"version"`
	Salt       []byte `json:"salt"`  // scrypt salt, 32 bytes
	Nonce      []byte `json:"nonce"` // AES-GCM nonce
	Ciphertext []byte `json:"ciphertext"`
	AuthTag    []byte `json:"auth_tag"` // GCM tag, stored separately
	Digest     []byte `json:"digest"`   // see payloadDigest
	Timestamp  int64  `json:"timestamp"` // encryption time, unix seconds
}

// SecureCredentials holds decrypted credential bytes and wipes them on Clear.
type SecureCredentials struct {
	data    []byte
	cleared bool
}

// Data returns the decrypted bytes, or nil once Clear has run.
func (sc *SecureCredentials) Data() []byte {
	if sc.cleared {
		return nil
	}
	return sc.data
}

// Clear overwrites the credential bytes in place. Safe to call more than once.
func (sc *SecureCredentials) Clear() {
	if sc.cleared {
		return
	}
	wipe(sc.data)
	sc.data = nil
	sc.cleared = true
	runtime.GC() // drop lingering copies
}

// wipe overwrites b in place with alternating patterns, ending on zeros.
func wipe(b []byte) {
	if len(b) == 0 {
		return
	}
	for i := range b {
		b[i] = 0x00
	}
	for i := range b {
		b[i] = 0xFF
	}
	rand.Read(b)
	for i := range b {
		b[i] = 0x00
	}
}

// EncryptCredentials seals plaintext under a key derived from appSalt and a
// fresh random salt. The returned payload carries everything needed to
// decrypt except appSalt itself.
func EncryptCredentials(plaintext, appSalt []byte, cfg *EncryptionConfig) (*EncryptedPayload, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("plaintext cannot be empty")
	}
	if len(appSalt) < 16 {
		return nil, errors.New("application salt must be at least 16 bytes")
	}
	if cfg == nil {
		cfg = DefaultEncryptionConfig()
	}

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	key, err := deriveKey(appSalt, salt, cfg)
	if err != nil {
		return nil, err
	}
	defer wipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, cfg.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ciphertext := sealed[:len(sealed)-cfg.TagSize]
	tag := sealed[len(sealed)-cfg.TagSize:]

	return &EncryptedPayload{
		Version:    payloadVersion,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: ciphertext,
		AuthTag:    tag,
		Digest:     payloadDigest(ciphertext, salt, nonce),
		Timestamp:  time.Now().Unix(),
	}, nil
}

// DecryptCredentials opens a payload produced by EncryptCredentials and
// returns the plaintext wrapped in SecureCredentials. The caller owns the
// Clear.
func DecryptCredentials(payload *EncryptedPayload, appSalt []byte, cfg *EncryptionConfig) (*SecureCredentials, error) {
	if payload == nil {
		return nil, errors.New("payload cannot be nil")
	}
	if len(appSalt) < 16 {
		return nil, errors.New("application salt must be at least 16 bytes")
	}
	if cfg == nil {
		cfg = DefaultEncryptionConfig()
	}
	if payload.Version != payloadVersion {
		return nil, fmt.Errorf("unsupported payload version: %d", payload.Version)
	}

	// Digest check runs before the scrypt call.
	if !SecureCompare(payload.Digest, payloadDigest(payload.Ciphertext, payload.Salt, payload.Nonce)) {
		return nil, errors.New("payload digest mismatch, possible tampering")
	}

	key, err := deriveKey(appSalt, payload.Salt, cfg)
	if err != nil {
		return nil, err
	}
	defer wipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	sealed := make([]byte, 0, len(payload.Ciphertext)+len(payload.AuthTag))
	sealed = append(sealed, payload.Ciphertext...)
	sealed = append(sealed, payload.AuthTag...)

	plaintext, err := gcm.Open(nil, payload.Nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt credentials: %w", err)
	}

	return &SecureCredentials{data: plaintext}, nil
}

// deriveKey stretches appSalt plus the payload salt into an AES key. Encrypt
// and decrypt must use identical parameters or GCM rejects the tag.
func deriveKey(appSalt, salt []byte, cfg *EncryptionConfig) ([]byte, error) {
	secret := make([]byte, 0, len(appSalt)+len(salt))
	secret = append(secret, appSalt...)
	secret = append(secret, salt...)
	defer wipe(secret)

	key, err := scrypt.Key(secret, salt, cfg.SCryptN, cfg.SCryptR, cfg.SCryptP, cfg.SCryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// payloadDigest hashes the ciphertext, salt and nonce under a fixed domain
// separator.
func payloadDigest(ciphertext, salt, nonce []byte) []byte {
	h := sha256.New()
	h.Write([]byte(digestSeparator))
	h.Write(ciphertext)
	h.Write(salt)
	h.Write(nonce)
	return h.Sum(nil)
}

// ValidateEncryptionConfig rejects parameter sets weaker than the defaults.
func ValidateEncryptionConfig(cfg *EncryptionConfig) error {
	if cfg == nil {
		return errors.New("encryption config cannot be nil")
	}
	if cfg.SCryptN < 32768 {
		return errors.New("SCryptN must be at least 32768")
	}
	if cfg.SCryptR < 8 {
		return errors.New("SCryptR must be at least 8")
	}
	if cfg.SCryptP < 1 {
		return errors.New("SCryptP must be at least 1")
	}
	if cfg.SCryptKeyLen != 32 {
		return errors.New("SCryptKeyLen must be 32 for AES-256")
	}
	if cfg.NonceSize != 12 {
		return errors.New("NonceSize must be 12 for AES-GCM")
	}
	if cfg.TagSize != 16 {
		return errors.New("TagSize must be 16 for AES-GCM")
	}
	return nil
}

// SecureCompare reports whether a and b are equal in constant time.
func SecureCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
