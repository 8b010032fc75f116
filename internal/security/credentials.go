package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ApplicationSalt is compiled into every build and mixed into the scrypt key
// for the embedded credentials. The encrypt-credentials tool must be run with
// the same value.
const ApplicationSalt = "SANKEY-License-Hub-v0.3-Salt-2026"

// embeddedCredentials is a placeholder payload. The release pipeline swaps in
// the real blob produced by tools/encrypt-credentials; a build that skipped
// that step fails the digest check on first access.
var embeddedCredentials = `{
  "version": 1,
  "salt": "ADejQRsPKem/8q+cur4d/r/1KYglX22S8I2aWybpmA0=",
  "nonce": "09ZAU9TJu4aFP2sV",
  "ciphertext": "tC6GH4L3sHvRSNj+wNwIfqLXSoRcOp7rDR9YE/DgEtXSuxkcNkOUw25HxDSvRgSXq2moPYDC4sDJNbIXOvxdWfB+fAU2fx6rAQOpIW6AaqrkfU44iIPTMRnQctjo99LDcEIjn22tnr5NhCu1VBavNdt5PtfeAz5ouZiz1Hxb6eyKRP1SIvgzXAgpPVmRYOxsjOdckqldVQGWtHTac6+qteCHcFTZ5n9JTcg1CNXUjEsLefVsXQ948kd/S5BrUNoggQI4lgSFwPZg6XpPFnw7IJcF8Zf9luSClJB0gh93P+PMnN5XMol0fdzN6M3sFEBIZWc6FwuXE+1LdCiJ8bNU7TOQP0TqD7UEFq7sugqUbGuHaFTYa6c2xN5SDdHU7pH2c8QohmhD61qK5Ut84nCMa84S2FHAuYnu46Z5Ibg/xmALcWJt3rlI4J/YK8BqI+zE4j8NGvWRx6Z0TpUscgVJA4ur5N5hrdFt3aWeObvFPEItAApH+bSEvr0mCoUvGrxc3PFB/RiXyW2pMAnNIX0u6hiZAZrlE75LZoStBXvoq1y1ggHd2Rldt7E9/zC3n/3jXqNeL0+5LreHaH+0+nGMVonM8p+GoHDNuswYirtoRIJajw2T7FbPKIyg1X9aSWnkSneBOtgRNgnDPEq+fbOT2Q9CztR7BCKIQ2QQ5xb43ppX95n9K9Po7WVMmk+OjYcWjzmSWpRZCEumEwIQMlmUokUFc38oFhqkvy1SRWMubJ7IZ08HqbyZluibZxTYHPeGMqW5HQpTMsxTBrXA93zm8P9HO6pW3xAcipgh40gQTpEiBzvvmWGkzH71LMvCSW1JwWgXxOjYNLa3OlEQeZ64R14e4zzthhKaP1WQ7+ULAyQDvG7sZaasLiMN23GntBN4ZwmVooUHrAJfjxP7CDYdg4dBB+joM4wUCtW+lzBYVw2Hv7q6sEnyAegHjrRxjWGnDUTmA8bZufy4DzuAqKArwsHJBKea0DYc/Yjj+/nOuuWZ3h7693x7J23dz0qU2M4HYyScHcFoFb5QT65bTEe2jYJ0r2BoKHDlO8DC43HfIRo83l21x9c3s7tBGaAQCvIXM/K7zmHg2PkDMbFxk7AGoGLgs23rsYcO783g4Wa5VrwfHEeXf2VM6d45wKG8rsBGSO2/G0Z9hIbC/iddSNkOOzTGNWKZ1ZSQrtUYeZb0nJ1joQza04c7UYLb9NkOf9QxVI1rZVRd37bybGNp0YP29Ff8890/BmsvmxI1Eoipdq47ueYCG9+yOvvFZ7QX2Z5hWuoipCtebrgoLnUJ10Bi0MeUdqoUpdrSsFCtXdZfIpmM3jrfoAareqs3sHuPuQBbJioueVRRem3xbzCKtheaXgIr1FP2CHuXlRbjlyPvhAEUlc3yrnvw1JJKOF33u1thRaJ+Ij/g7B32XFsz1bSakOMF3taV+bOpLkDUf31T/yjMOiISx1T0n5OIqrL/j4psltVbvLx96GfSJ5aWA68SgSsUZtiND1ped2BIYDjvNvoXoM29LW5DEGiOxWHbspwiq0WCwzsFbYNOPDUdEeE7TKjwtZT6sPs1CVJDLaok5mSRH3nnZTnD7cO6KOxdMzVVmHHUlRcYdMutkoy4T0r81gTggTwd298ci7jjKcEqa30rE9Y/uAj0mdkfkMHlT6Rh6SZsVa5Ifo3a19WcPawWyoAxtuK05UEbV36CidW6IbHdneXBCzFyuHbHMIzXYs0OuxIiEeYV8x6LV2A2JIpaFbUnLrBFJusU7bAKT5ikN9Ns/wbOBoHdQ16zHKTtUvQxtdcYOWFnOVlVsb3Lhov8y0GBKZb+Wbc2zIfgxETVCaWvApLz3bEZT7CxvATwLDiubtzfHGcPaSwzvDyoScLfEP8oirgGwZ1Ul/Zf7n1E6kHnMZBTfXrEi7zaPeT528zV5Armiff2HA35QPMvVioOE59eRyOf1fVN8n4ZYoJYwJf16SQWSfZ0zxyhWzVdgIdJG8bVc2brQUh7JVn7g5CvB4UZ7F6OKy+N2BFFqsijt7mUPdRhPO5Cy9QJqm2mBzTWASa+mcnEK8UWYLDmyRf7GakEOFnQgzVpCxg6ubT1qdO2wvjSC+zPDTC6GZghINT9ii+zxjBQLNVk9hLd4U9nN9LRmK7XCQICHTnOJ0yQwp442Y0fBdgf0cVd7vhgS4dvgpAaGGltK8gjpc0aGwxxOhBTB+04Isds62Iw3RtLnqre/1HdwYUUlCCfknKqopz3iT0MhHDpBBaMXEztQ2d4WMBWdLJ/HSFNd8+LTh6Ir37BpGtpR6IWtxBm8x0KaaHHwqJVeu4HmUdFJrtaFl42Jup1AzNy89/LSQ26epytcN3eQX5XlYbDJDlGv467dDypRR1+ZPRZ0LpCQnZeEWZT/beXblxCQzdC7MK+ffi0OwBiuR4uEpXchRA/eXxzZjHBW+V4/XJXWoZTetwRxH0eAAVlJPCirzcEwtffPuF+aE8R6KpibFuwiPd0+lSzqMJyDayOYzrYYh9r9tomCiYyUcVwJB9R41XSSyIozHLqKYJ+4+sHtIdJ7XF2o66XffL86UEUDMyACWvb6gWtsgJd4CsCgEUXuH4JVPsgf8w3oKpQy3Ja7EyxmrW78jDgJaBgx/Nxs2L7aW6fFpKiXkzXOfRZEJTh2DPURfQuiq7hS8y1LxpxYzs+TZAHAzlj3E9IfO34r+qv/eRTwdpcjC43RsgKY0ntEIyjI9whLWVwKzuYzIRhHNY3vKV/4/u/9hk/I3Ax+oqsEC4iq0V4Dp+Br74dA0fPp1pBsfHhWmyXyhRZJDU0QoueuAbVaE+FNf3hMkbuOXi+Kyq4dofmo7YxfrP8cYWGdsOkxFNM44Z0OcdioZgfnzGTc+U64lGpXZYoas/mtUwhsEWvJf56BOuS6edpl14KxIRB4AclIdDA2B5u+eQa/lCqYsLdDdmReNRxHmXYTzZn0Ay+XhGx3W8oLmBQ3hOvbYQk6JmU1SMyFm3gnzsrFTGSxOFCmSDtbvWCCR6E4i2RO8CZZEKn+EAZLG1kmhxbkn53DpFHX4VV/kbnDKeX4CJMZ/Mhp2O1D/eFFyxg7esvV3sDUD0Fvey/HzwaQ7hXT1IxnIBJ4+grhGdz29kVWBhq3IOU5bZhCI8NogkAjbApAd2+vcxtaWoQmg==",
  "auth_tag": "tKaWSr7qyiAAFgvnw1F8Rg==",
  "digest": "KfI4JCsz3CaO6Z66+w3ByKlL+y4B5DiI+aMfl6pwZNA=",
  "timestamp": 1785542400
}`

// CredentialsManager decrypts the Gmail service account JSON on demand. The
// plaintext is wiped after every access; callers receive their own copy and
// are responsible for discarding it once the notifier is built.
type CredentialsManager struct {
	payload     *EncryptedPayload
	appSalt     []byte
	mu          sync.Mutex
	accessCount int64
	lastAccess  time.Time
	logger      *slog.Logger
}

// NewCredentialsManager loads the encrypted credentials payload. A non-empty
// path overrides the embedded blob with a payload file written by
// tools/encrypt-credentials.
func NewCredentialsManager(path string, logger *slog.Logger) (*CredentialsManager, error) {
	payload, err := loadEncryptedPayload(path)
	if err != nil {
		return nil, err
	}

	m := &CredentialsManager{
		payload: payload,
		appSalt: []byte(ApplicationSalt),
		logger:  logger.With(slog.String("component", "credentials")),
	}
	m.logAccess(context.Background(), "loaded", true, "")
	return m, nil
}

func loadEncryptedPayload(path string) (*EncryptedPayload, error) {
	raw := []byte(embeddedCredentials)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read credentials file: %w", err)
		}
		raw = data
	}

	var payload EncryptedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parse credentials payload: %w", err)
	}
	return &payload, nil
}

// GetCredentials decrypts and returns the service account JSON. Each call
// decrypts afresh; the manager never keeps plaintext between calls.
func (m *CredentialsManager) GetCredentials(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.payload == nil {
		return nil, errors.New("credentials manager is closed")
	}

	creds, err := DecryptCredentials(m.payload, m.appSalt, DefaultEncryptionConfig())
	if err != nil {
		m.logAccess(ctx, "decrypt", false, err.Error())
		return nil, fmt.Errorf("decrypt credentials: %w", err)
	}
	defer creds.Clear()

	data := creds.Data()
	if !json.Valid(data) {
		m.logAccess(ctx, "decrypt", false, "decrypted payload is not valid JSON")
		return nil, errors.New("decrypted credentials are not valid JSON")
	}

	out := make([]byte, len(data))
	copy(out, data)

	m.accessCount++
	m.lastAccess = time.Now()
	m.logAccess(ctx, "decrypt", true, "")
	return out, nil
}

// Close wipes the application salt and drops the payload reference. The
// manager cannot serve credentials afterwards.
func (m *CredentialsManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logAccess(context.Background(), "shutdown", true, "")
	wipe(m.appSalt)
	m.appSalt = nil
	m.payload = nil
	return nil
}

// logAccess records an audit entry for every credential operation, success
// or failure.
func (m *CredentialsManager) logAccess(ctx context.Context, event string, success bool, errMsg string) {
	level := slog.LevelInfo
	if !success {
		level = slog.LevelError
	}

	attrs := []slog.Attr{
		slog.String("event_type", event),
		slog.Bool("success", success),
		slog.Int("process_id", os.Getpid()),
		slog.Int64("access_count", m.accessCount),
	}
	if errMsg != "" {
		attrs = append(attrs, slog.String("error", errMsg))
	}
	if !m.lastAccess.IsZero() {
		attrs = append(attrs, slog.Time("last_access", m.lastAccess))
	}

	m.logger.LogAttrs(ctx, level, "credential access", attrs...)
}
