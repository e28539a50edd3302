package credential

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// HMACEnvKey is the env var name for the credential HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "QRPASS_CREDENTIAL_HMAC_KEY"

	// prefix versions the wire format so a future format change can be
	// rejected cleanly by old scanners.
	prefix = "QP1"

	fieldSep = "|"
	partSep  = "."

	maxTokenLen = 512
	maxFieldLen = 64
)

// Claims are the fields recovered from a decoded credential.
//
// The credential is bound to the registration's own identity at mint time, so
// a stale token cannot resolve to a newer registration for the same
// (user, event) pair.
type Claims struct {
	RegistrationRef string
	UserRef         string
	EventRef        string
	Nonce           string
}

// Mint produces a signed credential token for a registration.
// The nonce is a ULID derived from the mint time; collisions are not
// safety-critical since the ledger enforces uniqueness.
func Mint(registrationRef, userRef, eventRef string, now time.Time) (string, error) {
	registrationRef = strings.TrimSpace(registrationRef)
	userRef = strings.TrimSpace(userRef)
	eventRef = strings.TrimSpace(eventRef)
	if registrationRef == "" || userRef == "" || eventRef == "" {
		return "", ErrMalformed
	}
	if strings.Contains(registrationRef+userRef+eventRef, fieldSep) {
		return "", ErrMalformed
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	nonce, err := newNonce(now)
	if err != nil {
		return "", err
	}

	payload := strings.Join([]string{registrationRef, userRef, eventRef, nonce}, fieldSep)
	encoded := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return prefix + partSep + encoded + partSep + sign(payload), nil
}

// Decode parses and verifies a credential token.
// It returns ErrMalformed for anything that is not a well-formed token and
// ErrBadSignature for a well-formed token whose signature does not verify.
// Decode never panics, regardless of input.
func Decode(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > maxTokenLen {
		return Claims{}, ErrMalformed
	}

	parts := strings.Split(token, partSep)
	if len(parts) != 3 || parts[0] != prefix {
		return Claims{}, ErrMalformed
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Claims{}, ErrMalformed
	}
	payload := string(raw)

	if !hmac.Equal([]byte(sign(payload)), []byte(parts[2])) {
		return Claims{}, ErrBadSignature
	}

	fields := strings.Split(payload, fieldSep)
	if len(fields) != 4 {
		return Claims{}, ErrMalformed
	}
	for _, f := range fields {
		if f == "" || len(f) > maxFieldLen {
			return Claims{}, ErrMalformed
		}
	}

	return Claims{
		RegistrationRef: fields[0],
		UserRef:         fields[1],
		EventRef:        fields[2],
		Nonce:           fields[3],
	}, nil
}

// HMACKeyFromEnv returns the configured HMAC key bytes (trimmed), enforcing a
// minimum byte length.
// If the env var is missing/blank -> ErrHMACKeyMissing.
// If too short -> ErrHMACKeyTooShort.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return b, nil
}

// HMACEnabled reports whether the env key is present (non-empty after trim).
// Note: this does not enforce minimum length. Use HMACKeyFromEnv for policy checks.
func HMACEnabled() bool {
	return strings.TrimSpace(os.Getenv(HMACEnvKey)) != ""
}

// sign computes the payload signature in hex.
// HMAC-SHA256 when the env key is set, SHA-256 otherwise (dev mode).
func sign(payload string) string {
	key := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if key == "" {
		sum := sha256.Sum256([]byte(payload))
		return hex.EncodeToString(sum[:])
	}
	m := hmac.New(sha256.New, []byte(key))
	_, _ = m.Write([]byte(payload))
	return hex.EncodeToString(m.Sum(nil))
}

func newNonce(now time.Time) (string, error) {
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
