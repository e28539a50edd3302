package app

import (
	"errors"

	"qrpass/cmd/security/credential"
)

// ValidateSecurityConfig enforces the credential signing policy at startup.
// Fail-fast: silently falling back to unkeyed hashing in production is
// unacceptable.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireCredentialHMAC {
		return nil
	}

	// Minimum 32 bytes for an HMAC-SHA256 secret, measured as raw bytes.
	if _, err := credential.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, credential.ErrHMACKeyMissing):
			return errors.New("security policy: QRPASS_REQUIRE_CREDENTIAL_HMAC=true but QRPASS_CREDENTIAL_HMAC_KEY is missing")
		case errors.Is(err, credential.ErrHMACKeyTooShort):
			return errors.New("security policy: QRPASS_REQUIRE_CREDENTIAL_HMAC=true but QRPASS_CREDENTIAL_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	// Hard assertion: signing must be HMAC-enabled in this runtime.
	if !credential.HMACEnabled() {
		return errors.New("security policy: QRPASS_REQUIRE_CREDENTIAL_HMAC=true but credential signer is not in HMAC mode")
	}

	return nil
}
