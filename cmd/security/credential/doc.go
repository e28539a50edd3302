// Package credential mints and decodes the opaque scannable tokens handed to
// attendees at registration time.
//
// A credential binds (registration, user, event) plus an issuance nonce into a
// single signed string. The ledger, not the token, is the source of truth for
// uniqueness; the signature only stops casual forgery of well-formed tokens.
//
// Design goals:
//   - Pure: no storage, no network. Decode is safe on arbitrary input.
//   - Default dev mode: SHA-256 payload digest when no HMAC key is configured.
//   - Production mode: HMAC-SHA256 under QRPASS_CREDENTIAL_HMAC_KEY.
//
// Environment:
//   - QRPASS_CREDENTIAL_HMAC_KEY: when set, enables HMAC mode.
package credential
