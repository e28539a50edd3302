package credential

import "errors"

// Public, stable errors for callers.
var (
	ErrMalformed       = errors.New("credential malformed")
	ErrBadSignature    = errors.New("credential signature mismatch")
	ErrHMACKeyMissing  = errors.New("credential HMAC key missing")
	ErrHMACKeyTooShort = errors.New("credential HMAC key too short")
)
