// Package token provides session token hashing primitives for qrpass.
//
// It is the single source of truth for bearer-token hashing behavior.
//
// Environment:
// - QRPASS_SESSION_HMAC_KEY: when set, enables HMAC mode.
//
// Output is a stable 64-char hex digest suitable for indexed storage and
// constant-time comparison.
package token
