// Package attendance turns presented credentials into attendance decisions.
//
// A scan either grants entry exactly once or is denied with a stable
// reason. Credentials that decode but do not match a live registration
// are reported as not found, so a scanner cannot distinguish a forged
// token from a cancelled one.
package attendance

import (
	"time"

	"qrpass/cmd/internal/registration"
)

// Reason classifies a scan decision.
type Reason string

const (
	ReasonOK             Reason = "ok"
	ReasonInvalidFormat  Reason = "invalid_format"
	ReasonNotFound       Reason = "not_found"
	ReasonAlreadyScanned Reason = "already_scanned"
)

// ScanResult is the outcome of presenting a credential.
type ScanResult struct {
	Granted bool
	Reason  Reason

	// Registration is set when the credential resolved to a row,
	// including the already-scanned case so staff can see who and when.
	Registration *registration.Registration

	At time.Time
}
