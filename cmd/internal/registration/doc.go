// Package registration is the ledger at the heart of the system: it owns the
// capacity-checked, uniqueness-checked creation and cancellation of
// registrations, and the single atomic pending->attended transition.
//
// Invariants:
//   - at most one registration per (user, event) pair, enforced by the store,
//     not by an application pre-check;
//   - an event's registration count never exceeds its capacity at the moment
//     of creation, even under concurrent creators;
//   - status only moves pending->attended, and scanned_at is set exactly when
//     that transition commits.
//
// All registration mutation flows through a Store implementation; no other
// code path writes registration rows.
package registration
