// Package directory resolves the user and event identities referenced by
// credentials and ledger operations.
//
// It is the external-collaborator boundary of the system: the registration
// ledger and the scan path consume it through the UserDirectory and
// EventCatalog interfaces and never reach into its storage directly.
// Postgres-backed and in-memory implementations carry the same contracts.
package directory
