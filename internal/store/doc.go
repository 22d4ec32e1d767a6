// Package store provides persistent storage for the bridge using SQLite.
//
// # Architecture
//
// The store package exposes two interfaces backed by one implementation:
//
//   - Store: Entities, server subscriptions, join requests, templates,
//     per-server settings, and server bans
//   - BugStore: Bug reports and their message threads
//
// SQLiteStore implements both in a single struct, so callers depend on the
// narrow interface they actually use.
//
// # Data Models
//
// Core models:
//
//   - Entity: A registered external agent with identity, trigger words,
//     notification preferences, and a hashed API key
//   - EntityServer: An entity's subscription to one chat server, with
//     channel and filter settings
//   - ServerRequest: An operator-approved request to join a server
//   - ServerTemplate: Named per-server defaults applied on approval
//   - ServerSettings: Per-server bridge behavior overrides
//   - ServerBan: Servers the bridge refuses to operate in
//   - BugReport / BugReportMessage: User-filed issues with threads
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Use ":memory:" as the path for tests.
//
// # Error Handling
//
// Common sentinel errors, matched with errors.Is:
//
//   - ErrNotFound: Requested record does not exist
//   - ErrAlreadySubscribed: Entity already has a subscription for the server
//   - ErrRequestNotPending: Join request was already decided
//   - ErrEntityLimit: Owner reached their entity cap
//   - ErrBadInput: Caller-supplied field failed validation
//
// All methods accept context.Context for cancellation support.
//
// # Migrations
//
// The schema is created on initialization, and column-level migrations for
// existing databases run automatically. Both are idempotent.
package store
