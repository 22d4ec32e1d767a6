// Package auth provides entity credential handling for the Arachne bridge.
//
// # API Keys
//
// Entities authenticate with per-entity API keys ("ak_" + 32 random bytes,
// base64url). Keys are never persisted; the registry stores an scrypt hash
// under a per-entity salt. Because credentials carry no key id, the
// Authenticator scans active entities, recomputes the hash per salt, and
// compares in constant time.
//
// # Queue Encryption Keys
//
// A successful API-key authentication derives the entity's queue encryption
// key from the raw key via HKDF-SHA256 and installs it in the volatile key
// store. The derivation is deterministic, so re-authenticating with the same
// API key recovers the key for items sealed before a restart.
//
// # Session Tokens
//
// The control API can issue short-lived HS256 session tokens (sub = entity
// id) so polling clients skip the scrypt scan per request. Sessions never
// install queue keys; draining an encrypted queue requires a fresh API-key
// authentication.
package auth
