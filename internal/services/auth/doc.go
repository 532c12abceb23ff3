// Package auth is the identity and session authority.
//
// It owns user accounts, the credentials bound to them, second-factor
// challenges and the sessions issued once a user has proven who they are.
//
// Subpackages:
//   - app: server wiring, configuration and lifecycle
//   - api/httpapi: JSON HTTP surface
//   - orchestrator: login, registration and second-factor flows
//   - directory: user records and authentication methods
//   - credential: password, OAuth and WebAuthn verification
//   - twofactor: one-time code challenges and enrollment
//   - session: opaque session tokens, refresh and revocation
//   - oauth, passkey: provider and ceremony plumbing
//   - storage: persistence interfaces with SQLite and Redis implementations
//   - user: user domain model and validation
package auth
