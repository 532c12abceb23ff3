// Package oauth runs external provider sign-in: it persists state and the
// PKCE verifier, sends the browser to the provider, and turns the callback
// into a verified provider identity.
//
// Resolving that identity to a user is the credential verifier's job.
package oauth
