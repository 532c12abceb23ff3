// Package twofactor issues and verifies single-use second-factor challenges.
//
// A challenge moves through Issued and then exactly one of Verified, Expired
// or Superseded. Issuing a new challenge for a (user, method) pair
// supersedes the previous one, and both the supersede and the consume are
// conditional writes so a verify racing a re-issue cannot succeed against
// the old code.
//
// Code delivery for email and SMS is handed to a Dispatcher after the token
// is stored; delivery failures are logged and counted but never touch token
// state.
package twofactor
