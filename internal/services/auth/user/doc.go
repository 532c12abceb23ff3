// Package user defines the identity records the auth authority owns: users,
// their roles, and the proof mechanisms bound to them.
//
// Helpers here normalize and validate untrusted input before it becomes a
// stored identity.
package user
