// Package passkey runs WebAuthn registration and login ceremonies.
//
// Credentials are stored as webauthn auth methods in the user directory;
// ceremony state lives in storage until the browser answers the challenge.
package passkey
