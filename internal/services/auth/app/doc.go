// Package server composes and runs the auth process boundary.
//
// It opens the SQLite store, wires the directory, verifiers, second-factor
// manager, session manager and orchestrator around it, and serves the HTTP
// API plus a gRPC health endpoint until the context ends.
package server
