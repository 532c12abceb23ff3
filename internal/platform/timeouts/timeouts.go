// Package timeouts defines shared timeout constants used across services.
// Centralizing these values prevents drift between service boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// OutboundHTTP caps a single call to an external identity provider.
const OutboundHTTP = 10 * time.Second

// Startup caps dependency checks (Redis ping, provider discovery) at boot.
const Startup = 10 * time.Second
