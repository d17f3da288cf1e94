// Package session drives one HomeLink connection through
// Init -> Connected -> Authenticated -> Closed.
//
// A Session never retries a handshake or login on its own. Callers that want
// connect retry wait with BackoffConfig.Wait between fresh connections.
package session
