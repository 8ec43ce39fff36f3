// Package engine runs the mutual-TLS HTTP/1.1 front end.
//
// A Server moves through Unstarted, Listening and Stopped. Construction
// loads the TLS identity and fails synchronously on bad certificate files.
// Listen binds the socket and fails synchronously on bind errors. Serve runs
// the accept loop, handing each connection to its own goroutine, where the
// TLS handshake happens. A failed handshake closes that connection only.
// Stop stops accepting and drains in-flight requests.
//
// Requests pass through the chain: client identity, access log, metrics,
// debug tracing (when enabled), then the application handler.
package engine
