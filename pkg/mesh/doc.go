// Package mesh implements a fake MESH mailbox service as an http.Handler.
//
// Clients authenticate every request with an NHSMESH HMAC token, send
// messages to other mailboxes through their outbox (optionally in several
// chunks), list and download what arrived in their inbox, and acknowledge
// messages to remove them.
//
// Message metadata lives in a SQLite database under DataDir/db and chunk
// bodies are kept gzip-compressed under DataDir/storage, so a mailbox
// survives restarts of the process that owns it.
package mesh
