package engine

import (
	"net"
	"net/http"
	"strings"

	"github.com/getmockd/fakemesh/pkg/logging"
)

// handshakeErrorPrefix is how net/http reports a failed TLS handshake on
// its error log.
const handshakeErrorPrefix = "http: TLS handshake error"

// trackConn follows each connection through its states: new (handshaking),
// active (serving), idle, and closed.
func (s *Server) trackConn(c net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.metrics.ConnectionsTotal.Inc()
		s.metrics.ActiveConnections.Inc()
		s.log.Debug("connection accepted", "remote", c.RemoteAddr().String())
	case http.StateClosed, http.StateHijacked:
		s.metrics.ActiveConnections.Dec()
		s.log.Debug("connection closed", "remote", c.RemoteAddr().String(), "state", state.String())
	}
}

// observeServerError counts failed handshakes reported by net/http.
func (s *Server) observeServerError(line string) {
	if strings.HasPrefix(line, handshakeErrorPrefix) {
		s.metrics.HandshakeFailures.Inc()
	}
}

// serverErrorLevel keeps handshake noise from scanners and misconfigured
// clients at debug level.
func serverErrorLevel(line string) logging.Level {
	if strings.HasPrefix(line, handshakeErrorPrefix) {
		return logging.LevelDebug
	}
	return logging.LevelWarn
}
