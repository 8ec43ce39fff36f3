package mtls

import (
	"context"
	"net/http"
)

type contextKey struct{}

// FromContext returns the ClientIdentity stored in ctx, or nil.
func FromContext(ctx context.Context) *ClientIdentity {
	if ctx == nil {
		return nil
	}
	identity, _ := ctx.Value(contextKey{}).(*ClientIdentity)
	return identity
}

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity *ClientIdentity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, contextKey{}, identity)
}

// ExtractFromRequest returns the identity of the leaf peer certificate on
// r's TLS connection, or nil when the request did not arrive over TLS or
// the peer presented no certificate.
func ExtractFromRequest(r *http.Request) *ClientIdentity {
	if r == nil || r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return nil
	}
	return ExtractIdentity(r.TLS.PeerCertificates[0], len(r.TLS.VerifiedChains) > 0)
}

// Middleware attaches the peer identity of each request to its context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := ExtractFromRequest(r); id != nil {
			r = r.WithContext(WithIdentity(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
