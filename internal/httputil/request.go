package httputil

import (
	"context"
	"mime"
	"net"
	"net/http"
	"strings"
)

// IsMobileClient checks if request is from a mobile client.
// Mobile clients should set header: X-Client-Type: mobile
func IsMobileClient(r *http.Request) bool {
	return r.Header.Get("X-Client-Type") == "mobile"
}

// WantsJSON reports whether the client asked for a JSON response, either
// through the Accept header, a JSON request body or the mobile client header.
func WantsJSON(r *http.Request) bool {
	if IsMobileClient(r) {
		return true
	}
	if ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil && ct == "application/json" {
		return true
	}
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		switch mt {
		case "application/json":
			return true
		case "text/html":
			return false
		}
	}
	return false
}

// ClientIP returns the remote IP without the port. Proxy headers are
// trusted only after chi's RealIP middleware has rewritten RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type responseWriterKey struct{}

// WithResponseWriter stores w in ctx so event subscribers can write the
// response themselves.
func WithResponseWriter(ctx context.Context, w http.ResponseWriter) context.Context {
	return context.WithValue(ctx, responseWriterKey{}, w)
}

// ResponseWriterFromContext returns the response writer stored in ctx.
func ResponseWriterFromContext(ctx context.Context) (http.ResponseWriter, bool) {
	w, ok := ctx.Value(responseWriterKey{}).(http.ResponseWriter)
	return w, ok
}
