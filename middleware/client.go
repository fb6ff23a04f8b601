package middleware

import (
	"net"
	"net/http"

	"github.com/upb/realty-dashboard/services/audit"
)

// ClientInfo attaches the caller's address and user agent to the request
// context so audit events recorded while serving it carry them. Run it
// after chi's RealIP.
func ClientInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		ctx := audit.WithClient(r.Context(), ip, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
