// Package requestid assigns every request a correlation id.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"arp/pkg/requestcontext"
)

// Header carries the request id to the client and is honored when the caller
// already supplies one.
const Header = "X-Request-ID"

// Middleware takes the caller's request id or generates one, stores it in the
// context, and echoes it on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(Header, id)
		ctx := requestcontext.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
