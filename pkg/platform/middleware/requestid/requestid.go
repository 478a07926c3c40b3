package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"mediaguard/pkg/requestcontext"
)

// Header carries the request id in both directions.
const Header = "X-Request-ID"

const maxLen = 128

// Middleware reuses a caller-provided request id or assigns a new one, and
// echoes it on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if id == "" || len(id) > maxLen {
			id = uuid.NewString()
		}
		w.Header().Set(Header, id)
		next.ServeHTTP(w, r.WithContext(requestcontext.WithRequestID(r.Context(), id)))
	})
}
