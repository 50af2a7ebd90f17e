package middleware

import (
	"net/http"
	"slices"
	"strings"
)

// HeaderAPIKey carries an API key in place of a bearer token.
const HeaderAPIKey = "X-API-Key"

// corsMethods are the verbs the API routes serve: reads, board
// create/update and placements.
var corsMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut}

var (
	corsAllowHeaders  = strings.Join([]string{"Content-Type", "Authorization", HeaderAPIKey, HeaderRequestID}, ", ")
	corsExposeHeaders = strings.Join([]string{HeaderRequestID, "Retry-After"}, ", ")
)

// OriginAllowed reports whether origin is in allowed. An empty list or a
// "*" entry admits every origin.
func OriginAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// CORS returns middleware that admits browser dashboards from
// allowedOrigins. Preflights are answered here: 204 for an allowed origin
// and method, 403 for a foreign origin and 405 for a verb no route serves.
// Other OPTIONS requests fall through to the router.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Add("Vary", "Origin")
			allowed := OriginAllowed(allowedOrigins, origin)

			requested := r.Header.Get("Access-Control-Request-Method")
			if r.Method == http.MethodOptions && requested != "" {
				switch {
				case !allowed:
					writeJSONError(w, http.StatusForbidden, "origin not allowed")
				case !slices.Contains(corsMethods, strings.ToUpper(requested)):
					writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				default:
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", strings.Join(corsMethods, ", "))
					w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
					w.Header().Set("Access-Control-Max-Age", "86400")
					w.WriteHeader(http.StatusNoContent)
				}
				return
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Expose-Headers", corsExposeHeaders)
			}
			next.ServeHTTP(w, r)
		})
	}
}
