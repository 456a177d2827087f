package realtime

import (
	"errors"
	"net/http"
	"strings"

	"github.com/PaulBabatuyi/marketchat/internal/auth"
	"github.com/PaulBabatuyi/marketchat/internal/middleware"
)

var errTokenRequired = errors.New("authentication required")

// tokenClaims verifies the connection token when auth is on. The query
// parameter wins over the Authorization header because browsers cannot set
// headers on a WebSocket handshake.
func tokenClaims(j *auth.JWTManager, query, header string) (*auth.Claims, error) {
	if j == nil {
		return nil, nil
	}
	token := strings.TrimSpace(query)
	if token == "" {
		token = middleware.BearerToken(header)
	}
	if token == "" {
		return nil, errTokenRequired
	}
	claims, err := j.VerifyToken(token)
	if err != nil {
		return nil, errors.New("invalid or expired token")
	}
	return claims, nil
}

// OriginChecker accepts handshakes from the listed origins and from requests
// without an Origin header. An empty list or "*" accepts any origin, matching
// the CORS middleware.
func OriginChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}
