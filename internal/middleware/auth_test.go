package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/PaulBabatuyi/marketchat/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Empty(t, BearerToken("Basic abc"))
	assert.Empty(t, BearerToken("abc"))
	assert.Empty(t, BearerToken(""))
}

func newAuthRouter(t *testing.T, j *auth.JWTManager) *gin.Engine {
	r := gin.New()
	r.Use(Recovery(zaptest.NewLogger(t)), Authenticate(j))
	r.GET("/messages/:userA/:userB", RequireParticipant("userA", "userB"), func(c *gin.Context) {
		email := ""
		if claims, ok := ClaimsFrom(c); ok {
			email = claims.Email
		}
		c.String(http.StatusOK, email)
	})
	return r
}

func TestAuthenticate(t *testing.T) {
	j := auth.NewJWTManager("secret", time.Minute)
	token, _, err := j.GenerateToken("u-1", "Alice@x.com")
	require.NoError(t, err)

	cases := []struct {
		name   string
		path   string
		header string
		code   int
		body   string
	}{
		{"participant", "/messages/alice@x.com/bob@x.com", "Bearer " + token, http.StatusOK, "alice@x.com"},
		{"case insensitive participant", "/messages/bob@x.com/ALICE@x.com", "Bearer " + token, http.StatusOK, "alice@x.com"},
		{"outsider", "/messages/carol@x.com/bob@x.com", "Bearer " + token, http.StatusForbidden, ""},
		{"missing header", "/messages/alice@x.com/bob@x.com", "", http.StatusUnauthorized, ""},
		{"bad token", "/messages/alice@x.com/bob@x.com", "Bearer nope", http.StatusUnauthorized, ""},
	}

	r := newAuthRouter(t, j)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.code, w.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, w.Body.String())
			}
		})
	}
}

func TestAuthenticate_Disabled(t *testing.T) {
	r := newAuthRouter(t, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/messages/a@x.com/b@x.com", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery(zaptest.NewLogger(t)), RequestLogger(zaptest.NewLogger(t)))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"http://localhost:3000"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	r.ServeHTTP(w, req)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://evil.example")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
