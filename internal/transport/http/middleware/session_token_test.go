package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/pkg/jwtutil"
)

func newEngine(required bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", SessionToken("secret", required), func(c *gin.Context) {
		key, ok := SessionKey(c)
		if !ok {
			c.String(http.StatusOK, "anonymous")
			return
		}
		c.String(http.StatusOK, key)
	})
	return r
}

func serve(r *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSessionToken(t *testing.T) {
	token, err := jwtutil.GenerateToken("secret", time.Hour, "sess-1")
	require.NoError(t, err)
	foreign, err := jwtutil.GenerateToken("other", time.Hour, "sess-1")
	require.NoError(t, err)

	tests := []struct {
		name     string
		required bool
		header   string
		code     int
		body     string
	}{
		{name: "valid", required: true, header: "Bearer " + token, code: http.StatusOK, body: "sess-1"},
		{name: "missing required", required: true, code: http.StatusUnauthorized},
		{name: "missing optional", required: false, code: http.StatusOK, body: "anonymous"},
		{name: "wrong scheme", required: false, header: "Basic abc", code: http.StatusUnauthorized},
		{name: "foreign signature", required: false, header: "Bearer " + foreign, code: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(newEngine(tt.required), tt.header)
			assert.Equal(t, tt.code, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}
