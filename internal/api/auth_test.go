package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func authRouter(t *testing.T, token string) *gin.Engine {
	t.Helper()
	t.Setenv("API_AUTH_TOKEN", token)
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/protected", AuthMiddleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestAuthMiddleware_NoTokenConfigured(t *testing.T) {
	r := authRouter(t, "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/protected", nil))
	if w.Code != http.StatusOK {
		t.Errorf("dev mode without token should allow, got %d", w.Code)
	}
}

func TestAuthMiddleware_Enforced(t *testing.T) {
	r := authRouter(t, "s3cret")

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic s3cret", http.StatusForbidden},
		{"wrong token", "Bearer nope", http.StatusForbidden},
		{"valid token", "Bearer s3cret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRateLimiter_BurstThenReject(t *testing.T) {
	rl := NewRateLimiter(60, 3)

	for i := 0; i < 3; i++ {
		if ok, _ := rl.allow("203.0.113.9"); !ok {
			t.Fatalf("request %d within burst should be allowed", i+1)
		}
	}
	ok, retryAfter := rl.allow("203.0.113.9")
	if ok {
		t.Error("request beyond burst should be rejected")
	}
	if retryAfter <= 0 {
		t.Errorf("retryAfter = %v, want positive", retryAfter)
	}

	// Other IPs have their own bucket.
	if ok, _ := rl.allow("198.51.100.2"); !ok {
		t.Error("different IP must not share the exhausted bucket")
	}
}
