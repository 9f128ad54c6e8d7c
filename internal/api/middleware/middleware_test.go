package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/yoockh/anamnesi/internal/logger"
	"github.com/yoockh/anamnesi/internal/metrics"
)

const testSecret = "test-secret"

func init() { gin.SetMode(gin.TestMode) }

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func whoami(cfg JWTConfig, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append([]gin.HandlerFunc{JWTAuth(cfg)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id": c.GetString("user_id"),
			"role":    c.GetString("role"),
			"admin":   IsAdmin(c),
		})
	})
	r.GET("/me", handlers...)
	return r
}

func do(r http.Handler, target, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	cfg := JWTConfig{Secret: testSecret, Issuer: "anamnesi", Audience: "clinic"}
	valid := jwt.MapClaims{
		"sub": "doc-1",
		"iss": "anamnesi",
		"aud": "clinic",
		"exp": time.Now().Add(time.Hour).Unix(),
	}

	cases := []struct {
		name   string
		token  string
		query  bool
		status int
		body   string
	}{
		{name: "missing", status: http.StatusUnauthorized, body: "missing bearer token"},
		{name: "valid header", token: sign(t, testSecret, valid), status: http.StatusOK, body: `"role":"clinician"`},
		{name: "valid query", token: sign(t, testSecret, valid), query: true, status: http.StatusOK, body: `"user_id":"doc-1"`},
		{name: "wrong secret", token: sign(t, "other", valid), status: http.StatusUnauthorized, body: "invalid token"},
		{name: "expired", token: sign(t, testSecret, jwt.MapClaims{
			"sub": "doc-1", "iss": "anamnesi", "aud": "clinic",
			"exp": time.Now().Add(-time.Minute).Unix(),
		}), status: http.StatusUnauthorized, body: "invalid token"},
		{name: "wrong issuer", token: sign(t, testSecret, jwt.MapClaims{
			"sub": "doc-1", "iss": "someone", "aud": "clinic",
		}), status: http.StatusUnauthorized, body: "issuer"},
		{name: "wrong audience", token: sign(t, testSecret, jwt.MapClaims{
			"sub": "doc-1", "iss": "anamnesi", "aud": "elsewhere",
		}), status: http.StatusUnauthorized, body: "audience"},
		{name: "no subject", token: sign(t, testSecret, jwt.MapClaims{
			"iss": "anamnesi", "aud": "clinic",
		}), status: http.StatusUnauthorized, body: "missing subject"},
		{name: "admin via app_metadata", token: sign(t, testSecret, jwt.MapClaims{
			"sub": "root", "iss": "anamnesi", "aud": "clinic",
			"app_metadata": map[string]any{"role": "admin"},
		}), status: http.StatusOK, body: `"admin":true`},
	}

	r := whoami(cfg)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var w *httptest.ResponseRecorder
			if tc.query {
				w = do(r, "/me?access_token="+tc.token, "")
			} else {
				w = do(r, "/me", tc.token)
			}
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tc.status, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tc.body) {
				t.Fatalf("body %s does not contain %q", w.Body.String(), tc.body)
			}
		})
	}
}

func TestJWTAuthWithoutSecret(t *testing.T) {
	w := do(whoami(JWTConfig{}), "/me", "anything")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestRequireRole(t *testing.T) {
	r := whoami(JWTConfig{Secret: testSecret}, RequireRole("Admin"))

	w := do(r, "/me", sign(t, testSecret, jwt.MapClaims{"sub": "doc-1"}))
	if w.Code != http.StatusForbidden {
		t.Fatalf("clinician: status = %d", w.Code)
	}

	w = do(r, "/me", sign(t, testSecret, jwt.MapClaims{"sub": "root", "role": "admin"}))
	if w.Code != http.StatusOK {
		t.Fatalf("admin: status = %d", w.Code)
	}
}

func TestRequestLoggerMetrics(t *testing.T) {
	m := metrics.New(nil)
	r := gin.New()
	r.Use(RequestLogger(logger.Discard(), m))
	r.GET("/interviews/:interview_id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	do(r, "/interviews/a", "")
	do(r, "/interviews/b", "")
	w := do(r, "/nowhere", "")

	if w.Header().Get("X-Request-Id") == "" {
		t.Fatal("missing X-Request-Id")
	}
	scrape := do(m.Handler(), "/metrics", "").Body.String()
	for _, line := range []string{
		`anamnesi_http_requests_total{method="GET",path="/interviews/:interview_id",status="204"} 2`,
		`anamnesi_http_requests_total{method="GET",path="unmatched",status="404"} 1`,
	} {
		if !strings.Contains(scrape, line) {
			t.Fatalf("metrics missing %q:\n%s", line, scrape)
		}
	}
}
