package httpkit

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"achievement_engine/platform/apperr"
)

const testSecret = "test-access-secret"

type jwtConfig struct{}

func (jwtConfig) GetJWTAccessSecret() string { return testSecret }

func init() {
	gin.SetMode(gin.TestMode)
}

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims AccessClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func accessClaims(sub string, roles ...string) AccessClaims {
	return AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Type:  tokenTypeAccess,
		Roles: roles,
	}
}

func newAuthRouter() *gin.Engine {
	engine := gin.New()
	protected := engine.Group("", AuthRequired(jwtConfig{}))
	protected.GET("/me", func(c *gin.Context) {
		id := MustGetIdentity(c)
		if id == nil {
			return
		}
		c.String(http.StatusOK, id.UserID().String())
	})
	protected.GET("/admin", RequireRole(RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return engine
}

func TestAuthRequired(t *testing.T) {
	userID := uuid.New()
	valid := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), accessClaims(userID.String()))

	refresh := accessClaims(userID.String())
	refresh.Type = "refresh"
	expired := accessClaims(userID.String())
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noExpiry := accessClaims(userID.String())
	noExpiry.ExpiresAt = nil

	cases := map[string]struct {
		header string
		query  string
		want   int
	}{
		"bearer":        {header: "Bearer " + valid, want: http.StatusOK},
		"query token":   {query: "?token=" + valid, want: http.StatusOK},
		"missing":       {want: http.StatusUnauthorized},
		"empty bearer":  {header: "Bearer   ", want: http.StatusUnauthorized},
		"wrong secret":  {header: "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), accessClaims(userID.String())), want: http.StatusUnauthorized},
		"wrong alg":     {header: "Bearer " + signToken(t, jwt.SigningMethodHS512, []byte(testSecret), accessClaims(userID.String())), want: http.StatusUnauthorized},
		"refresh token": {header: "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), refresh), want: http.StatusUnauthorized},
		"expired":       {header: "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), expired), want: http.StatusUnauthorized},
		"no expiry":     {header: "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), noExpiry), want: http.StatusUnauthorized},
		"bad subject":   {header: "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), accessClaims("not-a-uuid")), want: http.StatusUnauthorized},
	}

	engine := newAuthRouter()
	for name, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/me"+tc.query, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d (%s)", name, tc.want, rec.Code, rec.Body.String())
		}
		if tc.want == http.StatusOK && rec.Body.String() != userID.String() {
			t.Fatalf("%s: expected identity %s, got %s", name, userID, rec.Body.String())
		}
	}
}

func TestRequireRole(t *testing.T) {
	engine := newAuthRouter()
	userID := uuid.New().String()

	for roles, want := range map[string]int{
		"":      http.StatusForbidden,
		"admin": http.StatusNoContent,
	} {
		claims := accessClaims(userID)
		if roles != "" {
			claims.Roles = []string{roles}
		}
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.SigningMethodHS256, []byte(testSecret), claims))
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("roles %q: expected %d, got %d", roles, want, rec.Code)
		}
	}
}

func TestRequestIDEchoesOrMints(t *testing.T) {
	engine := gin.New()
	engine.Use(RequestID())
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if got := rec.Header().Get(HeaderRequestID); got != "req-42" {
		t.Fatalf("expected inbound id echoed, got %q", got)
	}

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if _, err := uuid.Parse(rec.Header().Get(HeaderRequestID)); err != nil {
		t.Fatalf("expected minted uuid, got %q", rec.Header().Get(HeaderRequestID))
	}
}

func TestIPRateLimiterBurstAndPrune(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewIPRateLimiter(rate.Every(time.Hour), 2, nil)
	limiter.now = func() time.Time { return now }

	if !limiter.Allow("10.0.0.1") || !limiter.Allow("10.0.0.1") {
		t.Fatalf("expected burst of 2 to pass")
	}
	if limiter.Allow("10.0.0.1") {
		t.Fatalf("expected third request to be limited")
	}
	if !limiter.Allow("10.0.0.2") {
		t.Fatalf("expected other client to have its own bucket")
	}

	now = now.Add(limiterIdleTTL + time.Second)
	limiter.Allow("10.0.0.3")
	if limiter.Len() != 1 {
		t.Fatalf("expected idle clients pruned, tracking %d", limiter.Len())
	}
}

func TestHandleErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
		body string
	}{
		{apperr.NotFound("user progress not found"), http.StatusNotFound, `{"error":"user progress not found"}`},
		{apperr.Validation("invalid levelId"), http.StatusBadRequest, `{"error":"invalid levelId"}`},
		{apperr.Infrastructure("load ladder", errors.New("conn reset")), http.StatusInternalServerError, `{"error":"Internal Server Error"}`},
		{errors.New("pgx: closed pool"), http.StatusInternalServerError, `{"error":"Internal Server Error"}`},
	}

	for _, tc := range cases {
		engine := gin.New()
		engine.GET("/", func(c *gin.Context) { HandleError(c, tc.err) })
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != tc.want || rec.Body.String() != tc.body {
			t.Fatalf("%v: expected %d %s, got %d %s", tc.err, tc.want, tc.body, rec.Code, rec.Body.String())
		}
	}
}
