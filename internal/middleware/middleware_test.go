package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func init() { gin.SetMode(gin.TestMode) }

func protected() *gin.Engine {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/p", JWTAuth(secret), RequireRole(RoleCashier), func(c *gin.Context) {
		claims := GetClaims(c)
		c.JSON(http.StatusOK, gin.H{"store": claims.StoreID, "user": claims.UserID})
	})
	return r
}

func get(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth_AcceptsIssuedToken(t *testing.T) {
	tok, err := IssueToken(secret, "cashier-1", "store-1", RoleCashier, time.Hour)
	require.NoError(t, err)

	w := get(protected(), tok)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "store-1")
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestJWTAuth_RejectsMissingAndForeignTokens(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, get(protected(), "").Code)

	tok, err := IssueToken("other-secret", "cashier-1", "store-1", RoleCashier, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(protected(), tok).Code)

	expired, err := IssueToken(secret, "cashier-1", "store-1", RoleCashier, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(protected(), expired).Code)
}

func TestJWTAuth_RequiresStoreScope(t *testing.T) {
	tok, err := IssueToken(secret, "cashier-1", "", RoleCashier, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(protected(), tok).Code)
}

func TestRequireRole_Forbidden(t *testing.T) {
	tok, err := IssueToken(secret, "u", "store-1", "AUDITOR", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, get(protected(), tok).Code)
}

func TestRateLimiter_RejectsOverBurst(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/p", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, get(r, "").Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimiter_Purge(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.entryTTL = 0
	rl.get("ip:1")
	time.Sleep(time.Millisecond)
	assert.Equal(t, 1, rl.Purge())
}

func TestRecovery_HidesPanic(t *testing.T) {
	r := gin.New()
	r.Use(Recovery())
	r.GET("/p", func(*gin.Context) { panic("db password leaked") })

	w := get(r, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "password")
}
