package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"kiosk-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const secret = "test-secret"

func sign(t *testing.T, sub uuid.UUID, role string, exp time.Time, key string) string {
	t.Helper()
	claims := accessClaims{
		Sub:  sub.String(),
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.String(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"bearer \"abc.def.ghi\"", "abc.def.ghi", true},
		{"Bearer abc.def.ghi, extra", "abc.def.ghi", true},
		{"Basic dXNlcjpwYXNz", "", false},
		{"Bearer", "", false},
	}
	for _, tt := range tests {
		got, ok := ExtractBearerToken(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestAdminRequired(t *testing.T) {
	gin.SetMode(gin.TestMode)
	admin := uuid.New()

	r := gin.New()
	r.GET("/x", AdminRequired(NewTokenVerifier(secret, "", ""), zap.NewNop()), func(c *gin.Context) {
		uid, err := service.RequireAdmin(c.Request.Context())
		require.NoError(t, err)
		c.String(http.StatusOK, uid.String())
	})

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"wrong key", "Bearer " + sign(t, admin, string(service.RoleAdmin), time.Now().Add(time.Hour), "other"), http.StatusUnauthorized},
		{"expired", "Bearer " + sign(t, admin, string(service.RoleAdmin), time.Now().Add(-time.Minute), secret), http.StatusUnauthorized},
		{"customer", "Bearer " + sign(t, admin, string(service.RoleCustomer), time.Now().Add(time.Hour), secret), http.StatusForbidden},
		{"admin", "Bearer " + sign(t, admin, string(service.RoleAdmin), time.Now().Add(time.Hour), secret), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.code, w.Code)
			if tt.code == http.StatusOK {
				assert.Equal(t, admin.String(), w.Body.String())
			}
		})
	}
}
