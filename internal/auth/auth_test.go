package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) *Service {
	t.Helper()
	adminHash, err := HashPassword("s3cret")
	require.NoError(t, err)
	viewerHash, err := HashPassword("look")
	require.NoError(t, err)
	s, err := New(Config{
		Enabled:   true,
		Token:     "static-admin",
		JWTSecret: "test-secret",
		TokenTTL:  time.Hour,
		Users: []User{
			{Username: "ops", PasswordHash: adminHash, Role: RoleAdmin},
			{Username: "dash", PasswordHash: viewerHash},
		},
	})
	require.NoError(t, err)
	return s
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Enabled: true})
	assert.Error(t, err)
	_, err = New(Config{Users: []User{{Username: "x"}}})
	assert.Error(t, err)
	_, err = New(Config{Users: []User{{Username: "x", PasswordHash: "h", Role: "root"}}})
	assert.Error(t, err)

	s, err := New(Config{})
	require.NoError(t, err)
	assert.False(t, s.Enabled())
	var nilSvc *Service
	assert.False(t, nilSvc.Enabled())
}

func TestAuthenticateStaticToken(t *testing.T) {
	s := newService(t)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer static-admin")
	res, err := s.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, res.Role)
	assert.Equal(t, MethodToken, res.Method)

	r.Header.Set("Authorization", "Bearer nope")
	_, err = s.Authenticate(r)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateBasic(t *testing.T) {
	s := newService(t)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.SetBasicAuth("dash", "look")
	res, err := s.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, RoleViewer, res.Role)
	assert.Equal(t, MethodBasic, res.Method)

	r.SetBasicAuth("dash", "wrong")
	_, err = s.Authenticate(r)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginAndJWT(t *testing.T) {
	s := newService(t)
	tok, err := s.Login("ops", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.Type)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+tok.Value)
	res, err := s.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "ops", res.Subject)
	assert.Equal(t, RoleAdmin, res.Role)
	assert.Equal(t, MethodJWT, res.Method)

	_, err = s.Login("ops", "bad")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestJWTRejections(t *testing.T) {
	s := newService(t)
	tok, err := s.Login("dash", "look")
	require.NoError(t, err)

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+tok.Value)
	_, err = s.Authenticate(r)
	assert.ErrorIs(t, err, ErrInvalidCredentials, "expired")

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "ops", Issuer: issuer},
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	s.now = time.Now
	r.Header.Set("Authorization", "Bearer "+forged)
	_, err = s.Authenticate(r)
	assert.ErrorIs(t, err, ErrInvalidCredentials, "wrong key")

	noSecret, err := New(Config{Enabled: true, Token: "t"})
	require.NoError(t, err)
	_, err = noSecret.Login("ops", "s3cret")
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestAllows(t *testing.T) {
	assert.True(t, Allows(RoleViewer, false))
	assert.False(t, Allows(RoleViewer, true))
	assert.True(t, Allows(RoleAdmin, true))
	assert.False(t, Allows("", false))
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newService(t)
	g := gin.New()
	g.Use(GinAuth(s))
	g.GET("/read", func(c *gin.Context) { c.Status(http.StatusOK) })
	g.POST("/write", GinRequireWrite(s), func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(method, path string, set func(r *http.Request)) int {
		r := httptest.NewRequest(method, path, nil)
		if set != nil {
			set(r)
		}
		rec := httptest.NewRecorder()
		g.ServeHTTP(rec, r)
		return rec.Code
	}
	viewer := func(r *http.Request) { r.SetBasicAuth("dash", "look") }
	admin := func(r *http.Request) { r.Header.Set("Authorization", "Bearer static-admin") }

	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/read", nil))
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/read", viewer))
	assert.Equal(t, http.StatusForbidden, do(http.MethodPost, "/write", viewer))
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/write", admin))

	open := gin.New()
	open.Use(GinAuth(nil))
	open.POST("/write", GinRequireWrite(nil), func(c *gin.Context) { c.Status(http.StatusOK) })
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/write", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
