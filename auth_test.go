package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"runcard/config"
)

func testAuth(t *testing.T) *authenticator {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte("s3cret!"), bcrypt.MinCost)
	require.NoError(t, err)
	return newAuthenticator(config.AuthConfig{
		Enabled:      true,
		Username:     "admin",
		PasswordHash: string(h),
		JWTSecret:    "test-secret",
		TokenTTL:     time.Hour,
	})
}

func login(t *testing.T, h http.Handler, user, pass string) (int, map[string]any) {
	t.Helper()
	b, _ := json.Marshal(map[string]string{"username": user, "password": pass})
	resp := performRequest(h, http.MethodPost, "/login", bytes.NewBuffer(b), "", "application/json")
	var out map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &out)
	return resp.Code, out
}

func TestAuthenticate(t *testing.T) {
	a := testAuth(t)
	assert.NoError(t, a.Authenticate("admin", "s3cret!"))
	assert.NoError(t, a.Authenticate(" admin ", "s3cret!"))
	assert.Error(t, a.Authenticate("admin", "wrong"))
	assert.Error(t, a.Authenticate("root", "s3cret!"))
}

func TestLoginAndProtectedRoutes(t *testing.T) {
	r := testRouter(&server{ex: &fakeExtractor{rec: sampleRecord()}, auth: testAuth(t)})

	// public routes stay open
	assert.Equal(t, http.StatusOK, performRequest(r, http.MethodGet, "/healthz", nil, "", "").Code)

	body, ct := uploadBody(t, pngBytes(t), nil)
	unauth := performRequest(r, http.MethodPost, "/extract", body, "", ct)
	assert.Equal(t, http.StatusUnauthorized, unauth.Code)

	code, _ := login(t, r, "admin", "nope")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, out := login(t, r, "admin", "s3cret!")
	require.Equal(t, http.StatusOK, code)
	token, _ := out["token"].(string)
	require.NotEmpty(t, token)
	exp, err := time.Parse(time.RFC3339, out["expires_at"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	body, ct = uploadBody(t, pngBytes(t), nil)
	resp := performRequest(r, http.MethodPost, "/extract", body, token, ct)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestLogin_BadBody(t *testing.T) {
	r := testRouter(&server{ex: &fakeExtractor{rec: sampleRecord()}, auth: testAuth(t)})
	resp := performRequest(r, http.MethodPost, "/login", bytes.NewBufferString(`{"username":"admin"}`), "", "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestJWTMiddleware_RejectsBadTokens(t *testing.T) {
	a := testAuth(t)
	r := testRouter(&server{ex: &fakeExtractor{rec: sampleRecord()}, auth: a})

	other := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"username": "admin", "exp": time.Now().Add(time.Hour).Unix()})
	forged, err := other.SignedString([]byte("other-secret"))
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"username": "admin", "exp": time.Now().Add(time.Hour).Unix()})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	a.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := a.Issue("admin")
	require.NoError(t, err)
	a.now = time.Now

	for name, token := range map[string]string{"forged": forged, "none": unsigned, "expired": expired, "garbage": "abc"} {
		resp := performRequest(r, http.MethodGet, "/records", nil, token, "")
		assert.Equal(t, http.StatusUnauthorized, resp.Code, name)
	}

	req, _ := http.NewRequest(http.MethodGet, "/records", nil)
	req.Header.Set("Authorization", "Token abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHashPassword(t *testing.T) {
	_, err := hashPassword("short")
	assert.Error(t, err)

	h, err := hashPassword("long enough")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(h), []byte("long enough")))
}
