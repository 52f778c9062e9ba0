package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/todolimpio-backend/internal/auth"
	pkgauth "github.com/angelmondragon/todolimpio-backend/pkg/auth"
	"github.com/angelmondragon/todolimpio-backend/pkg/config"
	"github.com/angelmondragon/todolimpio-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/todolimpio-backend/pkg/errors"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "todolimpio", ExpirationMinutes: 15}

type stubAuthService struct {
	loginErr  error
	refreshed auth.RefreshRequest
	loggedOut string
}

func (s *stubAuthService) Login(_ context.Context, req auth.LoginRequest) (*auth.TokenResponse, error) {
	if s.loginErr != nil {
		return nil, s.loginErr
	}
	return &auth.TokenResponse{AccessToken: "access", RefreshToken: "refresh", Identity: *ana}, nil
}

func (s *stubAuthService) Refresh(_ context.Context, req auth.RefreshRequest) (*auth.TokenResponse, error) {
	s.refreshed = req
	return &auth.TokenResponse{AccessToken: "access-2", RefreshToken: "refresh-2", Identity: *ana}, nil
}

func (s *stubAuthService) Logout(_ context.Context, accessID string) error {
	s.loggedOut = accessID
	return nil
}

func TestAuthLoginSetsTokenHeader(t *testing.T) {
	handler := AuthLogin(&stubAuthService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"ana@todolimpio.es","password":"pw"}`))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "access", resp.Header().Get(tokenHeader))
	assert.Equal(t, ana.ID, decodeData[auth.TokenResponse](t, resp).Identity.ID)
}

func TestAuthLoginRejectsBadCredentials(t *testing.T) {
	handler := AuthLogin(&stubAuthService{loginErr: pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid credentials")}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"ana@todolimpio.es","password":"nope"}`))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAuthLoginValidatesBody(t *testing.T) {
	handler := AuthLogin(&stubAuthService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":""}`))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestAuthRefreshPassesHeaderToken(t *testing.T) {
	svc := &stubAuthService{}
	handler := AuthRefresh(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", strings.NewReader(`{"refresh_token":"refresh"}`))
	req.Header.Set("Authorization", "Bearer old-access")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "old-access", svc.refreshed.AccessToken)
	assert.Equal(t, "refresh", svc.refreshed.RefreshToken)
	assert.Equal(t, "access-2", resp.Header().Get(tokenHeader))
}

func TestAuthLogoutAcceptsExpiredToken(t *testing.T) {
	svc := &stubAuthService{}
	handler := AuthLogout(svc, testJWT, nil)

	token, err := pkgauth.MintAccessToken(testJWT, time.Now().Add(-time.Hour), pkgauth.AccessTokenPayload{
		UserID: uuid.New(),
		Role:   enums.RoleUser,
		JTI:    "jti-expired",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "jti-expired", svc.loggedOut)
}

func TestAuthLogoutRequiresToken(t *testing.T) {
	handler := AuthLogout(&stubAuthService{}, testJWT, nil)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAuthMe(t *testing.T) {
	handler := AuthMe(nil)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, asIdentity(httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil), ana))
	require.Equal(t, http.StatusOK, resp.Code)
	got := decodeData[pkgauth.Identity](t, resp)
	assert.Equal(t, *ana, got)

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}
