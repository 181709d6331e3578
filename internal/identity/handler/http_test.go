package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tma-auth/internal/identity/service"
	principaldomain "tma-auth/internal/principal/domain"
	"tma-auth/internal/security"
	"tma-auth/internal/server/middleware"
)

type mockAuthService struct {
	mock.Mock
}

func (m *mockAuthService) Login(ctx context.Context, fields map[string]string) (*service.AuthResult, error) {
	args := m.Called(ctx, fields)
	res, _ := args.Get(0).(*service.AuthResult)
	return res, args.Error(1)
}

func (m *mockAuthService) Refresh(ctx context.Context, refreshToken string) (*service.AuthResult, error) {
	args := m.Called(ctx, refreshToken)
	res, _ := args.Get(0).(*service.AuthResult)
	return res, args.Error(1)
}

func (m *mockAuthService) Logout(ctx context.Context, refreshToken, accessToken string) error {
	return m.Called(ctx, refreshToken, accessToken).Error(0)
}

type handlerSuite struct {
	svc    *mockAuthService
	tokens *security.Issuer
	router *gin.Engine
}

func setupHandlerSuite(t *testing.T) *handlerSuite {
	t.Helper()
	gin.SetMode(gin.TestMode)
	tokens, err := security.NewTestIssuer()
	require.NoError(t, err)
	s := &handlerSuite{svc: &mockAuthService{}, tokens: tokens, router: gin.New()}
	NewAuthHandler(s.svc, nil).Register(s.router, middleware.RequireAccessToken(tokens))
	return s
}

func (s *handlerSuite) do(method, path, body string, header http.Header) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		r.Header[k] = v
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	return w
}

var issuedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func sampleResult(withPrincipal bool) *service.AuthResult {
	res := &service.AuthResult{
		AccessToken:  security.Token{Value: "access-jwt", IssuedAt: issuedAt, ExpiresAt: issuedAt.Add(15 * time.Minute)},
		RefreshToken: security.Token{Value: "refresh-jwt", IssuedAt: issuedAt, ExpiresAt: issuedAt.Add(720 * time.Hour)},
		SessionID:    "sid-1",
		Generation:   0,
		PrincipalID:  "42",
	}
	if withPrincipal {
		res.Principal = &principaldomain.Principal{ID: "42", FirstName: "Ada", Username: "ada"}
	}
	return res
}

func TestLogin_InitData(t *testing.T) {
	s := setupHandlerSuite(t)
	want := map[string]string{"auth_date": "1700000000", "user": `{"id":42}`, "hash": "abc"}
	s.svc.On("Login", mock.Anything, want).Return(sampleResult(true), nil).Once()

	body := `{"init_data":"auth_date=1700000000&user=%7B%22id%22%3A42%7D&hash=abc"}`
	w := s.do(http.MethodPost, "/auth/login", body, nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "access-jwt", resp.AccessToken)
	assert.Equal(t, "refresh-jwt", resp.RefreshToken)
	assert.Equal(t, "sid-1", resp.SessionID)
	assert.Equal(t, int64(0), resp.Generation)
	assert.True(t, resp.AccessExpiresAt.Equal(issuedAt.Add(15*time.Minute)))
	require.NotNil(t, resp.Principal)
	assert.Equal(t, "42", resp.Principal.ID)
	assert.Equal(t, "ada", resp.Principal.Username)
	s.svc.AssertExpectations(t)
}

func TestLogin_WidgetObject(t *testing.T) {
	s := setupHandlerSuite(t)
	want := map[string]string{"id": "42", "first_name": "Ada", "auth_date": "1700000000", "hash": "abc"}
	s.svc.On("Login", mock.Anything, want).Return(sampleResult(true), nil).Once()

	w := s.do(http.MethodPost, "/auth/login", `{"id":42,"first_name":"Ada","auth_date":1700000000,"hash":"abc"}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	s.svc.AssertExpectations(t)
}

func TestLogin_Rejections(t *testing.T) {
	testCases := []struct {
		name string
		body string
		code int
	}{
		{"not json", `id=42`, http.StatusBadRequest},
		{"empty object", `{}`, http.StatusUnauthorized},
		{"nested field", `{"id":42,"extra":{"a":1}}`, http.StatusUnauthorized},
		{"init_data not string", `{"init_data":42}`, http.StatusUnauthorized},
		{"init_data repeated key", `{"init_data":"hash=a&hash=b"}`, http.StatusUnauthorized},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := setupHandlerSuite(t)
			w := s.do(http.MethodPost, "/auth/login", tc.body, nil)
			assert.Equal(t, tc.code, w.Code)
			s.svc.AssertNotCalled(t, "Login", mock.Anything, mock.Anything)
		})
	}
}

func TestLogin_ServiceErrors(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		code int
		body string
	}{
		{"verification failed", service.ErrAuthenticationFailed, http.StatusUnauthorized, `{"error":"authentication failed"}`},
		{"store down", fmt.Errorf("%w: create session: timeout", service.ErrStoreUnavailable), http.StatusServiceUnavailable, `{"error":"service unavailable"}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := setupHandlerSuite(t)
			s.svc.On("Login", mock.Anything, mock.Anything).Return(nil, tc.err).Once()
			w := s.do(http.MethodPost, "/auth/login", `{"id":42,"auth_date":1,"hash":"x"}`, nil)
			assert.Equal(t, tc.code, w.Code)
			assert.JSONEq(t, tc.body, w.Body.String())
		})
	}
}

func TestRefresh(t *testing.T) {
	s := setupHandlerSuite(t)
	res := sampleResult(false)
	res.Generation = 1
	s.svc.On("Refresh", mock.Anything, "old-refresh").Return(res, nil).Once()

	w := s.do(http.MethodPost, "/auth/refresh", `{"refresh_token":"old-refresh"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Generation)
	assert.Nil(t, resp.Principal)
	s.svc.AssertExpectations(t)
}

func TestRefresh_Errors(t *testing.T) {
	t.Run("revoked session", func(t *testing.T) {
		s := setupHandlerSuite(t)
		s.svc.On("Refresh", mock.Anything, "reused").Return(nil, service.ErrSessionRevoked).Once()
		w := s.do(http.MethodPost, "/auth/refresh", `{"refresh_token":"reused"}`, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"error":"authentication failed"}`, w.Body.String())
	})
	t.Run("store unavailable", func(t *testing.T) {
		s := setupHandlerSuite(t)
		s.svc.On("Refresh", mock.Anything, "tok").Return(nil, service.ErrStoreUnavailable).Once()
		w := s.do(http.MethodPost, "/auth/refresh", `{"refresh_token":"tok"}`, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
	t.Run("missing token", func(t *testing.T) {
		s := setupHandlerSuite(t)
		w := s.do(http.MethodPost, "/auth/refresh", `{}`, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		s.svc.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything)
	})
	t.Run("bad json", func(t *testing.T) {
		s := setupHandlerSuite(t)
		w := s.do(http.MethodPost, "/auth/refresh", `{`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestLogout(t *testing.T) {
	t.Run("refresh token in body", func(t *testing.T) {
		s := setupHandlerSuite(t)
		s.svc.On("Logout", mock.Anything, "rt", "").Return(nil).Once()
		w := s.do(http.MethodPost, "/auth/logout", `{"refresh_token":"rt"}`, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
		s.svc.AssertExpectations(t)
	})
	t.Run("bearer access token", func(t *testing.T) {
		s := setupHandlerSuite(t)
		s.svc.On("Logout", mock.Anything, "", "at").Return(nil).Once()
		w := s.do(http.MethodPost, "/auth/logout", "", http.Header{"Authorization": {"Bearer at"}})
		assert.Equal(t, http.StatusNoContent, w.Code)
		s.svc.AssertExpectations(t)
	})
	t.Run("store unavailable", func(t *testing.T) {
		s := setupHandlerSuite(t)
		s.svc.On("Logout", mock.Anything, "rt", "").Return(service.ErrStoreUnavailable).Once()
		w := s.do(http.MethodPost, "/auth/logout", `{"refresh_token":"rt"}`, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestSession(t *testing.T) {
	s := setupHandlerSuite(t)
	now := time.Now()
	tok, err := s.tokens.IssueAccessToken("42", "sid-1", now)
	require.NoError(t, err)

	w := s.do(http.MethodGet, "/auth/session", "", http.Header{"Authorization": {"Bearer " + tok.Value}})
	require.Equal(t, http.StatusOK, w.Code)
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "42", resp.PrincipalID)
	assert.Equal(t, "sid-1", resp.SessionID)
	assert.WithinDuration(t, tok.ExpiresAt, resp.ExpiresAt, time.Second)

	w = s.do(http.MethodGet, "/auth/session", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
