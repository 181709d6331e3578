// Package handler exposes the auth service over HTTP.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tma-auth/internal/identity/service"
	"tma-auth/internal/server/middleware"
	"tma-auth/internal/server/respond"
	"tma-auth/internal/telegram"
)

// maxBodyBytes bounds login and refresh bodies. initData is well under 4 KiB in practice.
const maxBodyBytes = 16 << 10

var errUnsupportedField = errors.New("unsupported login field")

// AuthService is the part of service.AuthService the handler needs.
type AuthService interface {
	Login(ctx context.Context, fields map[string]string) (*service.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*service.AuthResult, error)
	Logout(ctx context.Context, refreshToken, accessToken string) error
}

// AuthHandler serves /auth/login, /auth/refresh, /auth/logout and /auth/session.
type AuthHandler struct {
	svc AuthService
	log *zap.Logger
}

// NewAuthHandler returns an AuthHandler backed by svc.
func NewAuthHandler(svc AuthService, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{svc: svc, log: log}
}

// Register mounts the public auth routes on r. requireAccess guards GET /auth/session.
func (h *AuthHandler) Register(r gin.IRoutes, requireAccess gin.HandlerFunc) {
	r.POST("/auth/login", h.Login)
	r.POST("/auth/refresh", h.Refresh)
	r.POST("/auth/logout", h.Logout)
	r.GET("/auth/session", requireAccess, h.Session)
}

// PrincipalResponse is the principal profile returned on login.
type PrincipalResponse struct {
	ID           string `json:"id"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	Username     string `json:"username,omitempty"`
	PhotoURL     string `json:"photo_url,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
	IsPremium    bool   `json:"is_premium,omitempty"`
}

// TokenResponse is returned by login and refresh.
type TokenResponse struct {
	AccessToken      string             `json:"access_token"`
	RefreshToken     string             `json:"refresh_token"`
	AccessExpiresAt  time.Time          `json:"access_expires_at"`
	RefreshExpiresAt time.Time          `json:"refresh_expires_at"`
	SessionID        string             `json:"session_id"`
	Generation       int64              `json:"generation"`
	Principal        *PrincipalResponse `json:"principal,omitempty"`
}

// SessionResponse describes the session behind the presented access token.
type SessionResponse struct {
	PrincipalID string    `json:"principal_id"`
	SessionID   string    `json:"session_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Login accepts either {"init_data": "<raw Mini App initData>"} or the flat Login Widget object.
func (h *AuthHandler) Login(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		respond.BadRequest(c)
		return
	}
	fields, err := loginFields(body)
	if err != nil {
		if errors.Is(err, errUnsupportedField) || errors.Is(err, telegram.ErrVerification) {
			respond.Unauthorized(c)
			return
		}
		respond.BadRequest(c)
		return
	}
	res, err := h.svc.Login(c.Request.Context(), fields)
	if err != nil {
		respond.Error(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toTokenResponse(res))
}

// Refresh rotates the presented refresh token.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := json.NewDecoder(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)).Decode(&req); err != nil {
		respond.BadRequest(c)
		return
	}
	if req.RefreshToken == "" {
		respond.Unauthorized(c)
		return
	}
	res, err := h.svc.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respond.Error(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toTokenResponse(res))
}

// Logout revokes the session named by the body's refresh token or the bearer access token.
// It answers 204 even when neither names a session.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req refreshRequest
	if c.Request.ContentLength != 0 {
		// An empty or non-JSON body just means the bearer token is used.
		_ = json.NewDecoder(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)).Decode(&req)
	}
	access := middleware.ExtractBearer(c.GetHeader("Authorization"))
	if err := h.svc.Logout(c.Request.Context(), req.RefreshToken, access); err != nil {
		respond.Error(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Session returns the claims of the presented access token. It must run behind RequireAccessToken.
func (h *AuthHandler) Session(c *gin.Context) {
	ctx := c.Request.Context()
	pid, ok := middleware.GetPrincipalID(ctx)
	if !ok {
		respond.Unauthorized(c)
		return
	}
	sid, _ := middleware.GetSessionID(ctx)
	exp, _ := middleware.GetAccessExpiry(ctx)
	c.JSON(http.StatusOK, SessionResponse{PrincipalID: pid, SessionID: sid, ExpiresAt: exp})
}

// loginFields flattens a login body into the string map the verifier signs over.
func loginFields(body []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errUnsupportedField
	}
	if v, ok := raw["init_data"]; ok {
		s, ok := v.(string)
		if !ok || s == "" {
			return nil, errUnsupportedField
		}
		return telegram.ParseInitData(s)
	}
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch tv := v.(type) {
		case string:
			fields[k] = tv
		case json.Number:
			fields[k] = tv.String()
		case bool:
			fields[k] = strconv.FormatBool(tv)
		default:
			return nil, errUnsupportedField
		}
	}
	return fields, nil
}

func toTokenResponse(res *service.AuthResult) TokenResponse {
	out := TokenResponse{
		AccessToken:      res.AccessToken.Value,
		RefreshToken:     res.RefreshToken.Value,
		AccessExpiresAt:  res.AccessToken.ExpiresAt,
		RefreshExpiresAt: res.RefreshToken.ExpiresAt,
		SessionID:        res.SessionID,
		Generation:       res.Generation,
	}
	if p := res.Principal; p != nil {
		out.Principal = &PrincipalResponse{
			ID:           p.ID,
			FirstName:    p.FirstName,
			LastName:     p.LastName,
			Username:     p.Username,
			PhotoURL:     p.PhotoURL,
			LanguageCode: p.LanguageCode,
			IsPremium:    p.IsPremium,
		}
	}
	return out
}
