// Package handler serves session listing and operator revocation over HTTP.
package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tma-auth/internal/server/middleware"
	"tma-auth/internal/server/respond"
	"tma-auth/internal/session/domain"
)

// maxSessionIDLen rejects obviously bogus path parameters before they reach the store.
const maxSessionIDLen = 128

// SessionService is the part of the auth service this handler needs.
type SessionService interface {
	Sessions(ctx context.Context, principalID string) ([]*domain.Session, error)
	AdminRevoke(ctx context.Context, sessionID string) error
}

// Handler serves GET /auth/sessions and POST /admin/sessions/:id/revoke.
type Handler struct {
	svc SessionService
	log *zap.Logger
}

// NewHandler returns a Handler backed by svc.
func NewHandler(svc SessionService, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, log: log}
}

// SessionView is a session as shown to its owner. Fingerprints are never included.
type SessionView struct {
	ID           string     `json:"id"`
	Generation   int64      `json:"generation"`
	IssuedAt     time.Time  `json:"issued_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	RotatedAt    *time.Time `json:"rotated_at,omitempty"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	RevokeReason string     `json:"revoke_reason,omitempty"`
	Current      bool       `json:"current"`
}

// List returns the caller's sessions, newest first. It must run behind RequireAccessToken.
func (h *Handler) List(c *gin.Context) {
	ctx := c.Request.Context()
	pid, ok := middleware.GetPrincipalID(ctx)
	if !ok {
		respond.Unauthorized(c)
		return
	}
	current, _ := middleware.GetSessionID(ctx)

	list, err := h.svc.Sessions(ctx, pid)
	if err != nil {
		respond.Error(c, h.log, err)
		return
	}
	out := make([]SessionView, 0, len(list))
	for _, s := range list {
		out = append(out, SessionView{
			ID:           s.ID,
			Generation:   s.Generation,
			IssuedAt:     s.IssuedAt,
			ExpiresAt:    s.ExpiresAt,
			RotatedAt:    s.RotatedAt,
			RevokedAt:    s.RevokedAt,
			RevokeReason: string(s.RevokeReason),
			Current:      s.ID == current,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// Revoke ends the session named in the path. Unknown ids succeed.
func (h *Handler) Revoke(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" || len(id) > maxSessionIDLen {
		respond.BadRequest(c)
		return
	}
	if err := h.svc.AdminRevoke(c.Request.Context(), id); err != nil {
		respond.Error(c, h.log, err)
		return
	}
	h.log.Info("session revoked by operator", zap.String("session_id", id))
	c.Status(http.StatusNoContent)
}
