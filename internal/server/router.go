// Package server assembles the HTTP API: middleware, routes and the listener lifecycle.
package server

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	healthhandler "tma-auth/internal/health/handler"
	identityhandler "tma-auth/internal/identity/handler"
	"tma-auth/internal/server/middleware"
	sessionhandler "tma-auth/internal/session/handler"
)

// Deps holds everything the router wires into handlers.
type Deps struct {
	ServiceName string
	Auth        identityhandler.AuthService
	Sessions    sessionhandler.SessionService
	Tokens      middleware.AccessVerifier
	// Checks are pinged by /readyz.
	Checks map[string]healthhandler.Pinger
	// AdminKey enables the admin routes when non-empty.
	AdminKey string
	Log      *zap.Logger
}

// NewRouter returns the gin engine serving the auth API.
func NewRouter(d Deps) *gin.Engine {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.Tracing(d.ServiceName), middleware.RequestLogger(log))

	healthhandler.NewHandler(d.Checks, log).Register(r)

	requireAccess := middleware.RequireAccessToken(d.Tokens)
	identityhandler.NewAuthHandler(d.Auth, log).Register(r, requireAccess)

	sessions := sessionhandler.NewHandler(d.Sessions, log)
	r.GET("/auth/sessions", requireAccess, sessions.List)
	if d.AdminKey != "" {
		admin := r.Group("/admin", middleware.RequireAdminKey(d.AdminKey))
		admin.POST("/sessions/:id/revoke", sessions.Revoke)
	}
	return r
}
