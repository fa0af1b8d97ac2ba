package httptransport

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/ruslanbekov/magic-auth/internal/transport/http/handler"
	"github.com/ruslanbekov/magic-auth/internal/transport/http/middleware"
	"github.com/ruslanbekov/magic-auth/internal/usecase"

	sloggin "github.com/samber/slog-gin"
)

func NewRouter(logger *slog.Logger, authHandler *handler.AuthHandler, authUsecase *usecase.AuthUsecase) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	// Public auth routes
	auth := r.Group("/auth")
	auth.POST("/request-link", authHandler.RequestLink)
	auth.GET("/verify", authHandler.Verify)
	auth.POST("/logout", authHandler.Logout)

	// Per-request identity checks go through the session middleware.
	auth.GET("/me", middleware.SessionAuth(authUsecase), authHandler.Me)

	return r
}
