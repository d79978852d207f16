package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tourtastic/tourtastic/api"
	"github.com/tourtastic/tourtastic/config"
	"github.com/tourtastic/tourtastic/internal/auth"
	"github.com/tourtastic/tourtastic/internal/service/booking"
	"github.com/tourtastic/tourtastic/internal/service/search"
	"github.com/tourtastic/tourtastic/internal/service/webhook"
	"github.com/tourtastic/tourtastic/pkg/logger"
)

// Run starts the HTTP server and blocks until the context is canceled or the
// server fails.
func Run(ctx context.Context, cfg *config.Config, searchSvc search.SearchUseCase, bookingSvc booking.BookingUseCase, webhookSvc webhook.WebhookUseCase, authManager *auth.Manager) error {
	srv := &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: newRouter(cfg, searchSvc, bookingSvc, webhookSvc, authManager),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	}
}

func newRouter(cfg *config.Config, searchSvc search.SearchUseCase, bookingSvc booking.BookingUseCase, webhookSvc webhook.WebhookUseCase, authManager *auth.Manager) *gin.Engine {
	api.RegisterValidations()

	router := gin.New()
	router.Use(gin.Recovery(), requestLog())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Search is open to anonymous clients; only booking and operator routes
	// require a signed-in caller.
	api.NewSearchHandler(searchSvc).Register(router.Group("/api/search"))

	authed := router.Group("/api", auth.RequireAuth(authManager))
	api.NewBookingHandler(bookingSvc).Register(authed.Group("/bookings"))

	admin := authed.Group("/admin", auth.RequireAdmin())
	api.NewAdminHandler(bookingSvc).Register(admin)

	api.NewWebhookHandler(webhookSvc, cfg.Webhook.Secret).Register(router.Group("/webhooks"))

	return router
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
