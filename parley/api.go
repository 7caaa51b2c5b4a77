package parley

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

const (
	apiHealthCheck = "/healthz"
	apiPathQuotas  = "/api/quotas"
)

// API is the read-only status HTTP server: a health check and a
// snapshot of the quota ledger. Only started when a listen address is
// configured.
type API struct {
	config     *APIConfig
	engine     *gin.Engine
	httpServer *http.Server
	logger     *slog.Logger

	p *Parley
}

func newAPI(p *Parley, config *APIConfig) *API {
	logger := newLogger("api", config.LogLevel)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	a := &API{
		config: config,
		engine: r,
		logger: logger,
		p:      p,
	}

	r.GET(apiHealthCheck, a.health)
	r.GET(apiPathQuotas, a.quotas)

	a.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}
	return a
}

func (a *API) health(c *gin.Context) {
	c.JSON(
		http.StatusOK, gin.H{
			"status":  "ok",
			"version": Version,
			"uptime":  time.Since(a.p.startedAt).String(),
		},
	)
}

// quotas returns the current per-user quota snapshot: in-window count
// and the window's reset time.
func (a *API) quotas(c *gin.Context) {
	c.JSON(
		http.StatusOK, gin.H{
			"daily_limit": a.p.quota.Limit(),
			"users":       a.p.quota.Snapshot(),
		},
	)
}

// Serve runs the HTTP server until ctx is canceled.
func (a *API) Serve(ctx context.Context) {
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.httpServer.ListenAndServe()
	}()
	a.logger.InfoContext(ctx, "status api listening", "addr", a.config.Listen)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.ErrorContext(ctx, "status api server error", tint.Err(err))
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			5*time.Second,
		)
		defer cancel()
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("error shutting down status api", tint.Err(err))
		}
	}
}
