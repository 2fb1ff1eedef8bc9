// Package dashboard serves the interview HTTP API: a read-only session view,
// the answer/complete/escalate commands, and a server-sent progress stream.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/intake/internal/interview"
)

// StartOpts holds configuration for the API server.
type StartOpts struct {
	Manager *interview.Manager
	Port    int
	Out     io.Writer
}

// Start launches the API server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Manager == nil {
		return fmt.Errorf("dashboard: manager is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: newRouter(opts.Manager),
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Interview API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

func newRouter(m *interview.Manager) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, m)
	return router
}
