package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/Wikid82/rampart/internal/api/middleware"
	"github.com/Wikid82/rampart/internal/api/routes"
	"github.com/Wikid82/rampart/internal/config"
	"github.com/Wikid82/rampart/internal/defense"
	"github.com/Wikid82/rampart/internal/logger"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Server wraps the HTTP engine and shared dependencies for easier testing.
type Server struct {
	Engine *gin.Engine
	cfg    config.Config
}

// New wires the middleware chain, the API routes, /metrics and the optional
// frontend. With security enabled every route, /metrics included, passes
// through the defense engine.
func New(engine *defense.Engine, db *gorm.DB, registry *prometheus.Registry, cfg config.Config) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)
	if cfg.Environment == "development" {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.RequestLogger(),
		middleware.Recovery(cfg.Debug),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{IsDevelopment: cfg.Environment == "development"}),
	)
	if cfg.Security.Enabled {
		router.Use(middleware.Defense(engine))
	} else {
		logger.Log().Warn("security disabled, requests are not inspected")
	}

	if registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	if err := routes.Register(router, engine, db); err != nil {
		return nil, fmt.Errorf("register routes: %w", err)
	}

	attachFrontend(router, cfg.FrontendDir)

	return &Server{Engine: router, cfg: cfg}, nil
}

// attachFrontend serves a built single page app from frontendDir. Existing
// files are served as-is; any other non-API path gets index.html so
// client-side routing works.
func attachFrontend(router *gin.Engine, frontendDir string) {
	if frontendDir == "" {
		return
	}
	index := filepath.Join(frontendDir, "index.html")
	if _, err := os.Stat(index); err != nil {
		logger.Log().WithField("dir", frontendDir).Warn("frontend index.html not found, serving API only")
		return
	}

	files := http.FileServer(http.Dir(frontendDir))
	router.NoRoute(func(c *gin.Context) {
		p := c.Request.URL.Path
		if strings.HasPrefix(p, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
			return
		}
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
			return
		}
		if p != "/" {
			if info, err := os.Stat(filepath.Join(frontendDir, filepath.FromSlash(path.Clean(p)))); err == nil && !info.IsDir() {
				files.ServeHTTP(c.Writer, c.Request)
				return
			}
		}
		c.Header("Cache-Control", "no-cache")
		c.File(index)
	})
}

// Run listens on the configured port and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+s.cfg.HTTPPort)
	if err != nil {
		return fmt.Errorf("listen on port %s: %w", s.cfg.HTTPPort, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then drains
// in-flight requests for up to shutdownTimeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	logger.Log().WithField("addr", ln.Addr().String()).Info("http server listening")

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
