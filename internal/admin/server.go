// Package admin serves the HTTP control surface of a running daemon.
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/someipd/internal/dispatch"
	"github.com/danmuck/someipd/internal/observability"
	"github.com/danmuck/someipd/internal/transport"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const version = "0.1.0"

var ErrSessionNotFound = errors.New("session not found")

// Backend is what the admin surface inspects.
type Backend interface {
	Registry() *dispatch.Registry
	Sessions() []transport.SessionInfo
	Session(id uuid.UUID) (*transport.Session, bool)
}

type Server struct {
	node    string
	addr    string
	backend Backend
	stats   *observability.Stats
	started time.Time
	router  *gin.Engine
}

func New(node, addr string, corsOrigins []string, backend Backend, stats *observability.Stats, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetrics(node))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		node:    node,
		addr:    addr,
		backend: backend,
		stats:   stats,
		started: time.Now(),
		router:  r,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"node":    s.node,
			"version": version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/stats", func(c *gin.Context) {
		if s.stats == nil {
			c.JSON(http.StatusOK, observability.StatsSnapshot{})
			return
		}
		c.JSON(http.StatusOK, s.stats.Snapshot())
	})

	s.router.GET("/registry", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"receivers": s.backend.Registry().Snapshot()})
	})

	s.router.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": s.backend.Sessions()})
	})

	s.router.POST("/sessions/:id/resync", func(c *gin.Context) {
		sess, err := s.lookup(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		ok := sess.Participant.Resync()
		c.JSON(http.StatusOK, gin.H{"resynced": ok, "pending": sess.Participant.Pending()})
	})

	s.router.DELETE("/sessions/:id", func(c *gin.Context) {
		sess, err := s.lookup(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		_ = sess.Conn.Close()
		c.JSON(http.StatusOK, gin.H{"status": "closed"})
	})
}

func (s *Server) lookup(raw string) (*transport.Session, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	sess, ok := s.backend.Session(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Serve blocks until ctx ends, then shuts the listener down.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
