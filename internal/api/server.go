package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/towerlink/internal/client"
	"github.com/energizer-project/towerlink/internal/command"
	"github.com/energizer-project/towerlink/internal/config"
	"github.com/energizer-project/towerlink/internal/db"
	intnet "github.com/energizer-project/towerlink/internal/network"
	"github.com/energizer-project/towerlink/internal/scheduler"
)

// Invoker runs game commands. *dispatch.Dispatcher implements it.
type Invoker interface {
	Invoke(ctx context.Context, desc *command.Descriptor, args ...any) (any, error)
	SessionID() string
	LastRequestID() int64
}

// Session describes the live game connection. *network.Connection
// implements it.
type Session interface {
	URL() string
	ConnectedAt() time.Time
	LastActivity() time.Time
	IsClosed() bool
}

// Journal reads the command journal. *db.Journal implements it.
type Journal interface {
	Recent(ctx context.Context, limit int) ([]db.Entry, error)
	Stats(ctx context.Context) (*db.Stats, error)
}

// Poller exposes the latest game snapshot. *scheduler.Scheduler implements it.
type Poller interface {
	Latest() *client.Snapshot
	Stats() scheduler.PollStats
}

// Deps are the runtime components the API reports on. Nil members disable
// the matching routes.
type Deps struct {
	Invoker Invoker
	Session Session
	Journal Journal
	Poller  Poller
}

// Server is the local REST API for towerlink.
type Server struct {
	cfg     config.APIConfig
	version string
	deps    Deps
	started time.Time

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server.
func NewServer(cfg config.APIConfig, version string, deps Deps, debug bool) *Server {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		version: version,
		deps:    deps,
		started: time.Now(),
	}
	s.router = s.buildRouter()
	return s
}

// Router returns the HTTP handler, for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(s.cfg.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleInfo)
	}

	protected := router.Group("/api")
	protected.Use(RequireToken(s.cfg.AuthToken))
	{
		protected.GET("/status", s.handleStatus)
		protected.GET("/snapshot", s.handleSnapshot)
		protected.GET("/commands", s.handleListCommands)
		protected.POST("/commands/:name", s.handleCallCommand)
		protected.GET("/journal", s.handleJournal)
		protected.GET("/journal/stats", s.handleJournalStats)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
