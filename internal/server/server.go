package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/emilythestrangee/memories/backend/internal/auth"
	"github.com/emilythestrangee/memories/backend/internal/handlers"
	"github.com/emilythestrangee/memories/backend/internal/logging"
	"github.com/emilythestrangee/memories/backend/internal/metrics"
	"github.com/emilythestrangee/memories/backend/internal/middleware"
	"github.com/emilythestrangee/memories/backend/internal/store"
)

// HealthReporter reports backing database status. database.Service
// satisfies it.
type HealthReporter interface {
	Health(ctx context.Context) map[string]string
}

// Options wire the server to its collaborators. Database is optional.
type Options struct {
	Store       store.Store
	Database    HealthReporter
	Tokens      *auth.Tokens
	Handler     *handlers.Handler
	Metrics     *metrics.Metrics
	Logger      logrus.FieldLogger
	CORSOrigins []string
}

type Server struct {
	store   store.Store
	db      HealthReporter
	tokens  *auth.Tokens
	handler *handlers.Handler
	metrics *metrics.Metrics
	log     logrus.FieldLogger
	origins []string
}

func New(opts Options) *Server {
	return &Server{
		store:   opts.Store,
		db:      opts.Database,
		tokens:  opts.Tokens,
		handler: opts.Handler,
		metrics: opts.Metrics,
		log:     opts.Logger,
		origins: opts.CORSOrigins,
	}
}

// HTTPServer returns the listening server for addr with tracing around
// every request.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(s.RegisterRoutes(), "http.server"),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       time.Minute,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
}

// RegisterRoutes sets up all application routes
func (s *Server) RegisterRoutes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.GinLogger(s.log))
	r.Use(s.metrics.Middleware())
	r.Use(cors.New(s.corsConfig()))
	r.Use(middleware.Authenticate(s.tokens, s.log))

	r.GET("/health", s.health)
	r.GET("/metrics", s.metrics.Handler())

	posts := r.Group("/posts")
	{
		posts.GET("", s.handler.Post.GetPosts)
		posts.GET("/search", s.handler.Post.GetPostsBySearch)
		posts.GET("/:id", s.handler.Post.GetPost)

		// Anonymous likes are answered in the body, not rejected.
		posts.PATCH("/:id/likePost", s.handler.Post.LikePost)

		protected := posts.Group("")
		protected.Use(middleware.RequireAuth())
		{
			protected.POST("", s.handler.Post.CreatePost)
			protected.PATCH("/:id", s.handler.Post.UpdatePost)
			protected.DELETE("/:id", s.handler.Post.DeletePost)
		}
	}

	user := r.Group("/user")
	{
		user.POST("/signin", s.handler.Auth.SignIn)
		user.POST("/signup", s.handler.Auth.SignUp)
		user.POST("/google", s.handler.Auth.GoogleSignIn)
	}

	return r
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:  []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(s.origins) == 0 || (len(s.origins) == 1 && s.origins[0] == "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = s.origins
	cfg.AllowCredentials = true
	return cfg
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status, body := http.StatusOK, gin.H{"status": "ok", "store": "up"}
	if err := s.store.Ping(ctx); err != nil {
		s.log.WithError(err).Warn("Health check failed")
		status, body = http.StatusServiceUnavailable, gin.H{"status": "down", "store": "down"}
	}

	if s.db != nil {
		stats := s.db.Health(ctx)
		if stats["status"] != "up" {
			status = http.StatusServiceUnavailable
			body["status"] = "down"
		}
		body["database"] = stats
	}
	c.JSON(status, body)
}
