// Package http exposes the recording service over a JSON API with SSE and
// WebSocket progress streams.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"runthru/internal/artifacts"
	"runthru/internal/domain"
	"runthru/internal/events"
	"runthru/internal/interpreter"
	"runthru/internal/logging"
	"runthru/internal/store"
)

// Recordings is the recording service as the API sees it.
// *pipeline.Service implements it.
type Recordings interface {
	Create(ctx context.Context, req domain.CreateRequest) (*domain.Recording, error)
	Get(ctx context.Context, recordingID string) (*domain.Recording, error)
	List(ctx context.Context, opts store.ListOptions) ([]*domain.Recording, error)
	Start(ctx context.Context, recordingID string) (*domain.Recording, error)
	Stop(ctx context.Context, recordingID string) (*domain.Recording, error)
	Delete(ctx context.Context, recordingID string) error
	Active() []string
	Events() *events.Broadcaster
}

// SignedBlobs serves published videos behind signed links.
// *blobstore.FilesystemStore implements it.
type SignedBlobs interface {
	Verify(key, expires, sig string) error
	Path(key string) (string, error)
}

type Config struct {
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxUploadBytes int64
	SSEHeartbeat   time.Duration
}

type Deps struct {
	Recordings Recordings
	Strategy   interpreter.Strategy
	Layout     *artifacts.Layout
	Blobs      SignedBlobs
	Metrics    http.Handler
	Logger     logging.Logger
}

// Server holds the handlers behind the router.
type Server struct {
	cfg      Config
	recs     Recordings
	strategy interpreter.Strategy
	layout   *artifacts.Layout
	blobs    SignedBlobs
	logger   logging.Logger
	upgrader websocket.Upgrader
	started  time.Time
}

// NewRouter builds the gin engine serving the API.
func NewRouter(cfg Config, deps Deps) *gin.Engine {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 5 << 20
	}
	if cfg.SSEHeartbeat <= 0 {
		cfg.SSEHeartbeat = 15 * time.Second
	}
	if deps.Strategy == nil {
		deps.Strategy = interpreter.Heuristic{}
	}
	if logging.IsNil(deps.Logger) {
		deps.Logger = logging.NewComponentLogger("HTTP")
	}
	s := &Server{
		cfg:      cfg,
		recs:     deps.Recordings,
		strategy: deps.Strategy,
		layout:   deps.Layout,
		blobs:    deps.Blobs,
		logger:   deps.Logger,
		started:  time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}

	engine := gin.New()
	engine.Use(recoveryMiddleware(s.logger), requestLogger(s.logger))
	engine.Use(cors.New(corsConfig(cfg.AllowedOrigins)))
	if cfg.RateLimitRPS > 0 {
		engine.Use(rateLimitMiddleware(newRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)))
	}

	engine.GET("/health", s.handleHealth)
	if deps.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(deps.Metrics))
	}
	if s.blobs != nil {
		engine.GET("/blobs/*key", s.handleBlob)
	}

	api := engine.Group("/api")
	{
		recs := api.Group("/recordings")
		recs.POST("", s.handleCreate)
		recs.GET("", s.handleList)
		recs.GET("/:id", s.handleGet)
		recs.DELETE("/:id", s.handleDelete)
		recs.POST("/:id/start", s.handleStart)
		recs.POST("/:id/stop", s.handleStop)
		recs.GET("/:id/video", s.handleVideo)
		recs.GET("/:id/screenshots/:seq", s.handleScreenshot)
		recs.GET("/:id/events", s.handleSSE)
		recs.GET("/:id/ws", s.handleWebSocket)

		api.GET("/events", s.handleSSE)
		api.POST("/uploads", s.handleUpload)
		api.POST("/interpret", s.handleInterpret)
	}
	return engine
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
	cfg.AllowWebSockets = true
	return cfg
}

func originChecker(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"active":         len(s.recs.Active()),
	})
}
