package server

import (
	"context"
	"net/http"
	"time"

	"github.com/aimerfeng/docagent/internal/agent"
	"github.com/aimerfeng/docagent/internal/config"
	apierrors "github.com/aimerfeng/docagent/internal/errors"
	"github.com/aimerfeng/docagent/internal/ingestion"
	"github.com/aimerfeng/docagent/internal/llm"
	"github.com/aimerfeng/docagent/internal/logging"
	"github.com/aimerfeng/docagent/internal/middleware"
	"github.com/aimerfeng/docagent/internal/models"
	"github.com/aimerfeng/docagent/internal/monitoring"
	"github.com/aimerfeng/docagent/internal/stream"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HealthChecker reports database reachability
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ThreadStore is the thread persistence used by the thread routes
type ThreadStore interface {
	List(ctx context.Context, userID string) ([]models.Thread, error)
	Create(ctx context.Context, userID, title string) (*models.Thread, error)
	Get(ctx context.Context, userID string, id uuid.UUID) (*models.Thread, error)
	Rename(ctx context.Context, userID string, id uuid.UUID, title string) (*models.Thread, error)
	Delete(ctx context.Context, userID string, id uuid.UUID) error
}

// TurnRunner runs chat turns
type TurnRunner interface {
	LoadThread(ctx context.Context, userID string, id uuid.UUID) (*models.Thread, error)
	RunTurn(ctx context.Context, thread *models.Thread, req agent.TurnRequest, sink stream.Sink) *agent.TurnSummary
}

// DocumentService handles uploads and the document library
type DocumentService interface {
	Upload(ctx context.Context, userID string, file ingestion.FileHeader) (*ingestion.UploadResult, error)
	List(ctx context.Context, userID string) ([]*models.Document, error)
	Delete(ctx context.Context, userID string, docID uuid.UUID) error
}

// ModelCatalog lists the models offered by the model service
type ModelCatalog interface {
	ListModels(ctx context.Context) ([]llm.ModelInfo, error)
}

// Deps are the collaborators behind the HTTP routes
type Deps struct {
	DB        HealthChecker
	Threads   ThreadStore
	Chat      TurnRunner
	Documents DocumentService
	Models    ModelCatalog
	Active    *llm.ActiveModel
	// Limiter may be nil, which disables per-user turn limits
	Limiter middleware.TurnLimiter
}

// APIServer represents the main API server
type APIServer struct {
	config           *config.Config
	router           *gin.Engine
	deps             Deps
	jwtAuthenticator *middleware.JWTAuthenticator
	logger           zerolog.Logger
}

// NewAPIServer creates a new API server instance
func NewAPIServer(cfg *config.Config, deps Deps) *APIServer {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware in order
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	router.Use(monitoring.MetricsMiddleware())
	router.Use(logging.RequestLogger())

	srv := &APIServer{
		config:           cfg,
		router:           router,
		deps:             deps,
		jwtAuthenticator: middleware.NewJWTAuthenticator(&cfg.Auth),
		logger:           logging.NewLogger("api"),
	}

	srv.setupRoutes()
	return srv
}

// Router returns the gin router
func (s *APIServer) Router() http.Handler {
	return s.router
}

// setupRoutes configures all API routes
func (s *APIServer) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	if s.config.Monitoring.PrometheusEnabled {
		s.router.GET("/metrics", monitoring.GinHandler())
	}

	api := s.router.Group("/api")
	api.Use(s.jwtAuthenticator.JWTAuth())
	{
		threads := api.Group("/threads")
		{
			threads.GET("", s.handleListThreads)
			threads.POST("", s.handleCreateThread)
			threads.PATCH("/:id", s.handleRenameThread)
			threads.DELETE("/:id", s.handleDeleteThread)
		}

		chat := api.Group("/chat")
		{
			chat.POST("", middleware.RateLimit(s.deps.Limiter, "chat"), s.handleChat)
			chat.GET("/:threadId/messages", s.handleThreadMessages)
		}

		docs := api.Group("/ingestion")
		{
			docs.POST("/upload", s.handleUpload)
			docs.GET("/documents", s.handleListDocuments)
			docs.DELETE("/documents/:id", s.handleDeleteDocument)
		}

		catalog := api.Group("/models")
		{
			catalog.GET("/llm", s.handleListLLMModels)
			catalog.GET("/embedding", s.handleListEmbeddingModels)
			catalog.PUT("/active", s.handleSetActiveModel)
		}
	}
}

// Health check handler
func (s *APIServer) healthCheck(c *gin.Context) {
	status, database, code := "ok", "connected", http.StatusOK
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.Health(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Database health check failed")
			status, database, code = "degraded", "unavailable", http.StatusServiceUnavailable
		}
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"database":  database,
	})
}

// respondError sends a standardized error response
func respondError(c *gin.Context, err *apierrors.APIError) {
	middleware.RespondWithError(c, err)
}

// internalError logs err against the request and sends a 500
func (s *APIServer) internalError(c *gin.Context, err error, operation string) {
	logging.LogError(err, middleware.GetRequestIDFromContext(c), "api", operation)
	respondError(c, apierrors.ErrInternalServerError)
}

// pathUUID parses a path parameter, treating malformed IDs as unknown resources
func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	return id, err == nil
}
