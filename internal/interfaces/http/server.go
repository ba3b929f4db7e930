package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
	apperrors "github.com/ngoclaw/ngoclaw/gateway/pkg/errors"
)

// statusForCode maps an ErrorCode to the HTTP status the API surfaces
// for it. Codes the query handler never produces (NotFound,
// AlreadyExists, Unauthorized, Forbidden, ServiceUnavailable) are mapped
// for completeness —
// a future handler (project/document lookup) can raise them without
// this table changing.
func statusForCode(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.CodeInvalidInput:
		return http.StatusBadRequest
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeAlreadyExists:
		return http.StatusConflict
	case apperrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.CodeForbidden:
		return http.StatusForbidden
	case apperrors.CodeServiceUnavail:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Engine is the subset of *service.Engine the HTTP surface depends on.
// Declared locally so this package never imports infrastructure/sandbox
// transitively through the engine's constructor dependencies.
type Engine interface {
	Run(ctx context.Context, query entity.Query) (*entity.QueryResult, error)
}

// Server is the HTTP surface exposing the RLM engine as a single
// synchronous query endpoint plus a liveness probe.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config configures the HTTP listener.
type Config struct {
	Host string
	Port int
	Mode string // debug, release
}

// queryRequest is the wire shape of POST /v1/query.
type queryRequest struct {
	Question  string            `json:"question" binding:"required"`
	ModelID   string            `json:"model_id"`
	Documents []documentRequest `json:"documents" binding:"required"`
	Options   *queryOptionsWire `json:"options,omitempty"`
}

type documentRequest struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// queryOptionsWire mirrors entity.QueryOptions for JSON decoding.
// VerifyCitations is a pointer so an absent field is distinguishable from
// an explicit false — entity.DefaultQueryOptions's VerifyCitations:true
// default must survive a client that omits the field entirely.
type queryOptionsWire struct {
	MaxIterations      int    `json:"max_iterations"`
	MaxSubcallChars    int    `json:"max_subcall_chars"`
	ExecTimeoutSeconds int    `json:"exec_timeout_seconds"`
	VerifyCitations    *bool  `json:"verify_citations,omitempty"`
	SubModelID         string `json:"sub_model_id"`
}

type queryResponse struct {
	QueryID      string                `json:"query_id"`
	Answer       string                `json:"answer"`
	Terminal     entity.TerminalState  `json:"terminal"`
	TraceID      string                `json:"trace_id"`
	DurationMS   int64                 `json:"duration_ms"`
	Usage        entity.TokenUsage     `json:"usage"`
	Verification *entity.Verification  `json:"verification,omitempty"`
}

// NewServer builds the HTTP server around a ready-to-run Engine.
func NewServer(cfg Config, engine Engine, logger *zap.Logger) *Server {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))

	setupRoutes(router, engine, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{Addr: addr, Handler: router},
		logger: logger,
	}
}

// Start begins serving in the background; ListenAndServe errors are logged,
// not returned, since the caller observes shutdown via Stop's context.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting HTTP server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func setupRoutes(router *gin.Engine, engine Engine, logger *zap.Logger) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
	})

	v1 := router.Group("/v1")
	{
		v1.POST("/query", handleQuery(engine, logger))
	}
}

func handleQuery(engine Engine, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req queryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			appErr := apperrors.NewInvalidInputError(err.Error())
			c.JSON(statusForCode(appErr.Code), gin.H{"error": appErr.Error()})
			return
		}

		docs := make(entity.DocumentSet, 0, len(req.Documents))
		for i, d := range req.Documents {
			docs = append(docs, entity.Document{ID: d.ID, Index: i, Content: d.Content})
		}

		opts := entity.DefaultQueryOptions()
		if req.Options != nil {
			if req.Options.MaxIterations > 0 {
				opts.MaxIterations = req.Options.MaxIterations
			}
			if req.Options.MaxSubcallChars > 0 {
				opts.MaxSubcallChars = req.Options.MaxSubcallChars
			}
			if req.Options.ExecTimeoutSeconds > 0 {
				opts.ExecTimeoutSeconds = req.Options.ExecTimeoutSeconds
			}
			if req.Options.VerifyCitations != nil {
				opts.VerifyCitations = req.Options.VerifyCitations
			}
			if req.Options.SubModelID != "" {
				opts.SubModelID = req.Options.SubModelID
			}
		}

		query := entity.NewQuery(uuid.NewString(), req.Question, docs, req.ModelID, opts)
		if err := query.Validate(); err != nil {
			appErr := apperrors.NewInvalidInputError(err.Error())
			c.JSON(statusForCode(appErr.Code), gin.H{"error": appErr.Error()})
			return
		}

		result, err := engine.Run(c.Request.Context(), query)
		if err != nil {
			appErr := apperrors.NewInternalErrorWithCause("query execution failed", err)
			logger.Error("query failed", zap.String("query_id", query.ID), zap.Error(err))
			c.JSON(statusForCode(appErr.Code), gin.H{"error": appErr.Error()})
			return
		}

		c.JSON(http.StatusOK, queryResponse{
			QueryID:      result.QueryID,
			Answer:       result.Answer,
			Terminal:     result.Terminal,
			TraceID:      result.TraceID,
			DurationMS:   result.Duration.Milliseconds(),
			Usage:        result.Usage,
			Verification: result.Verification,
		})
	}
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
