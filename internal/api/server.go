// Package api exposes the HTTP surface: uploads, file queries, and the
// WebSocket endpoint that delivers live status updates.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/aleksmarkov/docpulse/internal/config"
	"github.com/aleksmarkov/docpulse/internal/ingest"
	"github.com/aleksmarkov/docpulse/internal/model"
	"github.com/aleksmarkov/docpulse/internal/notify"
	"github.com/aleksmarkov/docpulse/internal/repository"
	"github.com/aleksmarkov/docpulse/internal/s3storage"
	"github.com/aleksmarkov/docpulse/pkg/logger"
)

// Server wires the HTTP routes to the ingestion service, repository,
// object storage, and the notification hub.
type Server struct {
	cfg      *config.Config
	repo     *repository.FileRepository
	store    *s3storage.Storage
	ingest   *ingest.Service
	hub      *notify.Hub
	upgrader websocket.Upgrader
}

// New constructs a Server.
func New(cfg *config.Config, repo *repository.FileRepository, store *s3storage.Storage, ingestSvc *ingest.Service, hub *notify.Hub) *Server {
	return &Server{
		cfg:    cfg,
		repo:   repo,
		store:  store,
		ingest: ingestSvc,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origin == cfg.FrontendURL
			},
		},
	}
}

// Router builds the gin engine with the middleware chain.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(RequestID(), RequestLogger(), Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed := r.Group("/api", Auth(s.cfg.JWTSecret))
	authed.POST("/files", s.handleUpload)
	authed.GET("/files", s.handleList)
	authed.GET("/files/:id", s.handleGet)
	authed.DELETE("/files/:id", s.handleDelete)
	authed.GET("/ws", s.handleWebSocket)

	return r
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.Router(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info(ctx, "api listening", "address", s.cfg.Address)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleUpload(c *gin.Context) {
	ctx := c.Request.Context()
	owner := ownerFrom(c)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxFileSize+1024)
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expecting multipart field 'file'"})
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	rec, err := s.ingest.Ingest(ctx, owner, header.Filename, contentType, header.Size, file)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrUnsupportedType):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported file type: " + contentType})
		case errors.Is(err, ingest.ErrFileTooLarge):
			c.JSON(http.StatusBadRequest, gin.H{"error": "File size exceeds the maximum limit"})
		default:
			logger.Error(ctx, "ingest failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process upload"})
		}
		return
	}

	c.JSON(http.StatusAccepted, rec)
}

func (s *Server) handleList(c *gin.Context) {
	ctx := c.Request.Context()
	owner := ownerFrom(c)

	opts := repository.ListOptions{
		Status: model.FileStatus(c.Query("status")),
		Type:   model.FileType(c.Query("type")),
	}
	if page, err := parsePositive(c.Query("page")); err == nil {
		opts.Page = page
	}
	if limit, err := parsePositive(c.Query("limit")); err == nil {
		opts.Limit = limit
	}

	files, total, err := s.repo.List(ctx, owner, opts)
	if err != nil {
		logger.Error(ctx, "list files failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list files"})
		return
	}
	if files == nil {
		files = []*model.FileRecord{}
	}

	page := opts.Page
	if page < 1 {
		page = 1
	}
	limit := opts.Limit
	if limit < 1 {
		limit = 10
	}
	c.JSON(http.StatusOK, gin.H{
		"files": files,
		"meta": gin.H{
			"page":       page,
			"limit":      limit,
			"total":      total,
			"totalPages": (total + limit - 1) / limit,
		},
	})
}

func (s *Server) handleGet(c *gin.Context) {
	ctx := c.Request.Context()
	rec, err := s.repo.GetOwned(ctx, c.Param("id"), ownerFrom(c))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		logger.Error(ctx, "get file failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load file"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleDelete(c *gin.Context) {
	ctx := c.Request.Context()
	rec, err := s.repo.GetOwned(ctx, c.Param("id"), ownerFrom(c))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		logger.Error(ctx, "get file failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load file"})
		return
	}

	if err := s.store.Remove(ctx, rec.StoragePath); err != nil {
		// The record is the source of truth; a leftover object is only a
		// storage hygiene problem.
		logger.Warn(ctx, "remove stored object failed", "object_key", rec.StoragePath, "error", err)
	}
	if err := s.repo.Delete(ctx, rec.ID); err != nil {
		logger.Error(ctx, "delete file failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete file"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "File deleted successfully"})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	owner := ownerFrom(c)
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", "error", err)
		return
	}
	s.hub.Attach(owner, ws)
}

func parsePositive(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, errors.New("not positive")
	}
	return n, nil
}
