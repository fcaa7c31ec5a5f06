package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/currency-check/internal/auth"
	"github.com/example/currency-check/internal/logging"
	"github.com/example/currency-check/internal/oracle"
	"github.com/example/currency-check/internal/repository"
	"github.com/example/currency-check/internal/usecase"
)

// MaxUploadSize is the default limit for an uploaded image.
const MaxUploadSize = 10 << 20

const (
	msgNotConfigured = "GEMINI_API_KEY is not configured. Please set your API key."
	msgEmptyResponse = "Gemini API returned an empty response. Please try again with a clearer image."
)

// DetectionService is the use case surface used by the handlers.
type DetectionService interface {
	OracleConfigured() bool
	Predict(ctx context.Context, username string, upload []byte) (*usecase.Detection, error)
	History(ctx context.Context, username string) ([]*repository.HistoryEntry, error)
	Entry(ctx context.Context, username string, id uint) (*repository.HistoryEntry, error)
	Stats(ctx context.Context, username string) (*usecase.DashboardStats, error)
}

// AccountService registers and authenticates users.
type AccountService interface {
	Register(ctx context.Context, username, password string) error
	Verify(ctx context.Context, username, password string) (bool, error)
}

// Options configures cookies and upload limits.
type Options struct {
	CookieName    string
	CookieSecure  bool
	SessionTTL    time.Duration
	MaxUploadSize int64
}

// Handler serves the HTTP API.
type Handler struct {
	detections DetectionService
	accounts   AccountService
	sessions   auth.SessionRegistry
	opts       Options
	logger     *zap.Logger
}

// New creates a Handler.
func New(detections DetectionService, accounts AccountService, sessions auth.SessionRegistry, opts Options, logger *zap.Logger) *Handler {
	if opts.CookieName == "" {
		opts.CookieName = "session_token"
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = auth.DefaultSessionTTL
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = MaxUploadSize
	}
	return &Handler{
		detections: detections,
		accounts:   accounts,
		sessions:   sessions,
		opts:       opts,
		logger:     logger.Named("handlers"),
	}
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	requireSession := auth.SessionMiddleware(h.sessions, h.opts.CookieName, h.logger)

	router.GET("/health", h.health)
	router.POST("/predict", requireSession, h.predict)

	api := router.Group("/api")
	api.POST("/register", h.register)
	api.POST("/login", h.login)
	api.POST("/logout", h.logout)

	api.GET("/user", requireSession, h.currentUser)
	api.GET("/history", requireSession, h.history)
	api.GET("/history/:id", requireSession, h.historyEntry)
	api.GET("/dashboard-stats", requireSession, h.dashboardStats)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":            "healthy",
		"gemini_configured": h.detections.OracleConfigured(),
	})
}

func (h *Handler) predict(c *gin.Context) {
	username, _ := auth.GetUsername(c.Request.Context())
	if !h.detections.OracleConfigured() {
		abortWithDetail(c, http.StatusInternalServerError, msgNotConfigured)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadSize+1<<20)
	file, err := c.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		file, err = c.FormFile("image")
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abortWithDetail(c, http.StatusRequestEntityTooLarge, "image file is too large")
			return
		}
		abortWithDetail(c, http.StatusBadRequest, "image file is required")
		return
	}
	if file.Size > h.opts.MaxUploadSize {
		abortWithDetail(c, http.StatusRequestEntityTooLarge, "image file is too large")
		return
	}
	if ct := file.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		abortWithDetail(c, http.StatusUnsupportedMediaType, "uploaded file must be an image")
		return
	}

	src, err := file.Open()
	if err != nil {
		abortWithDetail(c, http.StatusBadRequest, "unable to open image")
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		abortWithDetail(c, http.StatusInternalServerError, "failed to read image")
		return
	}

	detection, err := h.detections.Predict(c.Request.Context(), username, data)
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrOracleNotConfigured):
			abortWithDetail(c, http.StatusInternalServerError, msgNotConfigured)
		case errors.Is(err, oracle.ErrEmptyResponse):
			abortWithDetail(c, http.StatusInternalServerError, msgEmptyResponse)
		default:
			abortWithDetail(c, http.StatusInternalServerError, "Error processing image: "+logging.Cause(err).Error())
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"label":       detection.Label,
		"confidence":  detection.Confidence,
		"explanation": detection.Explanation,
		"success":     true,
		"history_id":  detection.HistoryID,
	})
}

func (h *Handler) history(c *gin.Context) {
	username, _ := auth.GetUsername(c.Request.Context())
	entries, err := h.detections.History(c.Request.Context(), username)
	if err != nil {
		h.logger.Error("failed to load history", zap.Error(err))
		abortWithDetail(c, http.StatusInternalServerError, "failed to load history")
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

func (h *Handler) historyEntry(c *gin.Context) {
	username, _ := auth.GetUsername(c.Request.Context())
	id, err := strconv.ParseUint(c.Param("id"), 10, 0)
	if err != nil || id == 0 {
		abortWithDetail(c, http.StatusBadRequest, "invalid history id")
		return
	}

	entry, err := h.detections.Entry(c.Request.Context(), username, uint(id))
	if errors.Is(err, usecase.ErrNotFound) {
		abortWithDetail(c, http.StatusNotFound, "History entry not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load history entry", zap.Error(err), zap.Uint64("id", id))
		abortWithDetail(c, http.StatusInternalServerError, "failed to load history entry")
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *Handler) dashboardStats(c *gin.Context) {
	username, _ := auth.GetUsername(c.Request.Context())
	stats, err := h.detections.Stats(c.Request.Context(), username)
	if err != nil {
		h.logger.Error("failed to load stats", zap.Error(err))
		abortWithDetail(c, http.StatusInternalServerError, "failed to load dashboard stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

func abortWithDetail(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}
