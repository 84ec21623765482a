package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"access-reconciler/internal/models"
	"access-reconciler/internal/reconcile"
	"access-reconciler/internal/service"
	"access-reconciler/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	snapshots *service.SnapshotService
	packages  *service.PackageService
	trigger   func()
}

// NewHandler creates a new HTTP handler. trigger requests an asynchronous
// refresh.
func NewHandler(snapshots *service.SnapshotService, packages *service.PackageService, trigger func()) *Handler {
	if trigger == nil {
		trigger = func() {}
	}
	return &Handler{
		snapshots: snapshots,
		packages:  packages,
		trigger:   trigger,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/assignments", h.getAssignments)
		v1.GET("/denials", h.getDenials)
		v1.GET("/availability/rooms", h.getAvailableRooms)
		v1.GET("/availability/cards", h.getAvailableCards)
		v1.GET("/analytics/room_frequency", h.getRoomFrequency)
		v1.POST("/refresh", h.requestRefresh)
		v1.PUT("/card_packages", h.updateCardPackage)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready once a snapshot is installed
func (h *Handler) readinessCheck(c *gin.Context) {
	snap, err := h.snapshots.Current()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "ready",
		"time":        time.Now().Unix(),
		"generation":  snap.Generation,
		"computed_at": snap.ComputedAt.UTC(),
	})
}

func (h *Handler) getAssignments(c *gin.Context) {
	activeOnly := false
	if raw := c.Query("active"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid active flag",
				"details": err.Error(),
			})
			return
		}
		activeOnly = v
	}

	snap, err := h.snapshots.Current()
	if err != nil {
		respondError(c, err, "Failed to list assignments")
		return
	}

	assignments := snap.Result.Assignments
	if activeOnly {
		assignments = snap.Result.ValidAssignments
	}

	c.JSON(http.StatusOK, gin.H{
		"generation":  snap.Generation,
		"assignments": assignments,
	})
}

func (h *Handler) getDenials(c *gin.Context) {
	denials, err := h.snapshots.Denials()
	if err != nil {
		respondError(c, err, "Failed to list denials")
		return
	}
	c.JSON(http.StatusOK, denials)
}

func (h *Handler) getAvailableRooms(c *gin.Context) {
	rooms, err := h.snapshots.AvailableRooms(c.Query("editing_booking_id"))
	if err != nil {
		respondError(c, err, "Failed to compute available rooms")
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *Handler) getAvailableCards(c *gin.Context) {
	roomID := c.Query("room_id")
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "room_id is required",
		})
		return
	}

	cards, err := h.snapshots.AvailableCards(roomID, c.Query("editing_booking_id"))
	if err != nil {
		respondError(c, err, "Failed to compute available cards")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"room_id": roomID,
		"cards":   cards,
	})
}

func (h *Handler) getRoomFrequency(c *gin.Context) {
	report, err := h.snapshots.RoomFrequency()
	if err != nil {
		respondError(c, err, "Failed to compute room frequency")
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) requestRefresh(c *gin.Context) {
	util.DataChangedEventsTotal.WithLabelValues("api").Inc()
	h.trigger()
	c.JSON(http.StatusAccepted, gin.H{"status": "refresh scheduled"})
}

// UpdateCardPackageRequest changes the package type of a card
type UpdateCardPackageRequest struct {
	ProductID   string             `json:"product_id" binding:"required"`
	CardID      string             `json:"uid" binding:"required"`
	PackageType models.PackageType `json:"package_type" binding:"required"`
}

func (h *Handler) updateCardPackage(c *gin.Context) {
	var req UpdateCardPackageRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	rows, err := h.packages.ChangePackageType(c.Request.Context(), req.ProductID, req.CardID, req.PackageType)
	if err != nil {
		respondError(c, err, "Failed to update card package")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"updated": len(rows),
		"rows":    rows,
	})
}

// respondError maps service errors to status codes
func respondError(c *gin.Context, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNoSnapshot):
		status = http.StatusServiceUnavailable
	case errors.Is(err, service.ErrUnknownRoom):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidPackageChange), errors.Is(err, reconcile.ErrUnknownPackageType):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrPackageChangeInProgress):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		util.GetLogger().Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	}

	c.JSON(status, gin.H{
		"error":   msg,
		"details": err.Error(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

// requestLogger logs one line per request through zap
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		util.GetLogger().Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
