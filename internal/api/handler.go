package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"order-saga/internal/models"
	"order-saga/internal/service"
	"order-saga/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	coordinator *service.SagaCoordinator
	feed        *service.StatusFeed
}

// NewHandler creates a new HTTP handler
func NewHandler(coordinator *service.SagaCoordinator, feed *service.StatusFeed) *Handler {
	return &Handler{
		coordinator: coordinator,
		feed:        feed,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	orders := router.Group("/orders")
	{
		orders.POST("", h.createOrder)
		orders.GET("/:id", h.getOrder)
		orders.GET("/:id/stream", h.streamOrder)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.coordinator.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		if models.IsValidation(err) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid order request",
				"details": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to create order",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID := c.Param("id")

	resp, err := h.coordinator.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Order not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load order",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// streamOrder streams status updates over SSE: the current status first,
// then one event per transition until the client disconnects. The
// subscriber slot is freed on disconnect or write error.
func (h *Handler) streamOrder(c *gin.Context) {
	orderID := c.Param("id")

	// Subscribe before reading the snapshot: a transition landing while the
	// client connects shows up in the stream instead of falling into the gap
	// between snapshot and subscription. It may then appear in both; a
	// duplicate message beats a lost one.
	updates, cancel := h.feed.Subscribe(orderID)
	defer cancel()

	order, err := h.coordinator.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load order"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("status", "Connected. Current status: "+order.Status)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-updates:
			if !ok {
				// Replaced by a newer subscriber for the same order.
				return false
			}
			c.SSEvent("status", msg)
			return true
		case <-c.Request.Context().Done():
			return false
		}
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
