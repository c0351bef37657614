package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cascadehq/cascade/internal/models"
	"github.com/cascadehq/cascade/internal/service"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNotPending), errors.Is(err, service.ErrTestCompleted):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

type schedulePublicationRequest struct {
	Channel     models.Channel `json:"channel" binding:"required"`
	ContentID   string         `json:"content_id" binding:"required"`
	ScheduledAt *time.Time     `json:"scheduled_at"`
}

func (s *Server) handleSchedulePublication(c *gin.Context) {
	var req schedulePublicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pub, err := s.Scheduler.SchedulePublication(req.Channel, req.ContentID, req.ScheduledAt)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"publication": pub})
}

func (s *Server) handleGetUpcoming(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	c.JSON(http.StatusOK, gin.H{"publications": s.Scheduler.Upcoming(limit)})
}

func (s *Server) handleCancelScheduled(c *gin.Context) {
	if err := s.Scheduler.CancelScheduled(c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Publication cancelled"})
}

func (s *Server) handleGetOptimalSlots(c *gin.Context) {
	channel := models.Channel(c.Param("channel"))
	c.JSON(http.StatusOK, gin.H{"slots": s.Scheduler.OptimalSlots(channel)})
}

func (s *Server) handleGetFailures(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"failures": s.Retry.FailedPublications(),
		"count":    s.Retry.FailureCount(),
	})
}

func (s *Server) handleRetryFailed(c *gin.Context) {
	summary, err := s.Dispatcher.RetryNow(c.Request.Context())
	if err != nil {
		s.Logger.Error("Manual retry failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retry publications"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

func (s *Server) handleGetAlerts(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	alerts, err := s.History.GetRecentAlerts(limit)
	if err != nil {
		s.Logger.Error("Failed to get alerts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get alerts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

type createTestRequest struct {
	Name     string                 `json:"name" binding:"required"`
	Channel  models.Channel         `json:"channel" binding:"required"`
	Variable models.TestVariable    `json:"variable" binding:"required"`
	Variants []service.VariantInput `json:"variants" binding:"required"`
}

func (s *Server) handleCreateTest(c *gin.Context) {
	var req createTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	test, err := s.ABTests.CreateTest(req.Name, req.Channel, req.Variable, req.Variants)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"test": test})
}

func (s *Server) handleGetTest(c *gin.Context) {
	test := s.ABTests.GetTest(c.Param("id"))
	if test == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Test not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"test": test})
}

type recordMetricRequest struct {
	VariantID  string `json:"variant_id" binding:"required"`
	Views      int64  `json:"views"`
	Engagement int64  `json:"engagement"`
	Clicks     int64  `json:"clicks"`
}

func (s *Server) handleRecordMetric(c *gin.Context) {
	var req recordMetricRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.ABTests.RecordMetric(c.Param("id"), req.VariantID, models.MetricDelta{
		Views:      req.Views,
		Engagement: req.Engagement,
		Clicks:     req.Clicks,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Metric recorded"})
}

func (s *Server) handleAnalyzeResults(c *gin.Context) {
	result, err := s.ABTests.AnalyzeResults(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": result})
}

func (s *Server) handleGetChannelStats(c *gin.Context) {
	days := 7
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid days"})
			return
		}
		days = parsed
	}

	stats, err := s.History.GetChannelStats(days)
	if err != nil {
		s.Logger.Error("Failed to get channel stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get channel stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": stats})
}
