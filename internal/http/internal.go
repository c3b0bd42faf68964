package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/locshare/internal/domain"
	"github.com/xiaot623/gogo/locshare/internal/errs"
	"github.com/xiaot623/gogo/locshare/internal/hub"
	"github.com/xiaot623/gogo/locshare/internal/metrics"
	"github.com/xiaot623/gogo/locshare/internal/service"
)

// InternalServer serves health, maintenance and metrics endpoints on the internal port.
type InternalServer struct {
	echo *echo.Echo
	hub  *hub.Hub
	svc  *service.Service
	log  *zap.Logger
}

// NewInternalServer creates a new internal HTTP server.
func NewInternalServer(h *hub.Hub, svc *service.Service, m *metrics.Metrics, log *zap.Logger) *InternalServer {
	e := newEcho(log)

	s := &InternalServer{
		echo: e,
		hub:  h,
		svc:  svc,
		log:  log.Named("internal"),
	}

	// Register routes
	e.GET("/health", s.handleHealth)
	e.POST("/internal/sweep", s.handleSweep)
	e.GET("/internal/sessions/:session_id/logs", s.handleSessionLogs)
	e.GET("/internal/sessions/:session_id/participants/:participant_id", s.handleParticipant)
	if m != nil {
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}

	return s
}

// Start starts the HTTP server.
func (s *InternalServer) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *InternalServer) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// handleHealth handles health check requests.
func (s *InternalServer) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"connections": s.hub.GetConnectionCount(),
		"sessions":    s.hub.GetSessionCount(),
	})
}

// handleSweep runs one cleanup pass and reports what it removed.
func (s *InternalServer) handleSweep(c echo.Context) error {
	res, err := s.svc.Sweep(c.Request().Context())
	if err != nil {
		s.log.Error("manual sweep failed", zap.Error(err))
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *InternalServer) handleSessionLogs(c echo.Context) error {
	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		}
		limit = n
	}

	entries, err := s.svc.AuditLog(c.Request().Context(), c.Param("session_id"), limit)
	if err != nil {
		return writeError(c, err)
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id": c.Param("session_id"),
		"entries":    entries,
	})
}

// handleParticipant returns one participant as it appears in the snapshot.
func (s *InternalServer) handleParticipant(c echo.Context) error {
	view, err := s.svc.View(c.Request().Context(), c.Param("session_id"), c.Param("participant_id"))
	if err != nil {
		return writeError(c, err)
	}
	if view == nil {
		return writeError(c, errs.ErrParticipantNotFound)
	}
	return c.JSON(http.StatusOK, view)
}
