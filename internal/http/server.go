// Package http provides the public session API and the internal operations server.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/locshare/internal/config"
	"github.com/xiaot623/gogo/locshare/internal/domain"
	"github.com/xiaot623/gogo/locshare/internal/errs"
	"github.com/xiaot623/gogo/locshare/internal/limiter"
	"github.com/xiaot623/gogo/locshare/internal/protocol"
	"github.com/xiaot623/gogo/locshare/internal/service"
	"github.com/xiaot623/gogo/locshare/internal/validation"
)

// Server is the public HTTP server. The WebSocket endpoint is mounted on the same router.
type Server struct {
	echo     *echo.Echo
	cfg      *config.Config
	svc      *service.Service
	counter  limiter.Counter
	notifier service.Notifier
	validate *validation.Validator
	log      *zap.Logger
}

// NewServer creates the public HTTP server. notifier receives a call whenever a fallback
// request changes the participant list.
func NewServer(cfg *config.Config, svc *service.Service, counter limiter.Counter, notifier service.Notifier, log *zap.Logger) *Server {
	e := newEcho(log)

	s := &Server{
		echo:     e,
		cfg:      cfg,
		svc:      svc,
		counter:  counter,
		notifier: notifier,
		validate: validation.New(),
		log:      log.Named("http"),
	}

	e.GET("/health", s.handleHealth)
	e.GET("/api/stats", s.handleStats)
	e.POST("/api/sessions", s.handleCreateSession)
	e.GET("/api/sessions/:session_id", s.handleGetSession)
	e.GET("/api/sessions/:session_id/locations", s.handleGetLocations)

	fallback := e.Group("/api/sessions/:session_id")
	fallback.POST("/update", s.handleUpdateLocation)
	fallback.POST("/leave", s.handleLeave)
	fallback.POST("/offline", s.handleOffline)
	fallback.POST("/update-name", s.handleUpdateName)
	fallback.POST("/stop-sharing", s.handleStopSharing)
	fallback.POST("/ping", s.handlePing)

	return s
}

// newEcho builds an echo instance with request logging through zap.
func newEcho(log *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP),
			}
			if v.Error != nil {
				log.Warn("request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			log.Debug("request", fields...)
			return nil
		},
	}))
	return e
}

// Echo returns the router so other endpoints can be mounted on the public port.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.svc.Stats(c.Request().Context())
	if err != nil {
		s.log.Warn("failed to load stats", zap.Error(err))
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// allow charges one request against the per-address limit for action.
func (s *Server) allow(c echo.Context, action string, limit int) error {
	key := "rate:" + action + ":" + c.RealIP()
	ok, err := s.counter.IncrementAndCheck(c.Request().Context(), key, limit, time.Minute)
	if err != nil {
		return errs.Transient(err, "rate limiter unavailable")
	}
	if !ok {
		s.log.Warn("rate limit exceeded", zap.String("action", action), zap.String("remote_ip", c.RealIP()))
		return errs.ErrRateLimited
	}
	return nil
}

// CreateSessionRequest is the body of POST /api/sessions.
type CreateSessionRequest struct {
	DurationMinutes int `json:"duration_minutes" validate:"min=0"`
}

// CreateSessionResponse is returned by POST /api/sessions.
type CreateSessionResponse struct {
	SessionID       string    `json:"session_id"`
	DurationMinutes int       `json:"duration_minutes"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	ShareURL        string    `json:"share_url"`
	WebSocketURL    string    `json:"websocket_url"`
}

func (s *Server) handleCreateSession(c echo.Context) error {
	if err := s.allow(c, "create_session", s.cfg.CreateSessionPerMinute); err != nil {
		return writeError(c, err)
	}

	var req CreateSessionRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		}
	}
	if err := s.validate.Struct(&req); err != nil {
		return writeError(c, err)
	}

	session, err := s.svc.CreateSession(c.Request().Context(), req.DurationMinutes)
	if err != nil {
		return writeError(c, err)
	}

	s.log.Info("session created",
		zap.String("session_id", session.ID),
		zap.Int("duration_minutes", session.DurationMinutes),
		zap.String("remote_ip", c.RealIP()))

	return c.JSON(http.StatusCreated, CreateSessionResponse{
		SessionID:       session.ID,
		DurationMinutes: session.DurationMinutes,
		CreatedAt:       session.CreatedAt,
		ExpiresAt:       session.ExpiresAt,
		ShareURL:        c.Scheme() + "://" + c.Request().Host + "/share/" + session.ID + "/",
		WebSocketURL:    wsScheme(c) + "://" + c.Request().Host + "/ws/location/" + session.ID + "/",
	})
}

func wsScheme(c echo.Context) string {
	if c.Scheme() == "https" {
		return "wss"
	}
	return "ws"
}

// SessionStatus is returned by GET /api/sessions/:session_id.
type SessionStatus struct {
	SessionID        string    `json:"session_id"`
	IsExpired        bool      `json:"is_expired"`
	ExpiresAt        time.Time `json:"expires_at"`
	DurationMinutes  int       `json:"duration_minutes"`
	CreatedAt        time.Time `json:"created_at"`
	ParticipantCount int       `json:"participant_count"`
}

func (s *Server) handleGetSession(c echo.Context) error {
	ctx := c.Request().Context()
	session, err := s.svc.GetSession(ctx, c.Param("session_id"))
	if err != nil {
		return writeError(c, err)
	}
	count, err := s.svc.ParticipantCount(ctx, session.ID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, SessionStatus{
		SessionID:        session.ID,
		IsExpired:        s.svc.IsExpired(session),
		ExpiresAt:        session.ExpiresAt,
		DurationMinutes:  session.DurationMinutes,
		CreatedAt:        session.CreatedAt,
		ParticipantCount: count,
	})
}

func (s *Server) handleGetLocations(c echo.Context) error {
	ctx := c.Request().Context()
	session, err := s.svc.RequireActive(ctx, c.Param("session_id"))
	if err != nil {
		return writeError(c, err)
	}
	views, err := s.svc.Snapshot(ctx, session.ID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"locations":  protocol.NewSnapshot(views).Locations,
		"expires_at": session.ExpiresAt,
		"is_expired": false,
	})
}

// ParticipantRequest is the body shared by the fallback endpoints.
type ParticipantRequest struct {
	ParticipantID   string          `json:"participant_id" validate:"required,ident"`
	ParticipantName string          `json:"participant_name"`
	Latitude        *float64        `json:"latitude"`
	Longitude       *float64        `json:"longitude"`
	Accuracy        *float64        `json:"accuracy"`
	IsBackground    bool            `json:"is_background"`
	Timestamp       json.RawMessage `json:"timestamp"`
}

// fallback runs the checks every fallback endpoint shares and returns the decoded body.
func (s *Server) fallback(c echo.Context, action string, limit int) (string, *ParticipantRequest, error) {
	if err := s.allow(c, action, limit); err != nil {
		return "", nil, err
	}
	session, err := s.svc.RequireActive(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return "", nil, err
	}

	var req ParticipantRequest
	if err := c.Bind(&req); err != nil {
		return "", nil, errs.Validation("invalid JSON body")
	}
	if err := s.validate.Struct(&req); err != nil {
		return "", nil, err
	}
	req.ParticipantName = validation.SanitizeName(req.ParticipantName)
	return session.ID, &req, nil
}

func (s *Server) changed(c echo.Context, sessionID, message string) error {
	if s.notifier != nil {
		s.notifier.ParticipantsChanged(c.Request().Context(), sessionID)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "message": message})
}

func (s *Server) handleUpdateLocation(c echo.Context) error {
	sessionID, req, err := s.fallback(c, "update_location", s.cfg.APIRequestsPerMinute)
	if err != nil {
		return writeError(c, err)
	}
	lat, lon, err := validation.Coordinates(req.Latitude, req.Longitude)
	if err != nil {
		return writeError(c, err)
	}
	if _, err := s.svc.ReportLocation(c.Request().Context(), sessionID, service.LocationReport{
		ParticipantID: req.ParticipantID,
		Name:          req.ParticipantName,
		Latitude:      lat,
		Longitude:     lon,
		Accuracy:      validation.ClampAccuracy(req.Accuracy),
		IsBackground:  req.IsBackground,
		SourceAddress: c.RealIP(),
	}); err != nil {
		return writeError(c, err)
	}
	return s.changed(c, sessionID, "location updated")
}

func (s *Server) handleLeave(c echo.Context) error {
	sessionID, req, err := s.fallback(c, "leave", s.cfg.APIRequestsPerMinute)
	if err != nil {
		return writeError(c, err)
	}
	if err := s.svc.Leave(c.Request().Context(), sessionID, req.ParticipantID); err != nil {
		return writeError(c, err)
	}
	return s.changed(c, sessionID, "left session")
}

func (s *Server) handleOffline(c echo.Context) error {
	sessionID, req, err := s.fallback(c, "offline", s.cfg.APIRequestsPerMinute)
	if err != nil {
		return writeError(c, err)
	}
	if _, err := s.svc.GoOffline(c.Request().Context(), sessionID, req.ParticipantID); err != nil {
		return writeError(c, err)
	}
	return s.changed(c, sessionID, "marked offline")
}

func (s *Server) handleUpdateName(c echo.Context) error {
	sessionID, req, err := s.fallback(c, "update_name", s.cfg.APIRequestsPerMinute)
	if err != nil {
		return writeError(c, err)
	}
	if req.ParticipantName == "" {
		return writeError(c, errs.Validation("participant_name is required"))
	}
	if _, err := s.svc.UpdateName(c.Request().Context(), sessionID, req.ParticipantID, req.ParticipantName); err != nil {
		return writeError(c, err)
	}
	return s.changed(c, sessionID, "name updated")
}

func (s *Server) handleStopSharing(c echo.Context) error {
	sessionID, req, err := s.fallback(c, "stop_sharing", s.cfg.APIRequestsPerMinute)
	if err != nil {
		return writeError(c, err)
	}
	if _, err := s.svc.StopSharing(c.Request().Context(), sessionID, req.ParticipantID, req.ParticipantName); err != nil {
		return writeError(c, err)
	}
	return s.changed(c, sessionID, "sharing stopped")
}

// handlePing refreshes presence only. Pings are frequent, so they get a looser limit.
func (s *Server) handlePing(c echo.Context) error {
	sessionID, req, err := s.fallback(c, "ping", 3*s.cfg.APIRequestsPerMinute)
	if err != nil {
		return writeError(c, err)
	}
	p, err := s.svc.Participant(c.Request().Context(), sessionID, req.ParticipantID)
	if err != nil {
		return writeError(c, err)
	}
	if p != nil {
		if _, err := s.svc.Ping(c.Request().Context(), sessionID, service.PingReport{
			ParticipantID: req.ParticipantID,
			IsSharing:     p.Status == domain.StatusSharing,
			IsBackground:  p.IsBackground,
			IsMobile:      p.IsMobile,
			HasPosition:   p.HasLocation(),
			CurrentSpeed:  p.CurrentSpeed,
			IsMoving:      p.IsMoving,
		}); err != nil {
			return writeError(c, err)
		}
	}

	timestamp := req.Timestamp
	if timestamp == nil {
		timestamp = json.RawMessage("null")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":     true,
		"pong":        true,
		"timestamp":   timestamp,
		"server_time": time.Now().UTC(),
	})
}
