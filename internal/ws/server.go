// Package ws provides the WebSocket endpoint participants connect to.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/locshare/internal/config"
	"github.com/xiaot623/gogo/locshare/internal/domain"
	"github.com/xiaot623/gogo/locshare/internal/errs"
	"github.com/xiaot623/gogo/locshare/internal/hub"
	"github.com/xiaot623/gogo/locshare/internal/limiter"
	"github.com/xiaot623/gogo/locshare/internal/metrics"
	"github.com/xiaot623/gogo/locshare/internal/policy"
	"github.com/xiaot623/gogo/locshare/internal/protocol"
	"github.com/xiaot623/gogo/locshare/internal/service"
	"github.com/xiaot623/gogo/locshare/internal/validation"
)

// handlerTimeout bounds the storage work of one inbound message.
const handlerTimeout = 10 * time.Second

// Server handles WebSocket connections.
type Server struct {
	cfg       *config.Config
	hub       *hub.Hub
	svc       *service.Service
	admission *policy.Engine
	counter   limiter.Counter
	validate  *validation.Validator
	metrics   *metrics.Metrics
	log       *zap.Logger
	upgrader  websocket.Upgrader
}

var _ service.Notifier = (*Server)(nil)

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, svc *service.Service, admission *policy.Engine,
	counter limiter.Counter, m *metrics.Metrics, log *zap.Logger) *Server {
	return &Server{
		cfg:       cfg,
		hub:       h,
		svc:       svc,
		admission: admission,
		counter:   counter,
		validate:  validation.New(),
		metrics:   m,
		log:       log.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Register mounts the endpoint with and without the trailing slash.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/ws/location/:session_id/", s.HandleWebSocket)
	e.GET("/ws/location/:session_id", s.HandleWebSocket)
}

// client is the per-connection state owned by the read loop.
type client struct {
	conn          *hub.Connection
	sessionID     string
	sourceAddress string
	userAgent     string
	participantID string
	isMobile      bool
	leaving       bool
	rate          *limiter.Window
}

func connectionKey(sessionID string) string {
	return "ws_connections:" + sessionID
}

// HandleWebSocket upgrades the request, runs admission and starts the pumps.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn("failed to upgrade websocket", zap.Error(err))
		return nil
	}

	cl := &client{
		conn:          s.hub.NewConnection(ws, c.Param("session_id")),
		sessionID:     c.Param("session_id"),
		sourceAddress: c.RealIP(),
		userAgent:     c.Request().UserAgent(),
		rate:          limiter.NewWindow(s.cfg.MaxMessagesPerMinute, s.cfg.RateWindow),
	}

	// The request context ends with this handler; the connection outlives it.
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := s.admit(ctx, cl); err != nil {
		code, reason := closeFor(err)
		s.reject(ctx, cl, code, reason)
		return nil
	}

	s.hub.Register(cl.conn)
	s.metrics.ConnectionOpened()
	s.svc.Audit(ctx, domain.AuditEntry{
		SessionID:     cl.sessionID,
		Action:        domain.AuditWebsocketConnected,
		SourceAddress: cl.sourceAddress,
		UserAgent:     cl.userAgent,
		ConnectionID:  cl.conn.ID,
	})
	s.log.Info("websocket connected",
		zap.String("session_id", cl.sessionID),
		zap.String("connection_id", cl.conn.ID),
		zap.String("source_address", cl.sourceAddress))

	go s.writePump(cl.conn)
	go s.readPump(cl)

	return nil
}

// admit returns nil when the connection may proceed, or the classified reason it may not.
func (s *Server) admit(ctx context.Context, cl *client) error {
	if !validation.IsIdentifier(cl.sessionID) {
		return errs.ErrInvalidSessionID
	}

	// Expired sessions still connect; location messages answer session_expired.
	if _, err := s.svc.GetSession(ctx, cl.sessionID); err != nil {
		if !errs.IsKind(err, errs.KindNotFound) {
			s.log.Error("failed to load session", zap.String("session_id", cl.sessionID), zap.Error(err))
		}
		return err
	}

	decision, err := s.admission.Admit(ctx, policy.Input{
		SessionID:         cl.sessionID,
		SourceAddress:     cl.sourceAddress,
		UserAgent:         cl.userAgent,
		ActiveConnections: s.hub.SessionConnectionCount(cl.sessionID),
		MaxConnections:    s.cfg.MaxConnectionsPerSession,
	})
	if err != nil {
		s.log.Error("admission policy failed", zap.String("session_id", cl.sessionID), zap.Error(err))
		return errs.Internal(err, "admission policy failed")
	}
	if !decision.Allowed {
		s.log.Info("connection denied by policy",
			zap.String("session_id", cl.sessionID), zap.String("reason", decision.Reason))
		return errs.ErrAdmissionDenied
	}

	// No expiry: every admitted connection releases its slot on disconnect.
	ok, err := s.counter.IncrementAndCheck(ctx, connectionKey(cl.sessionID),
		s.cfg.MaxConnectionsPerSession, 0)
	if err != nil {
		s.log.Error("connection counter failed", zap.String("session_id", cl.sessionID), zap.Error(err))
		return errs.Transient(err, "connection counter failed")
	}
	if !ok {
		return errs.ErrTooManyConnections
	}
	return nil
}

// closeFor maps an admission error to its close code and reason.
func closeFor(err error) (int, string) {
	code := protocol.CloseCodeFor(errs.KindOf(err))
	if code == protocol.CloseInternalError {
		return code, protocol.ReasonInternalError
	}
	return code, errs.CodeOf(err)
}

func (s *Server) reject(ctx context.Context, cl *client, code int, reason string) {
	s.metrics.ConnectionRejected(reason)
	s.log.Info("websocket rejected",
		zap.String("session_id", cl.sessionID), zap.Int("code", code), zap.String("reason", reason))

	// Only rejections of an existing session can be audited.
	if code == protocol.ClosePolicyDenied || code == protocol.CloseLimitExceeded {
		s.svc.Audit(ctx, domain.AuditEntry{
			SessionID:     cl.sessionID,
			Action:        domain.AuditError,
			SourceAddress: cl.sourceAddress,
			UserAgent:     cl.userAgent,
			ConnectionID:  cl.conn.ID,
			ErrorMessage:  reason,
		})
	}

	if err := cl.conn.WriteClose(code, reason, s.cfg.WriteTimeout); err != nil {
		s.log.Debug("failed to write close frame", zap.Error(err))
	}
	cl.conn.Close()
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(cl *client) {
	closeCode := websocket.CloseAbnormalClosure
	defer func() {
		s.hub.Unregister(cl.conn)
		s.disconnect(cl, closeCode)
	}()

	conn := cl.conn
	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		message, err := s.readMessage(conn)
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				closeCode = ce.Code
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Warn("websocket error", zap.String("connection_id", conn.ID), zap.Error(err))
			}
			break
		}

		// A read deadline only moves on pong; any frame counts as liveness.
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		if !s.handleFrame(cl, message) {
			break
		}
	}
}

// readMessage reads one message, keeping at most one byte past the size cap so
// oversized messages reach handleFrame however large they are.
func (s *Server) readMessage(conn *hub.Connection) ([]byte, error) {
	_, r, err := conn.Conn.NextReader()
	if err != nil {
		return nil, err
	}
	return io.ReadAll(io.LimitReader(r, int64(s.cfg.MaxMessageSize)+1))
}

// writePump writes messages to the WebSocket connection. The close frame goes out
// after everything queued before it.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, conn.CloseFrame())
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.log.Debug("failed to write message", zap.String("connection_id", conn.ID), zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// closeWith queues a close frame and reports that the read loop must stop.
func (s *Server) closeWith(cl *client, code int, reason string) bool {
	cl.conn.SetCloseFrame(code, reason)
	s.log.Info("closing websocket",
		zap.String("connection_id", cl.conn.ID), zap.Int("code", code), zap.String("reason", reason))
	return false
}

// disconnect releases the connection slot and hands the participant to the presence machine.
func (s *Server) disconnect(cl *client, closeCode int) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := s.counter.Decrement(ctx, connectionKey(cl.sessionID)); err != nil {
		s.log.Warn("failed to release connection slot", zap.String("session_id", cl.sessionID), zap.Error(err))
	}
	s.metrics.ConnectionClosed()

	extra, _ := json.Marshal(map[string]interface{}{"close_code": closeCode})
	s.svc.Audit(ctx, domain.AuditEntry{
		SessionID:     cl.sessionID,
		Action:        domain.AuditWebsocketDisconnected,
		ParticipantID: cl.participantID,
		SourceAddress: cl.sourceAddress,
		UserAgent:     cl.userAgent,
		ConnectionID:  cl.conn.ID,
		ExtraData:     extra,
	})
	s.log.Info("websocket disconnected",
		zap.String("session_id", cl.sessionID),
		zap.String("connection_id", cl.conn.ID),
		zap.String("participant_id", cl.participantID),
		zap.Int("close_code", closeCode))

	if cl.leaving || cl.participantID == "" {
		return
	}
	if s.hub.HasOtherConnection(cl.conn) {
		return
	}

	kind := service.DisconnectAbnormal
	if closeCode == websocket.CloseNormalClosure {
		kind = service.DisconnectPageClose
	}
	p, err := s.svc.Disconnect(ctx, cl.sessionID, cl.participantID, kind, cl.isMobile)
	if err != nil {
		s.log.Warn("failed to record disconnect",
			zap.String("session_id", cl.sessionID), zap.String("participant_id", cl.participantID), zap.Error(err))
		return
	}
	if p != nil {
		s.broadcastSnapshot(ctx, cl.sessionID)
	}
}

// ParticipantsChanged pushes a fresh snapshot to every connection of the session.
func (s *Server) ParticipantsChanged(ctx context.Context, sessionID string) {
	s.broadcastSnapshot(ctx, sessionID)
}

func (s *Server) broadcastSnapshot(ctx context.Context, sessionID string) {
	views, err := s.svc.Snapshot(ctx, sessionID)
	if err != nil {
		s.log.Warn("failed to build snapshot", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if err := s.hub.BroadcastJSON(sessionID, protocol.NewSnapshot(views)); err != nil {
		s.log.Warn("failed to broadcast snapshot", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *Server) reply(cl *client, v interface{}) {
	if err := s.hub.SendJSONToConnection(cl.conn, v); err != nil {
		s.log.Debug("failed to send reply", zap.String("connection_id", cl.conn.ID), zap.Error(err))
	}
}

func (s *Server) sendError(cl *client, message string) {
	s.reply(cl, protocol.NewError(message))
}
