package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/opsguide/opsguide-ai/internal/metrics"
	"github.com/opsguide/opsguide-ai/internal/middleware"
	"github.com/opsguide/opsguide-ai/internal/models"
	"github.com/opsguide/opsguide-ai/internal/orchestrator"
)

// WebSocket frame types
const (
	FrameTypeStage     = "stage"
	FrameTypeArtifact  = "artifact"
	FrameTypeError     = "error"
	FrameTypeHeartbeat = "heartbeat"
)

const (
	wsWriteTimeout    = 10 * time.Second
	wsHeartbeatPeriod = 30 * time.Second
)

// WSRequest is one request frame sent by the client.
type WSRequest struct {
	RequestID   string                 `json:"requestId,omitempty"`
	UserID      string                 `json:"userId,omitempty"`
	Query       string                 `json:"query"`
	Environment string                 `json:"environment,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Mode        string                 `json:"mode,omitempty"`
}

// WSFrame is one frame sent to the client.
type WSFrame struct {
	Type      string                   `json:"type"`
	RequestID string                   `json:"requestId,omitempty"`
	Stage     string                   `json:"stage,omitempty"`
	Detail    string                   `json:"detail,omitempty"`
	Artifact  *models.DecisionArtifact `json:"artifact,omitempty"`
	Error     string                   `json:"error,omitempty"`
	Timestamp time.Time                `json:"timestamp"`
}

// devOrigins are accepted when no allow list is configured.
var devOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// newUpgrader builds an upgrader for the allowed origins. "*" allows any
// origin; requests without an Origin header are always accepted.
func newUpgrader(allowed []string) websocket.Upgrader {
	if len(allowed) == 0 {
		allowed = devOrigins
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, a := range allowed {
				if a == "*" || strings.EqualFold(a, origin) {
					return true
				}
			}
			return false
		},
	}
}

// wsSession is one WebSocket connection. Requests on a session run one at
// a time; frames are written under mu.
type wsSession struct {
	conn   *websocket.Conn
	server *Server
	userID string
	log    *zap.Logger
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// handleWebSocket handles GET /ws/requests
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	sess := &wsSession{
		conn:   conn,
		server: s,
		userID: r.Header.Get(middleware.UserHeader),
		log:    s.log.With(zap.String("session", uuid.NewString())),
		ctx:    ctx,
		cancel: cancel,
	}

	metrics.WebSocketConnections.Inc()
	defer metrics.WebSocketConnections.Dec()
	sess.run()
}

func (ws *wsSession) run() {
	defer func() {
		ws.cancel()
		ws.conn.Close()
		ws.log.Debug("websocket closed")
	}()

	go ws.heartbeat()
	go func() {
		// Unblocks ReadJSON on server shutdown.
		<-ws.ctx.Done()
		ws.conn.Close()
	}()

	for {
		var req WSRequest
		if err := ws.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.log.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		metrics.WebSocketMessagesTotal.WithLabelValues("inbound").Inc()
		ws.process(&req)
	}
}

func (ws *wsSession) process(in *WSRequest) {
	requestID := in.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	userID := in.UserID
	if userID == "" {
		userID = ws.userID
	}
	if userID == "" {
		ws.sendError(requestID, "userId is required")
		return
	}
	if strings.TrimSpace(in.Query) == "" {
		ws.sendError(requestID, "Query is required")
		return
	}

	req := &models.OperationalRequest{
		RequestID:   requestID,
		UserID:      userID,
		Query:       in.Query,
		Environment: in.Environment,
		Context:     in.Context,
	}

	observer := func(e orchestrator.Event) {
		ws.send(&WSFrame{Type: FrameTypeStage, RequestID: e.RequestID, Stage: e.Stage, Detail: e.Detail})
	}

	artifact, err := ws.server.decide(ws.ctx, req, parseMode(in.Mode), observer)
	if err != nil {
		ws.sendError(requestID, err.Error())
		return
	}
	ws.send(&WSFrame{Type: FrameTypeArtifact, RequestID: requestID, Artifact: artifact})
}

func (ws *wsSession) send(f *WSFrame) {
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()

	_ = ws.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := ws.conn.WriteJSON(f); err != nil {
		ws.log.Debug("websocket write failed", zap.Error(err))
		return
	}
	metrics.WebSocketMessagesTotal.WithLabelValues("outbound").Inc()
}

func (ws *wsSession) sendError(requestID, msg string) {
	ws.send(&WSFrame{Type: FrameTypeError, RequestID: requestID, Error: msg})
}

func (ws *wsSession) heartbeat() {
	ticker := time.NewTicker(wsHeartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ws.ctx.Done():
			return
		case <-ticker.C:
			ws.send(&WSFrame{Type: FrameTypeHeartbeat})
		}
	}
}
