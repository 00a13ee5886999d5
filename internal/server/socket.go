package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/appcontentbiz/QAA/internal/collab"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	socketWriteWait  = 10 * time.Second
	socketPongWait   = 60 * time.Second
	socketPingPeriod = 54 * time.Second
	socketReadLimit  = 1 << 20
)

// The token in the upgrade request already authenticates the connection;
// cross-origin browser clients are expected.
var socketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// newConnectionID issues time-ordered connection identifiers so log lines
// for one socket sort together.
func newConnectionID() string {
	value, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return value.String()
}

type inboundMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type joinProjectData struct {
	ProjectID string `json:"projectId"`
}

type componentData struct {
	ProjectID   string `json:"projectId"`
	ComponentID string `json:"componentId"`
}

type componentChangeData struct {
	ProjectID   string          `json:"projectId"`
	ComponentID string          `json:"componentId"`
	Changes     json.RawMessage `json:"changes"`
}

type cursorMoveData struct {
	ProjectID   string          `json:"projectId"`
	ComponentID string          `json:"componentId"`
	Position    json.RawMessage `json:"position"`
}

type sendMessageData struct {
	ProjectID string `json:"projectId"`
	Message   string `json:"message"`
}

// handleSocket authenticates the upgrade request, then runs one read loop
// dispatching operations and one write pump draining the connection's event
// stream until either side closes.
func (h *httpHandler) handleSocket(c *gin.Context) {
	credential := extractCredential(c)
	identity, err := h.verifier.Verify(c.Request.Context(), credential)
	if err != nil {
		h.logger.Warn("socket credential rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": authFailureCode(err)})
		return
	}

	conn, err := socketUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("socket upgrade failed", zap.Error(err))
		return
	}

	session := collab.Session{
		ConnectionID: newConnectionID(),
		UserID:       identity.UserID,
		DisplayName:  identity.DisplayName,
	}
	h.logger.Info("socket connected",
		zap.String("connection_id", session.ConnectionID),
		zap.String("user_id", session.UserID))

	ctx, cancel := context.WithCancel(context.Background())
	stream, unregister := h.registry.Register(ctx, session.ConnectionID)

	go h.writePump(conn, stream, ctx.Done())

	h.readLoop(ctx, conn, session)

	// Disconnect cleanup runs before the subscriber is unregistered so the
	// unlock and offline broadcasts reach the remaining room members.
	cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 5*time.Second)
	h.coordinator.Disconnect(cleanupCtx, session)
	cleanupCancel()

	unregister()
	cancel()
	_ = conn.Close()
	h.logger.Info("socket disconnected",
		zap.String("connection_id", session.ConnectionID),
		zap.String("user_id", session.UserID))
}

func (h *httpHandler) readLoop(ctx context.Context, conn *websocket.Conn, session collab.Session) {
	conn.SetReadLimit(socketReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(socketPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(socketPongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("socket read failed", zap.Error(err),
					zap.String("connection_id", session.ConnectionID))
			}
			return
		}

		var message inboundMessage
		if err := json.Unmarshal(raw, &message); err != nil {
			h.sendError(session, collab.CodeMalformedPayload, "message is not valid JSON")
			continue
		}
		h.dispatch(ctx, session, message)
	}
}

// dispatch routes one inbound operation. A panic inside a handler is
// recovered and converted to an error event so one connection's failure
// never takes down the socket or affects other connections.
func (h *httpHandler) dispatch(ctx context.Context, session collab.Session, message inboundMessage) {
	defer func() {
		if recovered := recover(); recovered != nil {
			h.logger.Error("socket handler panic",
				zap.Any("panic", recovered),
				zap.String("event", message.Event),
				zap.String("connection_id", session.ConnectionID))
			h.sendError(session, collab.CodeInternal, "internal error handling "+message.Event)
		}
	}()

	switch message.Event {
	case "join_project":
		var data joinProjectData
		if err := json.Unmarshal(message.Data, &data); err != nil || data.ProjectID == "" {
			h.sendError(session, collab.CodeMalformedPayload, "join_project requires projectId")
			return
		}
		h.reportOperation(session, h.coordinator.JoinProject(ctx, session, data.ProjectID))

	case "start_editing_component":
		var data componentData
		if err := json.Unmarshal(message.Data, &data); err != nil || data.ProjectID == "" || data.ComponentID == "" {
			h.sendError(session, collab.CodeMalformedPayload, "start_editing_component requires projectId and componentId")
			return
		}
		h.reportOperation(session, h.coordinator.StartEditing(ctx, session, data.ProjectID, data.ComponentID))

	case "component_change":
		var data componentChangeData
		if err := json.Unmarshal(message.Data, &data); err != nil || data.ProjectID == "" || data.ComponentID == "" {
			h.sendError(session, collab.CodeMalformedPayload, "component_change requires projectId and componentId")
			return
		}
		h.reportOperation(session, h.coordinator.ApplyChange(ctx, session, data.ProjectID, data.ComponentID, data.Changes))

	case "stop_editing_component":
		var data componentData
		if err := json.Unmarshal(message.Data, &data); err != nil || data.ProjectID == "" || data.ComponentID == "" {
			h.sendError(session, collab.CodeMalformedPayload, "stop_editing_component requires projectId and componentId")
			return
		}
		h.reportOperation(session, h.coordinator.StopEditing(ctx, session, data.ProjectID, data.ComponentID))

	case "cursor_move":
		var data cursorMoveData
		if err := json.Unmarshal(message.Data, &data); err != nil || data.ProjectID == "" {
			h.sendError(session, collab.CodeMalformedPayload, "cursor_move requires projectId")
			return
		}
		h.coordinator.CursorMove(session, data.ProjectID, data.ComponentID, data.Position)

	case "send_message":
		var data sendMessageData
		if err := json.Unmarshal(message.Data, &data); err != nil || data.ProjectID == "" {
			h.sendError(session, collab.CodeMalformedPayload, "send_message requires projectId")
			return
		}
		h.reportOperation(session, h.coordinator.SendMessage(ctx, session, data.ProjectID, data.Message))

	default:
		h.sendError(session, collab.CodeMalformedPayload, "unknown event "+message.Event)
	}
}

// reportOperation surfaces an operation failure to the originating
// connection only.
func (h *httpHandler) reportOperation(session collab.Session, err error) {
	if err == nil {
		return
	}
	var coded *collab.Error
	if errors.As(err, &coded) {
		h.sendError(session, coded.Code(), coded.Message())
		return
	}
	h.logger.Error("socket operation failed", zap.Error(err),
		zap.String("connection_id", session.ConnectionID))
	h.sendError(session, collab.CodeInternal, "operation failed")
}

func (h *httpHandler) sendError(session collab.Session, code, message string) {
	h.registry.Send(session.ConnectionID, collab.Event{
		Name:    collab.EventError,
		Payload: collab.ErrorPayload{Code: code, Message: message},
	})
}

func (h *httpHandler) writePump(conn *websocket.Conn, stream <-chan collab.Event, done <-chan struct{}) {
	ticker := time.NewTicker(socketPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event := <-stream:
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
