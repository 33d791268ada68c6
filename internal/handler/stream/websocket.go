package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/zhouzirui/supportdesk/backend/internal/access"
	"github.com/zhouzirui/supportdesk/backend/internal/middleware"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	chatService "github.com/zhouzirui/supportdesk/backend/internal/service/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/service/poller"
	"github.com/zhouzirui/supportdesk/backend/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingPeriod   = 54 * time.Second
)

// WebSocketHandler streams the changes of one session to a participant and
// accepts messages written by them.
type WebSocketHandler struct {
	chatSvc  *chatService.Service
	interval time.Duration
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates the session feed handler. A non-positive
// interval uses the poller default.
func NewWebSocketHandler(chatSvc *chatService.Service, interval time.Duration) *WebSocketHandler {
	return &WebSocketHandler{
		chatSvc:  chatSvc,
		interval: interval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the session feed.
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/sessions/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// TextMessage is a chat message written over the socket.
type TextMessage struct {
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// conn serializes writes; gorilla allows one concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

func (c *conn) writeControl(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(messageType, data, time.Now().Add(writeTimeout))
}

// handleWebSocket checks that the caller may read the session before
// upgrading, then runs a poller for the lifetime of the connection.
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	actor, err := h.resolveActor(r, sessionID)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	if _, err := h.chatSvc.View(r.Context(), actor, sessionID); err != nil {
		utils.RespondAppError(w, err)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer ws.Close()
	c := &conn{ws: ws}

	logger := log.WithFields(log.Fields{"session": sessionID, "role": actor.Role})
	logger.Debug("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go h.pingLoop(ctx, c)
	go func() {
		defer cancel()
		h.readLoop(ctx, c, actor, sessionID)
	}()

	h.sendInfo(c, sessionID, map[string]any{"type": "connected", "role": actor.Role})

	feed := poller.New(func(ctx context.Context) (chat.Session, error) {
		return h.chatSvc.View(ctx, actor, sessionID)
	}, h.interval)

	err = feed.Run(ctx, func(events []poller.Event) error {
		return c.writeJSON(outgoingMessage{
			Type:      "events",
			SessionID: sessionID,
			Data:      events,
			Timestamp: time.Now().Unix(),
		})
	})
	if ctx.Err() != nil {
		logger.Debug("websocket closed by peer")
		return
	}
	if err != nil {
		logger.WithError(err).Info("session feed stopped")
		h.sendError(c, err)
	} else {
		h.sendInfo(c, sessionID, map[string]any{"type": "finished"})
	}
	_ = c.writeControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *WebSocketHandler) readLoop(ctx context.Context, c *conn, actor access.Actor, sessionID string) {
	for {
		var msg inboundMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).WithField("session", sessionID).Debug("websocket read error")
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))

		if msg.SessionID != "" && msg.SessionID != sessionID {
			h.sendError(c, errSessionMismatch)
			continue
		}
		h.handleMessage(ctx, c, actor, sessionID, &msg)
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, c *conn, actor access.Actor, sessionID string, msg *inboundMessage) {
	switch msg.Type {
	case "message":
		var text TextMessage
		if err := json.Unmarshal(msg.Data, &text); err != nil {
			h.sendError(c, errBadPayload)
			return
		}
		stored, err := h.chatSvc.Send(ctx, actor, sessionID, text.Text)
		if err != nil {
			h.sendError(c, err)
			return
		}
		h.sendInfo(c, sessionID, map[string]any{"type": "sent", "messageId": stored.ID})
	case "ping":
		h.sendInfo(c, sessionID, map[string]any{"type": "pong"})
	default:
		h.sendError(c, errUnsupported(msg.Type))
	}
}

// resolveActor reads the caller from the identity headers. Browsers cannot
// set headers on a websocket handshake, so clientId and phone query
// parameters are accepted too.
func (h *WebSocketHandler) resolveActor(r *http.Request, sessionID string) (access.Actor, error) {
	p := middleware.PrincipalFrom(r.Context())
	if actor, ok := p.StaffActor(); ok {
		return actor, nil
	}
	query := r.URL.Query()
	if p.ClientID == "" {
		p.ClientID = query.Get("clientId")
	}
	if p.ClientPhone == "" {
		p.ClientPhone = query.Get("phone")
	}
	if p.ClientID != "" {
		return access.Client(p.ClientID), nil
	}

	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		return access.Actor{}, err
	}
	return p.ActorFor(session), nil
}

func (h *WebSocketHandler) sendInfo(c *conn, sessionID string, data map[string]any) {
	msg := outgoingMessage{
		Type:      "result",
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := c.writeJSON(msg); err != nil {
		log.WithError(err).Debug("websocket write info failed")
	}
}

func (h *WebSocketHandler) sendError(c *conn, err error) {
	status, kind, hint := utils.Classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError && !isProtocolError(err) {
		log.WithError(err).Error("websocket request failed")
		message = "internal error"
	}
	msg := outgoingMessage{
		Type:      "error",
		Data:      utils.ErrorBody{Error: message, Kind: kind, Hint: hint},
		Timestamp: time.Now().Unix(),
	}
	if err := c.writeJSON(msg); err != nil {
		log.WithError(err).Debug("websocket write error failed")
	}
}

func (h *WebSocketHandler) pingLoop(ctx context.Context, c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeControl(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
