package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"chat-session/internal/directory"
	"chat-session/internal/models"
	"chat-session/internal/observability"
	"chat-session/internal/session"
)

const (
	writeWait            = 10 * time.Second
	pongWait             = 60 * time.Second
	pingPeriod           = (pongWait * 9) / 10
	maxFrameSize         = 4096
	defaultTouchInterval = time.Minute
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SessionHandler serves the session websocket: one socket per client
// connection, carrying the chat list and the messages of the open chat.
type SessionHandler struct {
	sessions      *session.Manager
	touchInterval time.Duration
	log           zerolog.Logger
}

// NewSessionHandler builds a SessionHandler. Live sockets refresh the user's
// last_seen every touchInterval.
func NewSessionHandler(sessions *session.Manager, touchInterval time.Duration, log zerolog.Logger) *SessionHandler {
	if touchInterval <= 0 {
		touchInterval = defaultTouchInterval
	}
	return &SessionHandler{
		sessions:      sessions,
		touchInterval: touchInterval,
		log:           log.With().Str("component", "ws").Logger(),
	}
}

// client serializes writes to one connection.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (cl *client) write(frame ServerFrame) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return cl.conn.WriteJSON(frame)
}

func (cl *client) ping() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (cl *client) close(code int) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, "")
	_ = cl.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = cl.conn.Close()
}

// Handle upgrades the request and runs the session until the socket closes.
// The auth middleware must have stored the user id.
func (h *SessionHandler) Handle(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user"})
		return
	}

	ctx, span := otel.Tracer("chat-session/ws").Start(c.Request.Context(), "ws.session")
	defer span.End()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("upgrade failed")
		return
	}
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   c.GetString("request_id"),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	log := h.log.With().Str("conn_id", info.ConnID).Str("user_id", userID).Logger()

	ctx, cancel := context.WithCancel(ctx)
	cl := &client{conn: conn}

	sess, err := h.sessions.Start(ctx, userID)
	if err != nil {
		_ = cl.write(ServerFrame{Type: FrameError, Error: err.Error()})
		cancel()
		conn.Close()
		return
	}

	observability.IncWSActive()
	publishWSEvent(ctx, info, "ws_connect", "")
	log.Info().Msg("session socket connected")

	var closeReason string
	defer func() {
		sess.End(ctx)
		cancel()
		conn.Close()
		observability.DecWSActive()
		publishWSEvent(context.WithoutCancel(ctx), info, "ws_disconnect", closeReason)
		log.Info().Str("reason", closeReason).Msg("session socket closed")
	}()

	if err := cl.write(ServerFrame{Type: FrameChats, Chats: sess.Chats()}); err != nil {
		closeReason = err.Error()
		return
	}

	go h.keepAlive(ctx, cl, sess, log)

	closeReason = h.readLoop(ctx, cl, sess, info, log)
}

func (h *SessionHandler) readLoop(ctx context.Context, cl *client, sess *session.Session, info ConnInfo, log zerolog.Logger) string {
	cl.conn.SetReadLimit(maxFrameSize)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				publishWSEvent(ctx, info, "ws_error", err.Error())
			}
			return err.Error()
		}

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = cl.write(ServerFrame{Type: FrameError, Error: "malformed frame"})
			continue
		}
		if err := h.dispatch(ctx, cl, sess, frame); err != nil {
			log.Debug().Err(err).Str("frame", frame.Type).Msg("frame rejected")
			_ = cl.write(ServerFrame{Type: FrameError, ChatID: frame.ChatID, Error: clientError(err)})
		}
	}
}

func (h *SessionHandler) dispatch(ctx context.Context, cl *client, sess *session.Session, frame ClientFrame) error {
	switch frame.Type {
	case FrameOpen:
		chatID := frame.ChatID
		return sess.OpenChat(ctx, chatID, func(msgs []models.MessageView) {
			if err := cl.write(ServerFrame{Type: FrameMessages, ChatID: chatID, Messages: msgs}); err != nil {
				h.log.Debug().Err(err).Str("chat_id", chatID).Msg("push messages")
			}
		})
	case FrameClose:
		sess.CloseChat()
		return nil
	case FrameRefreshChats:
		chats, err := sess.RefreshChats(ctx)
		if werr := cl.write(ServerFrame{Type: FrameChats, Chats: chats}); werr != nil {
			return werr
		}
		return err
	default:
		return errors.New("unknown frame type")
	}
}

// keepAlive pings the client and refreshes presence until ctx ends, then
// closes the socket.
func (h *SessionHandler) keepAlive(ctx context.Context, cl *client, sess *session.Session, log zerolog.Logger) {
	ping := time.NewTicker(pingPeriod)
	touch := time.NewTicker(h.touchInterval)
	defer ping.Stop()
	defer touch.Stop()

	for {
		select {
		case <-ctx.Done():
			// unblocks the read loop when the server shuts down
			cl.close(websocket.CloseGoingAway)
			return
		case <-ping.C:
			if err := cl.ping(); err != nil {
				log.Debug().Err(err).Msg("ping failed")
				return
			}
		case <-touch.C:
			if err := sess.Touch(ctx); err != nil {
				log.Warn().Err(err).Msg("presence touch failed")
			}
		}
	}
}

func clientError(err error) string {
	switch {
	case errors.Is(err, directory.ErrNotParticipant):
		return "not a chat member"
	case errors.Is(err, session.ErrSessionEnded):
		return "session ended"
	default:
		return err.Error()
	}
}
