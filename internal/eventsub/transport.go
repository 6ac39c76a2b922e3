package eventsub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamward/streamward/internal/domain"
	"github.com/streamward/streamward/internal/metrics"
)

const (
	defaultWebsocketURL = "wss://eventsub.wss.twitch.tv/ws"
	dialTimeout         = 10 * time.Second
	keepaliveGrace      = 10 * time.Second
)

// Transport is the persistent EventSub websocket connection. A single
// instance is reused across reconnects. Event handlers must be registered
// before the first Connect call and are never invoked concurrently with
// each other: the read loop dispatches them one frame at a time.
type Transport struct {
	url    string // configurable for testing
	dialer *websocket.Dialer

	mu           sync.Mutex
	conn         *websocket.Conn
	sessionID    string
	reconnectURL string

	onConnected    func(domain.ConnectedEvent)
	onDisconnected func()
	onChatMessage  func(domain.ChatMessage)
	onWhisper      func(domain.Whisper)
	onRedemption   func(domain.Redemption)
}

// NewTransport creates a Transport against the public EventSub endpoint.
func NewTransport() *Transport {
	return &Transport{
		url:    defaultWebsocketURL,
		dialer: &websocket.Dialer{HandshakeTimeout: dialTimeout},
	}
}

func (t *Transport) OnConnected(fn func(domain.ConnectedEvent))  { t.onConnected = fn }
func (t *Transport) OnDisconnected(fn func())                    { t.onDisconnected = fn }
func (t *Transport) OnChatMessage(fn func(domain.ChatMessage))   { t.onChatMessage = fn }
func (t *Transport) OnWhisper(fn func(domain.Whisper))           { t.onWhisper = fn }
func (t *Transport) OnRedemption(fn func(domain.Redemption))     { t.onRedemption = fn }

// SessionID returns the welcome-assigned id of the current connection,
// or "" when not connected.
func (t *Transport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Connect establishes a fresh session: dial, await the welcome frame,
// start the read loop, fire the connected event. Returns false on failure.
func (t *Transport) Connect(ctx context.Context) bool {
	ok := t.dial(ctx, t.url, false)
	t.recordAttempt("connect", ok)
	return ok
}

// Reconnect resumes the session. It prefers the reconnect URL announced by
// the server in a session_reconnect frame; without one it falls back to a
// fresh dial of the base URL.
func (t *Transport) Reconnect(ctx context.Context) bool {
	t.mu.Lock()
	target := t.reconnectURL
	t.mu.Unlock()

	resumed := target != ""
	if !resumed {
		target = t.url
	}

	ok := t.dial(ctx, target, resumed)
	t.recordAttempt("reconnect", ok)
	return ok
}

func (t *Transport) recordAttempt(kind string, ok bool) {
	status := "success"
	if !ok {
		status = "error"
	}
	metrics.Connections.WithLabelValues(kind, status).Inc()
}

func (t *Transport) dial(ctx context.Context, target string, resumed bool) bool {
	conn, _, err := t.dialer.DialContext(ctx, target, nil)
	if err != nil {
		slog.Warn("Websocket dial failed", "url", target, "error", err)
		return false
	}

	welcome, keepalive, err := t.awaitWelcome(conn)
	if err != nil {
		slog.Warn("Did not receive session welcome", "error", err)
		_ = conn.Close()
		return false
	}

	t.mu.Lock()
	t.conn = conn
	t.sessionID = welcome
	t.reconnectURL = ""
	t.mu.Unlock()

	go t.readLoop(conn, keepalive)

	slog.Info("EventSub session established", "session_id", welcome, "resumed", resumed)
	if t.onConnected != nil {
		t.onConnected(domain.ConnectedEvent{SessionID: welcome, Resumed: resumed})
	}
	return true
}

// awaitWelcome reads frames until the session_welcome arrives. A resumed
// session may replay buffered frames first; those are dropped since the
// caller has not re-registered interest yet.
func (t *Transport) awaitWelcome(conn *websocket.Conn) (sessionID string, keepalive time.Duration, err error) {
	_ = conn.SetReadDeadline(time.Now().Add(dialTimeout))

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return "", 0, err
		}
		if f.Metadata.MessageType != messageTypeWelcome {
			continue
		}

		var payload sessionPayload
		if err := json.Unmarshal(f.Payload, &payload); err != nil {
			return "", 0, err
		}

		keepalive := time.Duration(payload.Session.KeepaliveTimeoutSeconds) * time.Second
		if keepalive <= 0 {
			keepalive = 30 * time.Second
		}
		return payload.Session.ID, keepalive, nil
	}
}

func (t *Transport) readLoop(conn *websocket.Conn, keepalive time.Duration) {
	defer func() {
		_ = conn.Close()

		t.mu.Lock()
		current := t.conn == conn
		if current {
			t.conn = nil
			t.sessionID = ""
		}
		t.mu.Unlock()

		// A superseded connection's teardown must not signal a disconnect
		// against the session that replaced it.
		if !current {
			return
		}

		metrics.Disconnects.Inc()
		if t.onDisconnected != nil {
			t.onDisconnected()
		}
	}()

	for {
		// Missing keepalives mean the connection is dead even if TCP disagrees.
		_ = conn.SetReadDeadline(time.Now().Add(keepalive + keepaliveGrace))

		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			slog.Info("EventSub read loop ended", "error", err)
			return
		}

		switch f.Metadata.MessageType {
		case messageTypeKeepalive:
			// nothing to do, the deadline reset above is the point
		case messageTypeNotification:
			t.dispatch(f.Payload)
		case messageTypeReconnect:
			t.handleReconnectFrame(f.Payload)
		case messageTypeRevocation:
			var payload notificationPayload
			_ = json.Unmarshal(f.Payload, &payload)
			slog.Warn("EventSub subscription revoked", "type", payload.Subscription.Type, "subscription_id", payload.Subscription.ID)
		default:
			slog.Debug("Ignoring unknown EventSub frame", "message_type", f.Metadata.MessageType)
		}
	}
}

// handleReconnectFrame records the server-provided resume URL. The server
// closes this connection shortly after; the lifecycle loop then resumes
// via Reconnect using the recorded URL.
func (t *Transport) handleReconnectFrame(payload json.RawMessage) {
	var p sessionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		slog.Warn("Failed to parse session_reconnect frame", "error", err)
		return
	}

	t.mu.Lock()
	t.reconnectURL = p.Session.ReconnectURL
	t.mu.Unlock()

	slog.Info("EventSub session reconnect requested", "reconnect_url", p.Session.ReconnectURL)
}

func (t *Transport) dispatch(payload json.RawMessage) {
	var p notificationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		slog.Warn("Failed to parse notification payload", "error", err)
		return
	}

	now := time.Now()
	metrics.NotificationsReceived.WithLabelValues(p.Subscription.Type).Inc()

	switch p.Subscription.Type {
	case TypeChatMessage:
		var ev chatMessageEvent
		if err := json.Unmarshal(p.Event, &ev); err != nil {
			slog.Warn("Failed to parse chat message event", "error", err)
			return
		}
		if t.onChatMessage != nil {
			t.onChatMessage(domain.ChatMessage{
				MessageID:        ev.MessageID,
				BroadcasterID:    ev.BroadcasterID,
				BroadcasterLogin: ev.BroadcasterLogin,
				ChatterID:        ev.ChatterID,
				ChatterLogin:     ev.ChatterLogin,
				Text:             ev.Message.Text,
				ReceivedAt:       now,
			})
		}
	case TypeWhisper:
		var ev whisperEvent
		if err := json.Unmarshal(p.Event, &ev); err != nil {
			slog.Warn("Failed to parse whisper event", "error", err)
			return
		}
		if t.onWhisper != nil {
			t.onWhisper(domain.Whisper{
				WhisperID:  ev.WhisperID,
				FromUserID: ev.FromUserID,
				FromLogin:  ev.FromLogin,
				Text:       ev.Whisper.Text,
				ReceivedAt: now,
			})
		}
	case TypeRedemption:
		var ev redemptionEvent
		if err := json.Unmarshal(p.Event, &ev); err != nil {
			slog.Warn("Failed to parse redemption event", "error", err)
			return
		}
		if t.onRedemption != nil {
			t.onRedemption(domain.Redemption{
				RedemptionID:  ev.ID,
				BroadcasterID: ev.BroadcasterID,
				RedeemerID:    ev.UserID,
				RedeemerLogin: ev.UserLogin,
				RewardID:      ev.Reward.ID,
				RewardTitle:   ev.Reward.Title,
				UserInput:     ev.UserInput,
				ReceivedAt:    now,
			})
		}
	default:
		slog.Debug("Ignoring notification of unhandled type", "type", p.Subscription.Type)
	}
}
