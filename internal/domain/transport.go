package domain

import "context"

// ConnectedEvent carries the result of a successful connect or reconnect.
type ConnectedEvent struct {
	SessionID string
	// Resumed is true when the session was resumed over a reconnect URL.
	// Existing subscriptions survive resumption and must not be recreated.
	Resumed bool
}

// Transport is the persistent EventSub websocket connection. A single
// instance is shared across reconnects; event handlers must be registered
// exactly once.
type Transport interface {
	// SessionID returns the welcome-assigned session id of the current
	// connection, or "" when not connected.
	SessionID() string

	// Connect establishes a fresh session. Returns false on failure.
	Connect(ctx context.Context) bool

	// Reconnect resumes the previous session. Only meaningful after a
	// Connect has succeeded at least once.
	Reconnect(ctx context.Context) bool

	OnConnected(fn func(ConnectedEvent))
	OnDisconnected(fn func())
	OnChatMessage(fn func(ChatMessage))
	OnWhisper(fn func(Whisper))
	OnRedemption(fn func(Redemption))
}
