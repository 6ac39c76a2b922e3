package eventsub

import (
	"encoding/json"
	"time"
)

// Wire frame types of the EventSub websocket protocol.
const (
	messageTypeWelcome      = "session_welcome"
	messageTypeKeepalive    = "session_keepalive"
	messageTypeNotification = "notification"
	messageTypeReconnect    = "session_reconnect"
	messageTypeRevocation   = "revocation"
)

// Subscription types handled by this service.
const (
	TypeChatMessage = "channel.chat.message"
	TypeWhisper     = "user.whisper.message"
	TypeRedemption  = "channel.channel_points_custom_reward_redemption.add"
)

type frame struct {
	Metadata frameMetadata   `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

type frameMetadata struct {
	MessageID        string    `json:"message_id"`
	MessageType      string    `json:"message_type"`
	MessageTimestamp time.Time `json:"message_timestamp"`
	SubscriptionType string    `json:"subscription_type,omitempty"`
}

type sessionPayload struct {
	Session struct {
		ID                      string `json:"id"`
		Status                  string `json:"status"`
		KeepaliveTimeoutSeconds int    `json:"keepalive_timeout_seconds"`
		ReconnectURL            string `json:"reconnect_url"`
	} `json:"session"`
}

type notificationPayload struct {
	Subscription struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"subscription"`
	Event json.RawMessage `json:"event"`
}

type chatMessageEvent struct {
	MessageID        string `json:"message_id"`
	BroadcasterID    string `json:"broadcaster_user_id"`
	BroadcasterLogin string `json:"broadcaster_user_login"`
	ChatterID        string `json:"chatter_user_id"`
	ChatterLogin     string `json:"chatter_user_login"`
	Message          struct {
		Text string `json:"text"`
	} `json:"message"`
}

type whisperEvent struct {
	WhisperID  string `json:"whisper_id"`
	FromUserID string `json:"from_user_id"`
	FromLogin  string `json:"from_user_login"`
	Whisper    struct {
		Text string `json:"text"`
	} `json:"whisper"`
}

type redemptionEvent struct {
	ID            string `json:"id"`
	BroadcasterID string `json:"broadcaster_user_id"`
	UserID        string `json:"user_id"`
	UserLogin     string `json:"user_login"`
	UserInput     string `json:"user_input"`
	Reward        struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"reward"`
}
