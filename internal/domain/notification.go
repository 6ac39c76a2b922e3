package domain

import (
	"context"
	"time"
)

// ChatMessage is a chat message received in a watched channel.
type ChatMessage struct {
	MessageID        string
	BroadcasterID    string
	BroadcasterLogin string
	ChatterID        string
	ChatterLogin     string
	Text             string
	ReceivedAt       time.Time
}

// Whisper is a private message sent to the bot account.
type Whisper struct {
	WhisperID  string
	FromUserID string
	FromLogin  string
	Text       string
	ReceivedAt time.Time
}

// Redemption is a custom channel-points reward redemption.
type Redemption struct {
	RedemptionID  string
	BroadcasterID string
	RedeemerID    string
	RedeemerLogin string
	RewardID      string
	RewardTitle   string
	UserInput     string
	ReceivedAt    time.Time
}

// Sink receives translated notifications. Fire-and-forget from the
// coordinator's perspective: delivery errors are the sink's concern.
type Sink interface {
	ChatMessageReceived(ctx context.Context, msg ChatMessage)
	WhisperReceived(ctx context.Context, whisper Whisper)
	RedemptionReceived(ctx context.Context, redemption Redemption)
}
