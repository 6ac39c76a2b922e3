package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/streamward/streamward/internal/domain"
)

// Pub/sub channels for translated notifications.
const (
	ChannelChatMessages = "events:chat"
	ChannelWhispers     = "events:whispers"
	ChannelRedemptions  = "events:redemptions"
)

const publishTimeout = 2 * time.Second

// PubSubSink implements domain.Sink by publishing notifications as JSON to
// per-kind Redis channels. Fire-and-forget: publish failures are logged,
// never propagated back to the event source.
type PubSubSink struct {
	rdb *goredis.Client
}

// NewPubSubSink creates a PubSubSink on the given client.
func NewPubSubSink(rdb *goredis.Client) *PubSubSink {
	return &PubSubSink{rdb: rdb}
}

func (s *PubSubSink) ChatMessageReceived(ctx context.Context, msg domain.ChatMessage) {
	s.publish(ctx, ChannelChatMessages, msg)
}

func (s *PubSubSink) WhisperReceived(ctx context.Context, whisper domain.Whisper) {
	s.publish(ctx, ChannelWhispers, whisper)
}

func (s *PubSubSink) RedemptionReceived(ctx context.Context, redemption domain.Redemption) {
	s.publish(ctx, ChannelRedemptions, redemption)
}

func (s *PubSubSink) publish(ctx context.Context, channel string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to marshal notification", "channel", channel, "error", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := s.rdb.Publish(pubCtx, channel, data).Err(); err != nil {
		slog.WarnContext(ctx, "Failed to publish notification", "channel", channel, "error", err)
	}
}
