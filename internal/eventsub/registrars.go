package eventsub

import (
	"context"
	"errors"
	"log/slog"

	"github.com/streamward/streamward/internal/twitch"
)

// ChatMessageRegistrar subscribes to chat messages in every configured
// channel using the bot token.
type ChatMessageRegistrar struct{}

func (ChatMessageRegistrar) Type() string { return TypeChatMessage }

func (ChatMessageRegistrar) Register(ctx context.Context, rc *RegistrationContext) error {
	for _, channelID := range rc.ChannelUserIDs {
		sub := twitch.SubscriptionRequest{
			Type:    TypeChatMessage,
			Version: "1",
			Condition: map[string]string{
				"broadcaster_user_id": channelID,
				"user_id":             rc.BotUserID,
			},
			Transport: websocketTransport(rc.SessionID),
		}

		if err := rc.Client.CreateSubscription(ctx, rc.BotAccessToken, sub); err != nil {
			if isCancellation(err) {
				return err
			}
			// One channel failing must not abort the rest.
			slog.Error("Failed to register chat subscription", "channel_id", channelID, "error", err)
			continue
		}
		slog.Info("Registered chat subscription", "channel_id", channelID)
	}
	return nil
}

// WhisperRegistrar subscribes to whispers addressed to the bot account.
type WhisperRegistrar struct{}

func (WhisperRegistrar) Type() string { return TypeWhisper }

func (WhisperRegistrar) Register(ctx context.Context, rc *RegistrationContext) error {
	sub := twitch.SubscriptionRequest{
		Type:      TypeWhisper,
		Version:   "1",
		Condition: map[string]string{"user_id": rc.BotUserID},
		Transport: websocketTransport(rc.SessionID),
	}

	if err := rc.Client.CreateSubscription(ctx, rc.BotAccessToken, sub); err != nil {
		if isCancellation(err) {
			return err
		}
		slog.Error("Failed to register whisper subscription", "error", err)
		return nil
	}
	slog.Info("Registered whisper subscription", "bot_user_id", rc.BotUserID)
	return nil
}

// RedemptionRegistrar subscribes to channel-points redemptions on the
// broadcaster's channel. Requires the broadcaster token; skips quietly
// when the broadcaster has not authorized, since that capability is
// optional.
type RedemptionRegistrar struct{}

func (RedemptionRegistrar) Type() string { return TypeRedemption }

func (RedemptionRegistrar) Register(ctx context.Context, rc *RegistrationContext) error {
	if rc.BroadcasterAccessToken == "" || rc.BroadcasterUserID == "" {
		slog.Info("Skipping redemption subscription, broadcaster not authorized")
		return nil
	}

	sub := twitch.SubscriptionRequest{
		Type:      TypeRedemption,
		Version:   "1",
		Condition: map[string]string{"broadcaster_user_id": rc.BroadcasterUserID},
		Transport: websocketTransport(rc.SessionID),
	}

	if err := rc.Client.CreateSubscription(ctx, rc.BroadcasterAccessToken, sub); err != nil {
		if isCancellation(err) {
			return err
		}
		slog.Error("Failed to register redemption subscription", "broadcaster_user_id", rc.BroadcasterUserID, "error", err)
		return nil
	}
	slog.Info("Registered redemption subscription", "broadcaster_user_id", rc.BroadcasterUserID)
	return nil
}

func websocketTransport(sessionID string) twitch.SubscriptionTransport {
	return twitch.SubscriptionTransport{Method: "websocket", SessionID: sessionID}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// DefaultRegistrars returns the full registrar set in the fixed order the
// coordinator runs them. A stable order keeps partial registration
// failures reproducible in logs.
func DefaultRegistrars() []Registrar {
	return []Registrar{
		ChatMessageRegistrar{},
		WhisperRegistrar{},
		RedemptionRegistrar{},
	}
}
