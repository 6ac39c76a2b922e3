package domain

import (
	"context"
	"time"
)

// ChannelRef is one channel the bot should join, in configured order.
type ChannelRef struct {
	UserID string
	Login  string
}

// SetupRecord is the operator-provided configuration: which bot identity to
// run as, which channels to watch, and the stored credentials for both
// accounts. BroadcasterTokens may stay nil indefinitely.
type SetupRecord struct {
	BotUserID         string
	BotLogin          string
	Channels          []ChannelRef
	BotTokens         *AccountTokens
	BroadcasterTokens *AccountTokens
	ConfiguredOn      time.Time
	UpdatedOn         time.Time
}

// SetupStore persists the setup record and its credentials.
type SetupStore interface {
	// Get returns the current setup, or ErrNoSetup when the operator has
	// not run the setup flow yet.
	Get(ctx context.Context) (*SetupRecord, error)
	SaveBotTokens(ctx context.Context, tokens AccountTokens) (*SetupRecord, error)
	SaveBroadcasterTokens(ctx context.Context, tokens AccountTokens) (*SetupRecord, error)
}
