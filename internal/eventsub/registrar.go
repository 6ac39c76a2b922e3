package eventsub

import (
	"context"

	"github.com/streamward/streamward/internal/domain"
	"github.com/streamward/streamward/internal/twitch"
)

// SubscriptionCreator is the subset of the Helix client registrars need.
type SubscriptionCreator interface {
	CreateSubscription(ctx context.Context, accessToken string, sub twitch.SubscriptionRequest) error
}

// RegistrationContext carries everything a registrar needs for one
// registration pass. Built fresh per successful connection, never reused.
type RegistrationContext struct {
	SessionID              string
	BotUserID              string
	BroadcasterUserID      string // "" when the broadcaster never authorized
	ChannelUserIDs         []string
	BotAccessToken         string
	BroadcasterAccessToken string // "" when the broadcaster never authorized
	Client                 SubscriptionCreator
}

// Registrar registers all subscriptions of one type onto a session. Which
// account's token a registrar uses is fixed per type, not looked up at
// runtime. Register returns an error only for context cancellation;
// per-target protocol failures are logged and skipped.
type Registrar interface {
	Type() string
	Register(ctx context.Context, rc *RegistrationContext) error
}

// accountRouting maps subscription types to the account whose token they
// require. Types not listed here default to the bot account, the one
// credential every deployment is guaranteed to have.
var accountRouting = map[string]domain.Account{
	TypeChatMessage: domain.AccountBot,
	TypeWhisper:     domain.AccountBot,
	TypeRedemption:  domain.AccountBroadcaster,
}

// AccountFor returns the account a subscription type's registration must
// authenticate as.
func AccountFor(subscriptionType string) domain.Account {
	if account, ok := accountRouting[subscriptionType]; ok {
		return account
	}
	return domain.AccountBot
}
