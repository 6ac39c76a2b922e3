package domain

import "time"

// Account identifies which credential set an operation runs under.
type Account string

const (
	// AccountBot is the service's own automated identity. Every deployment
	// is expected to authorize the bot account.
	AccountBot Account = "bot"

	// AccountBroadcaster is the streamer's identity. Optional: only
	// channel-owner-scoped subscriptions need it.
	AccountBroadcaster Account = "broadcaster"
)

// AccountTokens is one OAuth credential set. Superseded as a whole on every
// refresh, never edited field by field.
type AccountTokens struct {
	UserID          string
	Login           string
	AccessToken     string
	RefreshToken    string
	ExpiresAt       time.Time
	LastRefreshedOn time.Time
}

// HasRefreshToken reports whether a refresh can be attempted at all.
func (t AccountTokens) HasRefreshToken() bool {
	return t.RefreshToken != ""
}
