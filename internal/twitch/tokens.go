package twitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/streamward/streamward/internal/domain"
	"github.com/streamward/streamward/internal/metrics"
)

// refreshThreshold is how close to expiry a cached token may get before the
// next read triggers a refresh.
const refreshThreshold = 300 * time.Second

// tokenRefresher is the subset of OAuthClient used by the token manager.
type tokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error)
}

// accountCache holds one account's credentials behind its own lock. The
// lock covers only in-memory reads and writes; network refreshes run
// outside it so one account's latency never blocks the other.
type accountCache struct {
	mu     sync.Mutex
	tokens domain.AccountTokens
}

func (c *accountCache) snapshot() domain.AccountTokens {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}

func (c *accountCache) replace(tokens domain.AccountTokens) {
	c.mu.Lock()
	c.tokens = tokens
	c.mu.Unlock()
}

// TokenManager hands out currently-valid access tokens for the bot and
// broadcaster accounts, refreshing on demand and persisting explicit token
// updates through the setup store.
type TokenManager struct {
	bot         accountCache
	broadcaster accountCache
	refresher   tokenRefresher
	store       domain.SetupStore
	clock       clockwork.Clock
	flight      singleflight.Group
}

// NewTokenManager creates a TokenManager backed by the given refresher and
// store. Call Initialize before first use.
func NewTokenManager(refresher tokenRefresher, store domain.SetupStore, clock clockwork.Clock) *TokenManager {
	return &TokenManager{
		refresher: refresher,
		store:     store,
		clock:     clock,
	}
}

func (tm *TokenManager) cache(account domain.Account) *accountCache {
	if account == domain.AccountBroadcaster {
		return &tm.broadcaster
	}
	return &tm.bot
}

// Initialize seeds both caches from the setup store. Seeded expiries are
// forced into the past so the first read always refreshes instead of
// trusting a stale on-disk expiry. A missing setup record is not an error.
func (tm *TokenManager) Initialize(ctx context.Context) error {
	record, err := tm.store.Get(ctx)
	if errors.Is(err, domain.ErrNoSetup) {
		slog.Info("No setup record found, token caches start empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load setup record: %w", err)
	}

	expired := tm.clock.Now().Add(-time.Minute)
	if record.BotTokens != nil {
		seeded := *record.BotTokens
		seeded.ExpiresAt = expired
		tm.bot.replace(seeded)
	}
	if record.BroadcasterTokens != nil {
		seeded := *record.BroadcasterTokens
		seeded.ExpiresAt = expired
		tm.broadcaster.replace(seeded)
	}

	return nil
}

// ValidToken returns a currently-valid access token for the account,
// refreshing when the cached token is within the refresh threshold of
// expiry. Concurrent callers share a single in-flight refresh per account.
func (tm *TokenManager) ValidToken(ctx context.Context, account domain.Account) (string, error) {
	cache := tm.cache(account)

	current := cache.snapshot()
	if current.AccessToken != "" && tm.clock.Now().Add(refreshThreshold).Before(current.ExpiresAt) {
		return current.AccessToken, nil
	}

	if !current.HasRefreshToken() {
		return "", &domain.NotAuthorizedError{Account: account}
	}

	token, err, _ := tm.flight.Do(string(account), func() (any, error) {
		return tm.refresh(ctx, account)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// refresh performs the network call outside the account lock and swaps the
// result back in under it.
func (tm *TokenManager) refresh(ctx context.Context, account domain.Account) (string, error) {
	cache := tm.cache(account)
	current := cache.snapshot()

	grant, err := tm.refresher.Refresh(ctx, current.RefreshToken)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(string(account), "error").Inc()
		return "", fmt.Errorf("failed to refresh %s token: %w", account, err)
	}

	now := tm.clock.Now()
	updated := current
	updated.AccessToken = grant.AccessToken
	updated.ExpiresAt = now.Add(time.Duration(grant.ExpiresIn) * time.Second)
	updated.LastRefreshedOn = now
	if grant.RefreshToken != "" {
		updated.RefreshToken = grant.RefreshToken
	}
	cache.replace(updated)

	metrics.TokenRefreshes.WithLabelValues(string(account), "success").Inc()
	slog.Info("Refreshed access token", "account", account, "expires_at", updated.ExpiresAt)

	return grant.AccessToken, nil
}

// SetTokens overwrites the account's in-memory credentials immediately,
// then persists them. A persistence failure is returned to the caller:
// the cache is now ahead of durable state and that must stay visible.
func (tm *TokenManager) SetTokens(ctx context.Context, account domain.Account, tokens domain.AccountTokens) error {
	tm.cache(account).replace(tokens)

	var err error
	if account == domain.AccountBroadcaster {
		_, err = tm.store.SaveBroadcasterTokens(ctx, tokens)
	} else {
		_, err = tm.store.SaveBotTokens(ctx, tokens)
	}
	if err != nil {
		return fmt.Errorf("failed to persist %s tokens: %w", account, err)
	}
	return nil
}

// CurrentAccessToken returns the cached access token without triggering any
// I/O. ok is false when nothing is cached.
func (tm *TokenManager) CurrentAccessToken(account domain.Account) (string, bool) {
	tokens := tm.cache(account).snapshot()
	return tokens.AccessToken, tokens.AccessToken != ""
}

// CanRefresh reports whether the account has a refresh token on hand.
func (tm *TokenManager) CanRefresh(account domain.Account) bool {
	return tm.cache(account).snapshot().HasRefreshToken()
}
