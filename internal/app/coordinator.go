package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/streamward/streamward/internal/domain"
	"github.com/streamward/streamward/internal/eventsub"
	"github.com/streamward/streamward/internal/platform/correlation"
)

const (
	waitingRetryDelay    = 5 * time.Second
	unexpectedRetryDelay = 10 * time.Second
)

// tokenSource is the subset of the token manager the coordinator needs.
type tokenSource interface {
	Initialize(ctx context.Context) error
	ValidToken(ctx context.Context, account domain.Account) (string, error)
}

// setupFetcher loads the operator's setup record; polled until it succeeds.
type setupFetcher interface {
	Get(ctx context.Context) (*domain.SetupRecord, error)
}

// Coordinator owns the connection lifecycle: token wait, setup wait,
// connect/reconnect, subscription registration, and disconnect handling.
// One Coordinator runs one background loop for the life of the process.
type Coordinator struct {
	tokens     tokenSource
	setupStore setupFetcher
	transport  domain.Transport
	registrars []eventsub.Registrar
	client     eventsub.SubscriptionCreator
	sink       domain.Sink
	clock      clockwork.Clock

	// runCtx is the loop's context, forwarded into registrations so a
	// shutdown mid-registration unblocks promptly.
	runCtx context.Context

	wired         bool
	everConnected bool
	setup         atomic.Pointer[domain.SetupRecord]

	signalMu     sync.Mutex
	disconnected chan struct{}
	signalFired  bool
	// pendingDisconnect records a disconnect that arrived between the
	// transport confirming a connection and Run arming the fresh signal.
	pendingDisconnect bool
}

// NewCoordinator wires a Coordinator. Registrars run in the order given.
func NewCoordinator(
	tokens tokenSource,
	setupStore setupFetcher,
	transport domain.Transport,
	registrars []eventsub.Registrar,
	client eventsub.SubscriptionCreator,
	sink domain.Sink,
	clock clockwork.Clock,
) *Coordinator {
	return &Coordinator{
		tokens:     tokens,
		setupStore: setupStore,
		transport:  transport,
		registrars: registrars,
		client:     client,
		sink:       sink,
		clock:      clock,
	}
}

// Run executes the lifecycle loop until ctx is cancelled. Recoverable and
// transient conditions are logged and retried; only cancellation ends the
// loop.
func (c *Coordinator) Run(ctx context.Context) error {
	c.runCtx = ctx
	c.wireHandlers()

	// A store hiccup at startup must not leave the process without its
	// lifecycle loop; keep trying until the caches seed or we shut down.
	for {
		err := c.tokens.Initialize(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil
		}
		slog.Error("Failed to initialize token caches, retrying", "error", err)
		if !c.sleep(ctx, waitingRetryDelay) {
			return nil
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		attemptCtx := correlation.WithID(ctx, correlation.NewID())

		delay, connected := c.attempt(attemptCtx)
		if !connected {
			if !c.sleep(ctx, delay) {
				return nil
			}
			continue
		}

		// The signal is created only after a confirmed connection, so a
		// stale disconnect from an earlier attempt cannot complete it.
		signal := c.armDisconnectSignal()

		select {
		case <-signal:
			slog.InfoContext(attemptCtx, "Connection lost, re-entering lifecycle loop")
		case <-ctx.Done():
			return nil
		}
	}
}

// attempt runs one pass of the pre-connection steps. It returns the retry
// delay to apply when connected is false.
func (c *Coordinator) attempt(ctx context.Context) (time.Duration, bool) {
	// Step 1: a valid bot token is mandatory. Waiting for the operator to
	// finish the OAuth flow is a normal condition, not an error.
	if _, err := c.tokens.ValidToken(ctx, domain.AccountBot); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, false
		}
		if domain.IsNotAuthorized(err) {
			slog.InfoContext(ctx, "Waiting for bot account authorization", "reason", err)
			return waitingRetryDelay, false
		}
		slog.ErrorContext(ctx, "Failed to acquire bot token", "error", err)
		return unexpectedRetryDelay, false
	}

	// Step 2: poll for setup until it loads, then cache it.
	if c.setup.Load() == nil {
		record, err := c.setupStore.Get(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return 0, false
			}
			if errors.Is(err, domain.ErrNoSetup) {
				slog.InfoContext(ctx, "Waiting for setup to be configured")
			} else {
				slog.WarnContext(ctx, "Failed to load setup", "error", err)
			}
			return waitingRetryDelay, false
		}
		c.setup.Store(record)
		slog.InfoContext(ctx, "Setup loaded", "bot_login", record.BotLogin, "channels", len(record.Channels))
	}

	// Step 3: Connect for a fresh session; Reconnect only once a session
	// has ever existed, since resumption is meaningless before that.
	var ok bool
	if c.everConnected {
		ok = c.transport.Reconnect(ctx)
	} else {
		ok = c.transport.Connect(ctx)
	}
	if !ok {
		slog.WarnContext(ctx, "Connection attempt failed", "ever_connected", c.everConnected)
		return waitingRetryDelay, false
	}

	c.everConnected = true
	return 0, true
}

// sleep waits for the delay or cancellation; false means cancelled.
func (c *Coordinator) sleep(ctx context.Context, delay time.Duration) bool {
	select {
	case <-c.clock.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

// wireHandlers subscribes the transport events exactly once. The transport
// instance is reused across reconnects; re-entering the loop must never
// stack a second set of handlers.
func (c *Coordinator) wireHandlers() {
	if c.wired {
		return
	}
	c.wired = true

	c.transport.OnConnected(c.handleConnected)
	c.transport.OnDisconnected(c.handleDisconnected)
	c.transport.OnChatMessage(func(msg domain.ChatMessage) {
		c.sink.ChatMessageReceived(c.runCtx, msg)
	})
	c.transport.OnWhisper(func(whisper domain.Whisper) {
		c.sink.WhisperReceived(c.runCtx, whisper)
	})
	c.transport.OnRedemption(func(redemption domain.Redemption) {
		c.sink.RedemptionReceived(c.runCtx, redemption)
	})
}

// armDisconnectSignal installs a fresh one-shot signal for the connection
// that was just confirmed. A disconnect that raced ahead of the arming is
// honored by handing back an already-fired signal, so the loop re-enters
// immediately instead of blocking on a channel nothing will close.
func (c *Coordinator) armDisconnectSignal() <-chan struct{} {
	c.signalMu.Lock()
	defer c.signalMu.Unlock()

	c.disconnected = make(chan struct{})
	c.signalFired = false
	if c.pendingDisconnect {
		c.pendingDisconnect = false
		close(c.disconnected)
		c.signalFired = true
	}
	return c.disconnected
}

// handleConnected registers subscriptions for a new session. Resumed
// sessions keep their subscriptions, so registration is skipped.
func (c *Coordinator) handleConnected(ev domain.ConnectedEvent) {
	// A new connection voids any disconnect recorded for an earlier one.
	c.signalMu.Lock()
	c.pendingDisconnect = false
	c.signalMu.Unlock()

	if ev.Resumed {
		slog.Info("Session resumed, subscriptions preserved", "session_id", ev.SessionID)
		return
	}

	setup := c.setup.Load()
	if setup == nil {
		slog.Warn("Connected before setup loaded, nothing to register")
		return
	}

	ctx := c.runCtx

	botToken, err := c.tokens.ValidToken(ctx, domain.AccountBot)
	if err != nil {
		slog.Error("Failed to acquire bot token for registration", "error", err)
		return
	}

	// Broadcaster authorization is optional; its absence is expected.
	var broadcasterToken, broadcasterUserID string
	if setup.BroadcasterTokens != nil {
		broadcasterUserID = setup.BroadcasterTokens.UserID
	}
	broadcasterToken, err = c.tokens.ValidToken(ctx, domain.AccountBroadcaster)
	if err != nil {
		broadcasterToken = ""
		if domain.IsNotAuthorized(err) {
			slog.Info("Broadcaster not authorized, owner-scoped subscriptions will be skipped")
		} else {
			slog.Warn("Failed to acquire broadcaster token", "error", err)
		}
	}

	channelIDs := make([]string, len(setup.Channels))
	for i, ch := range setup.Channels {
		channelIDs[i] = ch.UserID
	}

	rc := &eventsub.RegistrationContext{
		SessionID:              ev.SessionID,
		BotUserID:              setup.BotUserID,
		BroadcasterUserID:      broadcasterUserID,
		ChannelUserIDs:         channelIDs,
		BotAccessToken:         botToken,
		BroadcasterAccessToken: broadcasterToken,
		Client:                 c.client,
	}

	for _, registrar := range c.registrars {
		if err := registrar.Register(ctx, rc); err != nil {
			slog.Warn("Registration pass interrupted", "type", registrar.Type(), "error", err)
			return
		}
	}
}

// handleDisconnected fires the current connection's signal. Idempotent: a
// second disconnect for the same connection is a no-op. A disconnect that
// lands before the signal is armed is kept as pending for the next arming
// rather than dropped, since the connection it belongs to is already dead.
func (c *Coordinator) handleDisconnected() {
	c.signalMu.Lock()
	defer c.signalMu.Unlock()

	if c.disconnected == nil || c.signalFired {
		c.pendingDisconnect = true
		return
	}
	close(c.disconnected)
	c.signalFired = true
}
