package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamward/streamward/internal/domain"
	"github.com/streamward/streamward/internal/eventsub"
	"github.com/streamward/streamward/internal/twitch"
)

type connectResult struct {
	ok      bool
	resumed bool
	// dropBeforeReturn fires the disconnected handler right after the
	// connected one, before the attempt returns. The real transport's read
	// loop starts before Connect returns, so this ordering is legal.
	dropBeforeReturn bool
}

// fakeTransport pops one scripted result per connection attempt and fires
// the connected handler synchronously on success, like the real transport
// does from within its dial.
type fakeTransport struct {
	mu         sync.Mutex
	script     []connectResult
	connects   int
	reconnects int
	session    string

	connectedWired int

	onConnected    func(domain.ConnectedEvent)
	onDisconnected func()
	onChatMessage  func(domain.ChatMessage)
	onWhisper      func(domain.Whisper)
	onRedemption   func(domain.Redemption)
}

func (f *fakeTransport) SessionID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

func (f *fakeTransport) Connect(ctx context.Context) bool   { return f.dial(true) }
func (f *fakeTransport) Reconnect(ctx context.Context) bool { return f.dial(false) }

func (f *fakeTransport) dial(fresh bool) bool {
	f.mu.Lock()
	if fresh {
		f.connects++
	} else {
		f.reconnects++
	}

	var result connectResult
	if len(f.script) > 0 {
		result = f.script[0]
		f.script = f.script[1:]
	}

	if result.ok {
		f.session = fmt.Sprintf("sess-%d", f.connects+f.reconnects)
	}
	session := f.session
	handler := f.onConnected
	f.mu.Unlock()

	if result.ok && handler != nil {
		handler(domain.ConnectedEvent{SessionID: session, Resumed: result.resumed})
	}
	if result.ok && result.dropBeforeReturn {
		f.fireDisconnect()
	}
	return result.ok
}

func (f *fakeTransport) fireDisconnect() {
	f.mu.Lock()
	handler := f.onDisconnected
	f.mu.Unlock()
	if handler != nil {
		handler()
	}
}

func (f *fakeTransport) counts() (connects, reconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.reconnects
}

func (f *fakeTransport) OnConnected(fn func(domain.ConnectedEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectedWired++
	f.onConnected = fn
}

func (f *fakeTransport) OnDisconnected(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDisconnected = fn
}

func (f *fakeTransport) OnChatMessage(fn func(domain.ChatMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChatMessage = fn
}

func (f *fakeTransport) OnWhisper(fn func(domain.Whisper)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onWhisper = fn
}

func (f *fakeTransport) OnRedemption(fn func(domain.Redemption)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onRedemption = fn
}

func (f *fakeTransport) fireChat(msg domain.ChatMessage) {
	f.mu.Lock()
	handler := f.onChatMessage
	f.mu.Unlock()
	handler(msg)
}

func (f *fakeTransport) fireWhisper(whisper domain.Whisper) {
	f.mu.Lock()
	handler := f.onWhisper
	f.mu.Unlock()
	handler(whisper)
}

type fakeTokens struct {
	mu      sync.Mutex
	initErr error
	tokens  map[domain.Account]string
	errs    map[domain.Account]error
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{
		tokens: map[domain.Account]string{},
		errs:   map[domain.Account]error{},
	}
}

func (f *fakeTokens) Initialize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initErr
}

func (f *fakeTokens) setInitErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initErr = err
}

func (f *fakeTokens) ValidToken(ctx context.Context, account domain.Account) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[account]; err != nil {
		return "", err
	}
	token, ok := f.tokens[account]
	if !ok {
		return "", &domain.NotAuthorizedError{Account: account}
	}
	return token, nil
}

func (f *fakeTokens) authorize(account domain.Account, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.errs, account)
	f.tokens[account] = token
}

type fakeSetupStore struct {
	mu     sync.Mutex
	record *domain.SetupRecord
	err    error
	gets   int
}

func (f *fakeSetupStore) Get(ctx context.Context) (*domain.SetupRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.err != nil {
		return nil, f.err
	}
	return f.record, nil
}

type recordingCreator struct {
	mu    sync.Mutex
	calls []struct {
		token string
		sub   twitch.SubscriptionRequest
	}
}

func (r *recordingCreator) CreateSubscription(ctx context.Context, accessToken string, sub twitch.SubscriptionRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, struct {
		token string
		sub   twitch.SubscriptionRequest
	}{accessToken, sub})
	return nil
}

func (r *recordingCreator) snapshot() []struct {
	token string
	sub   twitch.SubscriptionRequest
} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append(r.calls[:0:0], r.calls...)
}

type recordingSink struct {
	mu       sync.Mutex
	chats    []domain.ChatMessage
	whispers []domain.Whisper
}

func (r *recordingSink) ChatMessageReceived(ctx context.Context, msg domain.ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats = append(r.chats, msg)
}

func (r *recordingSink) WhisperReceived(ctx context.Context, whisper domain.Whisper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.whispers = append(r.whispers, whisper)
}

func (r *recordingSink) RedemptionReceived(ctx context.Context, redemption domain.Redemption) {}

func testSetupRecord(withBroadcaster bool) *domain.SetupRecord {
	record := &domain.SetupRecord{
		BotUserID: "bot-1",
		BotLogin:  "wardbot",
		Channels: []domain.ChannelRef{
			{UserID: "chan-a", Login: "alpha"},
			{UserID: "chan-b", Login: "beta"},
		},
	}
	if withBroadcaster {
		record.BroadcasterTokens = &domain.AccountTokens{UserID: "caster-1", Login: "caster"}
	}
	return record
}

type fixture struct {
	coordinator *Coordinator
	transport   *fakeTransport
	tokens      *fakeTokens
	setup       *fakeSetupStore
	creator     *recordingCreator
	sink        *recordingSink
	clock       *clockwork.FakeClock
}

func newFixture(script ...connectResult) *fixture {
	transport := &fakeTransport{script: script}
	tokens := newFakeTokens()
	tokens.authorize(domain.AccountBot, "bot-tok")
	setup := &fakeSetupStore{record: testSetupRecord(false)}
	creator := &recordingCreator{}
	sink := &recordingSink{}
	clock := clockwork.NewFakeClock()

	return &fixture{
		coordinator: NewCoordinator(tokens, setup, transport, eventsub.DefaultRegistrars(), creator, sink, clock),
		transport:   transport,
		tokens:      tokens,
		setup:       setup,
		creator:     creator,
		sink:        sink,
		clock:       clock,
	}
}

// run starts the lifecycle loop and returns a done channel plus the cancel.
func (f *fixture) run(t *testing.T) (<-chan error, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.coordinator.Run(ctx) }()
	t.Cleanup(cancel)
	return done, cancel
}

func waitForExit(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle loop did not exit")
		return nil
	}
}

func (f *fixture) waitForArmedSignal(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		f.coordinator.signalMu.Lock()
		defer f.coordinator.signalMu.Unlock()
		return f.coordinator.disconnected != nil && !f.coordinator.signalFired
	}, 5*time.Second, time.Millisecond)
}

func TestRun_RetriesConnectUntilItSucceeds(t *testing.T) {
	f := newFixture(connectResult{}, connectResult{}, connectResult{ok: true})
	done, cancel := f.run(t)

	// Two failed attempts, each followed by a retry sleep.
	for range 2 {
		f.clock.BlockUntil(1)
		f.clock.Advance(waitingRetryDelay)
	}

	require.Eventually(t, func() bool {
		connects, _ := f.transport.counts()
		return connects == 3
	}, 5*time.Second, time.Millisecond)

	_, reconnects := f.transport.counts()
	assert.Zero(t, reconnects, "Reconnect is never used before the first successful session")

	cancel()
	assert.NoError(t, waitForExit(t, done))
}

func TestRun_ReconnectsAfterDisconnect(t *testing.T) {
	f := newFixture(connectResult{ok: true}, connectResult{ok: true})
	done, cancel := f.run(t)

	f.waitForArmedSignal(t)
	f.transport.fireDisconnect()

	require.Eventually(t, func() bool {
		_, reconnects := f.transport.counts()
		return reconnects == 1
	}, 5*time.Second, time.Millisecond)

	connects, _ := f.transport.counts()
	assert.Equal(t, 1, connects, "an established session is resumed, not redialed")

	cancel()
	assert.NoError(t, waitForExit(t, done))
}

func TestRun_HandlersWiredExactlyOnce(t *testing.T) {
	f := newFixture(connectResult{ok: true}, connectResult{ok: true}, connectResult{ok: true})
	done, cancel := f.run(t)

	for range 2 {
		f.waitForArmedSignal(t)
		f.transport.fireDisconnect()

		require.Eventually(t, func() bool {
			f.coordinator.signalMu.Lock()
			defer f.coordinator.signalMu.Unlock()
			return f.coordinator.disconnected != nil && !f.coordinator.signalFired
		}, 5*time.Second, time.Millisecond)
	}

	f.transport.mu.Lock()
	wired := f.transport.connectedWired
	f.transport.mu.Unlock()
	assert.Equal(t, 1, wired, "handlers must not stack across reconnect cycles")

	cancel()
	assert.NoError(t, waitForExit(t, done))
}

func TestRun_WaitsForBotAuthorization(t *testing.T) {
	f := newFixture(connectResult{ok: true})
	f.tokens.mu.Lock()
	delete(f.tokens.tokens, domain.AccountBot)
	f.tokens.mu.Unlock()

	done, cancel := f.run(t)

	// Unauthorized bot parks the loop in the waiting sleep.
	f.clock.BlockUntil(1)
	connects, _ := f.transport.counts()
	assert.Zero(t, connects)

	f.tokens.authorize(domain.AccountBot, "bot-tok")
	f.clock.Advance(waitingRetryDelay)

	require.Eventually(t, func() bool {
		connects, _ := f.transport.counts()
		return connects == 1
	}, 5*time.Second, time.Millisecond)

	cancel()
	assert.NoError(t, waitForExit(t, done))
}

func TestRun_WaitsForSetup(t *testing.T) {
	f := newFixture(connectResult{ok: true})
	f.setup.mu.Lock()
	f.setup.err = domain.ErrNoSetup
	f.setup.mu.Unlock()

	done, cancel := f.run(t)

	f.clock.BlockUntil(1)
	connects, _ := f.transport.counts()
	assert.Zero(t, connects)

	f.setup.mu.Lock()
	f.setup.err = nil
	f.setup.mu.Unlock()
	f.clock.Advance(waitingRetryDelay)

	require.Eventually(t, func() bool {
		connects, _ := f.transport.counts()
		return connects == 1
	}, 5*time.Second, time.Millisecond)

	// Setup is cached once loaded; later cycles must not refetch it.
	f.setup.mu.Lock()
	gets := f.setup.gets
	f.setup.mu.Unlock()
	assert.NotZero(t, gets)
	assert.NotNil(t, f.coordinator.setup.Load())

	cancel()
	assert.NoError(t, waitForExit(t, done))
}

func TestRun_RetriesInitializeUntilStoreRecovers(t *testing.T) {
	f := newFixture(connectResult{ok: true})
	f.tokens.setInitErr(fmt.Errorf("pool closed"))

	done, cancel := f.run(t)

	// The loop parks in the retry sleep instead of giving up.
	f.clock.BlockUntil(1)
	connects, _ := f.transport.counts()
	assert.Zero(t, connects)

	f.tokens.setInitErr(nil)
	f.clock.Advance(waitingRetryDelay)

	require.Eventually(t, func() bool {
		connects, _ := f.transport.counts()
		return connects == 1
	}, 5*time.Second, time.Millisecond)

	cancel()
	assert.NoError(t, waitForExit(t, done))
}

func TestRun_CancelDuringInitializeRetryExits(t *testing.T) {
	f := newFixture()
	f.tokens.setInitErr(fmt.Errorf("pool closed"))

	done, cancel := f.run(t)
	f.clock.BlockUntil(1)
	cancel()

	assert.NoError(t, waitForExit(t, done))
}

func TestRun_CancelDuringRetrySleepExitsPromptly(t *testing.T) {
	f := newFixture(connectResult{})
	done, cancel := f.run(t)

	f.clock.BlockUntil(1)
	cancel()

	assert.NoError(t, waitForExit(t, done))
}

func TestHandleConnected_RegistersAllSubscriptions(t *testing.T) {
	f := newFixture(connectResult{ok: true})
	f.setup.record = testSetupRecord(true)
	f.tokens.authorize(domain.AccountBroadcaster, "caster-tok")

	done, cancel := f.run(t)
	f.waitForArmedSignal(t)

	calls := f.creator.snapshot()
	require.Len(t, calls, 4) // two chat channels, one whisper, one redemption

	byType := map[string][]string{}
	for _, call := range calls {
		byType[call.sub.Type] = append(byType[call.sub.Type], call.token)
	}
	assert.Equal(t, []string{"bot-tok", "bot-tok"}, byType[eventsub.TypeChatMessage])
	assert.Equal(t, []string{"bot-tok"}, byType[eventsub.TypeWhisper])
	assert.Equal(t, []string{"caster-tok"}, byType[eventsub.TypeRedemption])

	for _, call := range calls {
		assert.Equal(t, "sess-1", call.sub.Transport.SessionID)
	}

	cancel()
	assert.NoError(t, waitForExit(t, done))
}

func TestHandleConnected_SkipsRedemptionWithoutBroadcaster(t *testing.T) {
	f := newFixture(connectResult{ok: true})

	done, cancel := f.run(t)
	f.waitForArmedSignal(t)

	calls := f.creator.snapshot()
	require.Len(t, calls, 3)
	for _, call := range calls {
		assert.Equal(t, "bot-tok", call.token)
		assert.NotEqual(t, eventsub.TypeRedemption, call.sub.Type)
	}

	cancel()
	assert.NoError(t, waitForExit(t, done))
}

func TestHandleConnected_ResumedSessionSkipsRegistration(t *testing.T) {
	f := newFixture(connectResult{ok: true}, connectResult{ok: true, resumed: true})

	done, cancel := f.run(t)
	f.waitForArmedSignal(t)
	first := len(f.creator.snapshot())

	f.transport.fireDisconnect()
	require.Eventually(t, func() bool {
		_, reconnects := f.transport.counts()
		return reconnects == 1
	}, 5*time.Second, time.Millisecond)

	assert.Equal(t, first, len(f.creator.snapshot()), "a resumed session keeps its subscriptions")

	cancel()
	assert.NoError(t, waitForExit(t, done))
}

func TestRun_DisconnectBeforeArmingStillReconnects(t *testing.T) {
	// The transport confirms the connection and loses it again before the
	// loop arms the disconnect signal. The drop must not strand the loop.
	f := newFixture(connectResult{ok: true, dropBeforeReturn: true}, connectResult{ok: true})
	done, cancel := f.run(t)

	require.Eventually(t, func() bool {
		_, reconnects := f.transport.counts()
		return reconnects == 1
	}, 5*time.Second, time.Millisecond)

	connects, _ := f.transport.counts()
	assert.Equal(t, 1, connects)

	cancel()
	assert.NoError(t, waitForExit(t, done))
}

func TestHandleDisconnected_StaleSignalIsDropped(t *testing.T) {
	f := newFixture()

	// A disconnect from an earlier connection is voided once a new
	// connection is confirmed.
	f.coordinator.handleDisconnected()
	f.coordinator.handleConnected(domain.ConnectedEvent{SessionID: "sess-x", Resumed: true})

	signal := f.coordinator.armDisconnectSignal()
	select {
	case <-signal:
		t.Fatal("stale disconnect completed a fresh signal")
	default:
	}

	// The armed signal fires exactly once.
	f.coordinator.handleDisconnected()
	f.coordinator.handleDisconnected()
	select {
	case <-signal:
	default:
		t.Fatal("disconnect did not fire the armed signal")
	}
}

func TestHandleDisconnected_PendingBeforeArmingFiresImmediately(t *testing.T) {
	f := newFixture()

	f.coordinator.handleConnected(domain.ConnectedEvent{SessionID: "sess-y", Resumed: true})
	f.coordinator.handleDisconnected()

	signal := f.coordinator.armDisconnectSignal()
	select {
	case <-signal:
	default:
		t.Fatal("pre-arming disconnect was dropped")
	}

	// The pending flag is consumed; the next signal starts clean.
	fresh := f.coordinator.armDisconnectSignal()
	select {
	case <-fresh:
		t.Fatal("consumed disconnect fired a second signal")
	default:
	}
}

func TestNotifications_ForwardedToSink(t *testing.T) {
	f := newFixture(connectResult{ok: true})
	done, cancel := f.run(t)
	f.waitForArmedSignal(t)

	f.transport.fireChat(domain.ChatMessage{MessageID: "m-1", Text: "hi"})
	f.transport.fireWhisper(domain.Whisper{WhisperID: "w-1", Text: "psst"})

	require.Eventually(t, func() bool {
		f.sink.mu.Lock()
		defer f.sink.mu.Unlock()
		return len(f.sink.chats) == 1 && len(f.sink.whispers) == 1
	}, 5*time.Second, time.Millisecond)

	f.sink.mu.Lock()
	assert.Equal(t, "m-1", f.sink.chats[0].MessageID)
	assert.Equal(t, "psst", f.sink.whispers[0].Text)
	f.sink.mu.Unlock()

	cancel()
	assert.NoError(t, waitForExit(t, done))
}
