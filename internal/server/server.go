package server

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/streamward/streamward/internal/config"
	"github.com/streamward/streamward/internal/domain"
	"github.com/streamward/streamward/internal/twitch"
)

// oauthExchanger is the subset of the OAuth client the handlers use.
type oauthExchanger interface {
	ExchangeCode(ctx context.Context, code string) (*twitch.TokenGrant, error)
	FetchUser(ctx context.Context, accessToken string) (*twitch.UserInfo, error)
	AuthorizeURL(scopes []string, state string) string
}

// stateIssuer issues and consumes one-time OAuth CSRF states.
type stateIssuer interface {
	Generate(purpose string) (string, error)
	Consume(token string) (string, bool)
}

// tokenWriter routes freshly exchanged tokens to the right account cache.
type tokenWriter interface {
	SetTokens(ctx context.Context, account domain.Account, tokens domain.AccountTokens) error
	CanRefresh(account domain.Account) bool
}

// sessionReporter exposes the current websocket session for health output.
type sessionReporter interface {
	SessionID() string
}

// postgresPinger is the minimal interface for PostgreSQL health checks.
type postgresPinger interface {
	Ping(ctx context.Context) error
}

// redisPinger is the minimal interface for Redis health checks.
type redisPinger interface {
	Ping(ctx context.Context) *goredis.StatusCmd
}

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	oauth     oauthExchanger
	states    stateIssuer
	tokens    tokenWriter
	transport sessionReporter
	postgres  postgresPinger
	redis     redisPinger
	startTime time.Time
}

func NewServer(
	cfg *config.Config,
	oauth oauthExchanger,
	states stateIssuer,
	tokens tokenWriter,
	transport sessionReporter,
	postgres postgresPinger,
	redis redisPinger,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())

	srv := &Server{
		echo:      e,
		config:    cfg,
		oauth:     oauth,
		states:    states,
		tokens:    tokens,
		transport: transport,
		postgres:  postgres,
		redis:     redis,
		startTime: time.Now(),
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) registerRoutes() {
	s.echo.GET("/auth/bot/login", s.handleBotLogin)
	s.echo.GET("/auth/broadcaster/login", s.handleBroadcasterLogin)
	s.echo.GET("/auth/callback", s.handleOAuthCallback)

	s.echo.GET("/healthz", s.handleLiveness)
	s.echo.GET("/readyz", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	return s.echo.Start(":" + s.config.Port)
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
