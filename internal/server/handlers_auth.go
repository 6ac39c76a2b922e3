package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/streamward/streamward/internal/domain"
)

const oauthTimeout = 10 * time.Second

// Scopes requested per account. The bot reads chat and whispers in the
// channels it joins; the broadcaster grants access to channel-owner data.
var (
	botScopes         = []string{"user:read:chat", "user:bot", "channel:bot", "user:read:whispers"}
	broadcasterScopes = []string{"channel:read:redemptions"}
)

func (s *Server) handleBotLogin(c echo.Context) error {
	return s.redirectToProvider(c, domain.AccountBot, botScopes)
}

func (s *Server) handleBroadcasterLogin(c echo.Context) error {
	return s.redirectToProvider(c, domain.AccountBroadcaster, broadcasterScopes)
}

func (s *Server) redirectToProvider(c echo.Context, account domain.Account, scopes []string) error {
	state, err := s.states.Generate(string(account))
	if err != nil {
		slog.Error("Failed to generate OAuth state", "account", account, "error", err)
		return c.String(http.StatusInternalServerError, "Internal error")
	}

	return c.Redirect(http.StatusFound, s.oauth.AuthorizeURL(scopes, state))
}

func (s *Server) handleOAuthCallback(c echo.Context) error {
	code := c.QueryParam("code")
	if code == "" {
		return c.String(http.StatusBadRequest, "Missing code parameter")
	}

	purpose, ok := s.states.Consume(c.QueryParam("state"))
	if !ok {
		return c.String(http.StatusBadRequest, "Invalid or expired OAuth state")
	}

	account := domain.Account(purpose)
	if account != domain.AccountBot && account != domain.AccountBroadcaster {
		return c.String(http.StatusBadRequest, "Unknown OAuth flow")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), oauthTimeout)
	defer cancel()

	grant, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		slog.Error("Failed to exchange authorization code", "account", account, "error", err)
		return c.String(http.StatusInternalServerError, "Failed to authenticate with Twitch")
	}

	user, err := s.oauth.FetchUser(ctx, grant.AccessToken)
	if err != nil {
		slog.Error("Failed to resolve token owner", "account", account, "error", err)
		return c.String(http.StatusInternalServerError, "Failed to resolve Twitch user")
	}

	now := time.Now()
	tokens := domain.AccountTokens{
		UserID:          user.UserID,
		Login:           user.Login,
		AccessToken:     grant.AccessToken,
		RefreshToken:    grant.RefreshToken,
		ExpiresAt:       now.Add(time.Duration(grant.ExpiresIn) * time.Second),
		LastRefreshedOn: now,
	}

	if err := s.tokens.SetTokens(ctx, account, tokens); err != nil {
		// Losing durability silently is worse than a failed callback.
		slog.Error("Failed to persist tokens", "account", account, "error", err)
		return c.String(http.StatusInternalServerError, "Failed to save tokens")
	}

	slog.Info("Account authorized", "account", account, "login", user.Login)
	return c.String(http.StatusOK, fmt.Sprintf("%s account %s authorized. You can close this window.", account, user.Login))
}
