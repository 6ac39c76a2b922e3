package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultAuthBaseURL  = "https://id.twitch.tv/oauth2"
	defaultHelixBaseURL = "https://api.twitch.tv/helix"
	httpCallTimeout     = 10 * time.Second
)

// TokenRefreshError wraps a failed token refresh. Revoked means the
// provider rejected the refresh token outright and a new OAuth flow is
// needed.
type TokenRefreshError struct {
	Revoked bool
	Err     error
}

func (e *TokenRefreshError) Error() string {
	if e.Revoked {
		return fmt.Sprintf("token revoked: %v", e.Err)
	}
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

func (e *TokenRefreshError) Unwrap() error { return e.Err }

// TokenGrant is the result of a token endpoint call. RefreshToken may be
// empty: providers do not rotate the refresh token on every grant.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// UserInfo identifies the account an access token belongs to.
type UserInfo struct {
	UserID string
	Login  string
}

// OAuthClient performs token exchanges and refreshes against the provider's
// OAuth endpoints and resolves token owners via the users endpoint.
type OAuthClient struct {
	clientID     string
	clientSecret string
	redirectURI  string
	authBaseURL  string // configurable for testing
	helixBaseURL string
	httpClient   *http.Client
}

// NewOAuthClient creates an OAuthClient against the public Twitch endpoints.
func NewOAuthClient(clientID, clientSecret, redirectURI string) *OAuthClient {
	return &OAuthClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		authBaseURL:  defaultAuthBaseURL,
		helixBaseURL: defaultHelixBaseURL,
		httpClient:   &http.Client{Timeout: httpCallTimeout},
	}
}

// Refresh exchanges a refresh token for a fresh access token.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	data := url.Values{}
	data.Set("client_id", c.clientID)
	data.Set("client_secret", c.clientSecret)
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	grant, err := c.postToken(ctx, data)
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// ExchangeCode exchanges an authorization code from the OAuth callback.
func (c *OAuthClient) ExchangeCode(ctx context.Context, code string) (*TokenGrant, error) {
	data := url.Values{}
	data.Set("client_id", c.clientID)
	data.Set("client_secret", c.clientSecret)
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", c.redirectURI)

	grant, err := c.postToken(ctx, data)
	if err != nil {
		return nil, err
	}
	return grant, nil
}

func (c *OAuthClient) postToken(ctx context.Context, data url.Values) (*TokenGrant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authBaseURL+"/token", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, &TokenRefreshError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TokenRefreshError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TokenRefreshError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		// 400/401 means the grant itself was rejected, not a transient fault
		revoked := resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized
		return nil, &TokenRefreshError{
			Revoked: revoked,
			Err:     fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &TokenRefreshError{Err: err}
	}

	return &TokenGrant{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    result.ExpiresIn,
	}, nil
}

// FetchUser resolves the user id and login behind an access token.
func (c *OAuthClient) FetchUser(ctx context.Context, accessToken string) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.helixBaseURL+"/users", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Client-Id", c.clientID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute user request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user endpoint returned status %d", resp.StatusCode)
	}

	var userResp struct {
		Data []struct {
			ID    string `json:"id"`
			Login string `json:"login"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&userResp); err != nil {
		return nil, fmt.Errorf("failed to decode user response: %w", err)
	}
	if len(userResp.Data) == 0 {
		return nil, fmt.Errorf("no user data returned")
	}

	return &UserInfo{UserID: userResp.Data[0].ID, Login: userResp.Data[0].Login}, nil
}

// AuthorizeURL builds the provider's authorization redirect for the given
// scopes and CSRF state.
func (c *OAuthClient) AuthorizeURL(scopes []string, state string) string {
	return fmt.Sprintf(
		"%s/authorize?client_id=%s&redirect_uri=%s&response_type=code&scope=%s&state=%s",
		c.authBaseURL,
		url.QueryEscape(c.clientID),
		url.QueryEscape(c.redirectURI),
		url.QueryEscape(strings.Join(scopes, " ")),
		url.QueryEscape(state),
	)
}
