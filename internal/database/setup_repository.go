package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/streamward/streamward/internal/crypto"
	"github.com/streamward/streamward/internal/domain"
)

// SetupRepo implements domain.SetupStore backed by PostgreSQL.
type SetupRepo struct {
	pool   *pgxpool.Pool
	crypto crypto.Service
}

// NewSetupRepo creates a SetupRepo using the given crypto service for
// token encryption at rest.
func NewSetupRepo(pool *pgxpool.Pool, cryptoSvc crypto.Service) *SetupRepo {
	return &SetupRepo{pool: pool, crypto: cryptoSvc}
}

// Get loads the full setup record including both accounts' tokens.
func (r *SetupRepo) Get(ctx context.Context) (*domain.SetupRecord, error) {
	var record domain.SetupRecord
	err := r.pool.QueryRow(ctx,
		`select bot_user_id, bot_login, configured_on, updated_on from setup where id = 1`,
	).Scan(&record.BotUserID, &record.BotLogin, &record.ConfiguredOn, &record.UpdatedOn)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNoSetup
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load setup: %w", err)
	}

	rows, err := r.pool.Query(ctx, `select user_id, login from channels order by position`)
	if err != nil {
		return nil, fmt.Errorf("failed to load channels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ch domain.ChannelRef
		if err := rows.Scan(&ch.UserID, &ch.Login); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		record.Channels = append(record.Channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate channels: %w", err)
	}

	record.BotTokens, err = r.loadTokens(ctx, domain.AccountBot)
	if err != nil {
		return nil, err
	}
	record.BroadcasterTokens, err = r.loadTokens(ctx, domain.AccountBroadcaster)
	if err != nil {
		return nil, err
	}

	return &record, nil
}

func (r *SetupRepo) loadTokens(ctx context.Context, account domain.Account) (*domain.AccountTokens, error) {
	var tokens domain.AccountTokens
	err := r.pool.QueryRow(ctx,
		`select user_id, login, access_token, refresh_token, expires_at, last_refreshed_on
		 from account_tokens where account = $1`, string(account),
	).Scan(&tokens.UserID, &tokens.Login, &tokens.AccessToken, &tokens.RefreshToken, &tokens.ExpiresAt, &tokens.LastRefreshedOn)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s tokens: %w", account, err)
	}

	tokens.AccessToken, err = r.crypto.Decrypt(tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt %s access token: %w", account, err)
	}
	if tokens.RefreshToken != "" {
		tokens.RefreshToken, err = r.crypto.Decrypt(tokens.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt %s refresh token: %w", account, err)
		}
	}

	return &tokens, nil
}

// SaveBotTokens persists the bot credentials. The first save also creates
// the setup row so the OAuth flow works before the channel wizard runs.
func (r *SetupRepo) SaveBotTokens(ctx context.Context, tokens domain.AccountTokens) (*domain.SetupRecord, error) {
	if err := r.saveTokens(ctx, domain.AccountBot, tokens); err != nil {
		return nil, err
	}

	_, err := r.pool.Exec(ctx,
		`insert into setup (id, bot_user_id, bot_login)
		 values (1, $1, $2)
		 on conflict (id) do update set bot_user_id = $1, bot_login = $2, updated_on = now()`,
		tokens.UserID, tokens.Login)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert setup row: %w", err)
	}

	return r.Get(ctx)
}

// SaveBroadcasterTokens persists the broadcaster credentials.
func (r *SetupRepo) SaveBroadcasterTokens(ctx context.Context, tokens domain.AccountTokens) (*domain.SetupRecord, error) {
	if err := r.saveTokens(ctx, domain.AccountBroadcaster, tokens); err != nil {
		return nil, err
	}

	_, err := r.pool.Exec(ctx, `update setup set updated_on = now() where id = 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to touch setup row: %w", err)
	}

	return r.Get(ctx)
}

func (r *SetupRepo) saveTokens(ctx context.Context, account domain.Account, tokens domain.AccountTokens) error {
	accessToken, err := r.crypto.Encrypt(tokens.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	refreshToken := ""
	if tokens.RefreshToken != "" {
		refreshToken, err = r.crypto.Encrypt(tokens.RefreshToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
	}

	_, err = r.pool.Exec(ctx,
		`insert into account_tokens (account, user_id, login, access_token, refresh_token, expires_at, last_refreshed_on)
		 values ($1, $2, $3, $4, $5, $6, $7)
		 on conflict (account) do update set
		   user_id = $2, login = $3, access_token = $4, refresh_token = $5,
		   expires_at = $6, last_refreshed_on = $7`,
		string(account), tokens.UserID, tokens.Login, accessToken, refreshToken,
		tokens.ExpiresAt, tokens.LastRefreshedOn)
	if err != nil {
		return fmt.Errorf("failed to upsert %s tokens: %w", account, err)
	}

	return nil
}
