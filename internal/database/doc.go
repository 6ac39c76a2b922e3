// Package database provides the PostgreSQL-backed setup store.
// Uses pgx for connection pooling and tern for migrations. OAuth tokens
// are encrypted at rest via the crypto service.
package database
