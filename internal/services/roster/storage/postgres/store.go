// Package postgres provides the pgx-backed roster registry store.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/piyoraik/ffxiv-diecord-notify/internal/services/roster"
)

// Store provides Postgres-backed persistence for roster members.
type Store struct {
	pool *pgxpool.Pool
}

var _ roster.Registry = (*Store)(nil)

// Open creates a connection pool against the given database URL and verifies
// connectivity.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping roster database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the roster table when absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("storage is not configured")
	}
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS roster (
    guild_id TEXT NOT NULL,
    name TEXT NOT NULL,
    job_code TEXT NOT NULL DEFAULT '',
    emoji TEXT NOT NULL DEFAULT '',
    discord_user_id TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (guild_id, name)
)
`)
	if err != nil {
		return fmt.Errorf("ensure roster schema: %w", err)
	}
	return nil
}

// Upsert inserts or updates one roster member.
func (s *Store) Upsert(ctx context.Context, member roster.Member) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("storage is not configured")
	}
	member.GuildID = strings.TrimSpace(member.GuildID)
	member.Name = strings.TrimSpace(member.Name)
	if member.GuildID == "" {
		return fmt.Errorf("guild id is required")
	}
	if member.Name == "" {
		return fmt.Errorf("member name is required")
	}

	_, err := s.pool.Exec(ctx, `
INSERT INTO roster (guild_id, name, job_code, emoji, discord_user_id)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (guild_id, name)
DO UPDATE SET job_code = EXCLUDED.job_code, emoji = EXCLUDED.emoji, discord_user_id = EXCLUDED.discord_user_id
`, member.GuildID, member.Name, member.JobCode, member.Emoji, member.OwnerID)
	if err != nil {
		return fmt.Errorf("upsert roster member: %w", err)
	}
	return nil
}

// Delete removes one roster member.
func (s *Store) Delete(ctx context.Context, guildID, name string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("storage is not configured")
	}
	guildID = strings.TrimSpace(guildID)
	name = strings.TrimSpace(name)
	if guildID == "" || name == "" {
		return fmt.Errorf("guild id and member name are required")
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM roster WHERE guild_id = $1 AND name = $2`, guildID, name); err != nil {
		return fmt.Errorf("delete roster member: %w", err)
	}
	return nil
}

// List loads roster members, optionally filtered to the given guilds,
// ordered by guild then name.
func (s *Store) List(ctx context.Context, guildIDs ...string) ([]roster.Member, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	query := `SELECT guild_id, name, job_code, emoji, discord_user_id FROM roster`
	args := []any{}
	filtered := make([]string, 0, len(guildIDs))
	for _, guildID := range guildIDs {
		if trimmed := strings.TrimSpace(guildID); trimmed != "" {
			filtered = append(filtered, trimmed)
		}
	}
	if len(filtered) > 0 {
		query += ` WHERE guild_id = ANY($1)`
		args = append(args, filtered)
	}
	query += ` ORDER BY guild_id ASC, name ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list roster members: %w", err)
	}
	defer rows.Close()

	var members []roster.Member
	for rows.Next() {
		var member roster.Member
		if err := rows.Scan(&member.GuildID, &member.Name, &member.JobCode, &member.Emoji, &member.OwnerID); err != nil {
			return nil, fmt.Errorf("scan roster member: %w", err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roster members: %w", err)
	}
	return members, nil
}
