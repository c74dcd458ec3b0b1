package transcript

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/numera-ai/voicecore/pkg/core/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects a pool and verifies connectivity.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate applies the embedded goose migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) CreateConversation(ctx context.Context, summary types.ConversationSummary) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (session_id, user_ref, room_id, started_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO NOTHING`,
		summary.SessionID, summary.UserRef, summary.RoomID, summary.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conversation %s: %w", summary.SessionID, err)
	}
	return nil
}

func (s *PostgresStore) CompleteConversation(ctx context.Context, sessionID string, endedAt time.Time, durationSeconds int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET ended_at = $2, duration_seconds = $3, updated_at = now()
		WHERE session_id = $1`,
		sessionID, endedAt, durationSeconds,
	)
	if err != nil {
		return fmt.Errorf("complete conversation %s: %w", sessionID, err)
	}
	return nil
}

// RecentConversations returns the user's most recent completed
// conversations, newest first, each with its opening user utterance. Feeds
// the prior-conversation block of the system instructions.
func (s *PostgresStore) RecentConversations(ctx context.Context, userRef string, limit int) ([]RecalledConversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.started_at,
		       coalesce((
		           SELECT e.content FROM transcript_events e
		           WHERE e.session_id = c.session_id AND e.role = 'user'
		           ORDER BY e.sequence
		           LIMIT 1), '')
		FROM conversations c
		WHERE c.user_ref = $1 AND c.ended_at IS NOT NULL
		ORDER BY c.started_at DESC
		LIMIT $2`,
		userRef, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent conversations for %s: %w", userRef, err)
	}
	defer rows.Close()

	var out []RecalledConversation
	for rows.Next() {
		var rc RecalledConversation
		if err := rows.Scan(&rc.StartedAt, &rc.Opening); err != nil {
			return nil, fmt.Errorf("scan recent conversation: %w", err)
		}
		out = append(out, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read recent conversations for %s: %w", userRef, err)
	}
	return out, nil
}

func (s *PostgresStore) InsertEvent(ctx context.Context, ev types.TranscriptEvent) error {
	var metadata []byte
	if len(ev.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("encode event metadata: %w", err)
		}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transcript_events (session_id, sequence, role, content, occurred_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, sequence) DO NOTHING`,
		ev.SessionID, ev.Sequence, string(ev.Role), ev.Content, ev.OccurredAt, metadata,
	)
	if err != nil {
		return fmt.Errorf("insert transcript event %s/%d: %w", ev.SessionID, ev.Sequence, err)
	}
	return nil
}
