package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // Postgres driver

	"github.com/fermata-app/fermata/internal/domain"
	"github.com/fermata-app/fermata/internal/logging"
)

// PostgresStore implements SessionStore backed by Postgres via lib/pq.
type PostgresStore struct {
	sql *sql.DB
	log *logging.Logger
}

// OpenPostgres connects to Postgres, verifies the connection, and ensures
// the schema exists. Pool limits follow typical API-server settings.
func OpenPostgres(dsn string, log *logging.Logger) (*PostgresStore, error) {
	if log == nil {
		log = logging.Nop()
	}

	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	store := &PostgresStore{sql: sqlDB, log: log.Sub("store")}
	if err := store.ensureSchema(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	store.log.Info().Msg("postgres connected")
	return store, nil
}

func (p *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := p.sql.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id          TEXT PRIMARY KEY,
			document    JSONB NOT NULL,
			search_text TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions (updated_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}

// Create inserts a new session, assigning an id and timestamps when missing.
func (p *PostgresStore) Create(ctx context.Context, sess *domain.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = sess.CreatedAt
	}

	doc, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	_, err = p.sql.ExecContext(ctx,
		`INSERT INTO sessions (id, document, search_text, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		sess.ID, string(doc), searchText(sess), sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting session %s: %w", sess.ID, err)
	}
	return nil
}

// Get returns the session document by id.
func (p *PostgresStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	var doc string
	err := p.sql.QueryRowContext(ctx,
		`SELECT document FROM sessions WHERE id = $1`, id,
	).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	return decodeSession(doc)
}

// Save replaces the stored document, stamping UpdatedAt.
func (p *PostgresStore) Save(ctx context.Context, sess *domain.Session) error {
	sess.UpdatedAt = time.Now().UTC()

	doc, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	res, err := p.sql.ExecContext(ctx,
		`UPDATE sessions SET document = $1, search_text = $2, updated_at = $3 WHERE id = $4`,
		string(doc), searchText(sess), sess.UpdatedAt, sess.ID,
	)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", sess.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a session by id.
func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := p.sql.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns session summaries newest-first. Limit of 0 defaults to 20.
func (p *PostgresStore) List(ctx context.Context, limit int) ([]domain.SessionSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := p.sql.QueryContext(ctx,
		`SELECT document FROM sessions ORDER BY updated_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	return scanSummaries(rows)
}

// Search finds sessions whose feedback text contains the query,
// case-insensitively. Limit of 0 defaults to 20.
func (p *PostgresStore) Search(ctx context.Context, query string, limit int) ([]domain.SessionSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	rows, err := p.sql.QueryContext(ctx,
		`SELECT document FROM sessions
		 WHERE search_text ILIKE '%' || $1 || '%'
		 ORDER BY updated_at DESC
		 LIMIT $2`,
		query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching sessions: %w", err)
	}
	defer rows.Close()

	return scanSummaries(rows)
}

// Close closes the underlying database.
func (p *PostgresStore) Close() error {
	p.log.Info().Msg("closing postgres")
	return p.sql.Close()
}
