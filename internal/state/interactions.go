// internal/state/interactions.go
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Member is a tracked chat participant with their message count.
type Member struct {
	UserID          int64     `json:"user_id"`
	Username        string    `json:"username"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	MessageCount    int64     `json:"message_count"`
	LastInteraction time.Time `json:"last_interaction"`
}

// DisplayName prefers the @username and falls back to the full name.
func (m *Member) DisplayName() string {
	if m.Username != "" {
		return "@" + m.Username
	}
	name := m.FirstName
	if m.LastName != "" {
		if name != "" {
			name += " "
		}
		name += m.LastName
	}
	return name
}

// ErrMemberNotFound is returned by Rank for users with no recorded messages.
var ErrMemberNotFound = errors.New("member not found")

// InteractionStore counts messages per chat participant in SQLite.
type InteractionStore struct {
	db *sql.DB
}

// NewInteractionStore opens (or creates) the SQLite database at dbPath.
func NewInteractionStore(dbPath string) (*InteractionStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &InteractionStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *InteractionStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id INTEGER PRIMARY KEY,
		username TEXT,
		first_name TEXT,
		last_name TEXT,
		message_count INTEGER DEFAULT 0,
		last_interaction INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_message_count ON users(message_count DESC);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *InteractionStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *InteractionStore) Close() error {
	return s.db.Close()
}

// Record increments the member's message count and refreshes their names.
func (s *InteractionStore) Record(ctx context.Context, m *Member) error {
	now := time.Now().Unix()
	query := `
		INSERT INTO users (user_id, username, first_name, last_name, message_count, last_interaction)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			message_count = message_count + 1,
			username = excluded.username,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			last_interaction = excluded.last_interaction`
	if _, err := s.db.ExecContext(ctx, query, m.UserID, m.Username, m.FirstName, m.LastName, now); err != nil {
		return fmt.Errorf("record interaction: %w", err)
	}
	return nil
}

// Top returns up to limit members ordered by message count.
func (s *InteractionStore) Top(ctx context.Context, limit int) ([]*Member, error) {
	query := `
		SELECT user_id, username, first_name, last_name, message_count, last_interaction
		FROM users
		ORDER BY message_count DESC, user_id ASC
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query top members: %w", err)
	}
	defer rows.Close()

	members := []*Member{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top members: %w", err)
	}
	return members, nil
}

// Rank returns the member's 1-based position by message count along with
// their record.
func (s *InteractionStore) Rank(ctx context.Context, userID int64) (int, *Member, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, username, first_name, last_name, message_count, last_interaction
		FROM users WHERE user_id = ?`, userID)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, ErrMemberNotFound
	}
	if err != nil {
		return 0, nil, err
	}

	var ahead int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE message_count > ?`, m.MessageCount,
	).Scan(&ahead); err != nil {
		return 0, nil, fmt.Errorf("count higher ranked members: %w", err)
	}
	return ahead + 1, m, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMember(row scanner) (*Member, error) {
	var m Member
	var username, first, last sql.NullString
	var lastInteraction int64
	if err := row.Scan(&m.UserID, &username, &first, &last, &m.MessageCount, &lastInteraction); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan member row: %w", err)
	}
	m.Username = username.String
	m.FirstName = first.String
	m.LastName = last.String
	m.LastInteraction = time.Unix(lastInteraction, 0)
	return &m, nil
}
