package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"inkframe/internal/core"

	_ "github.com/mattn/go-sqlite3"
)

// Storage implements durable persistence for the credential and rotation state
type Storage struct {
	db *sql.DB
}

// New creates a new SQLite storage instance
func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The webapp and the rotation loop share this file; let writers wait
	// instead of failing on a busy database
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	storage := &Storage{db: db}

	if err := storage.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return storage, nil
}

// migrate creates the database schema
func (s *Storage) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS credentials (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			token_type TEXT NOT NULL DEFAULT 'Bearer',
			expiry DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS rotation_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			shown TEXT NOT NULL,
			cursor TEXT NOT NULL,
			window INTEGER NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// GetCredential loads the stored credential, core.ErrNoCredential when absent
func (s *Storage) GetCredential(ctx context.Context) (*core.Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, token_type, expiry, updated_at
		FROM credentials WHERE id = 1`)

	var cred core.Credential
	err := row.Scan(&cred.AccessToken, &cred.RefreshToken, &cred.TokenType, &cred.Expiry, &cred.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, core.ErrNoCredential
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	return &cred, nil
}

// SaveCredential stores or replaces the credential
func (s *Storage) SaveCredential(ctx context.Context, cred *core.Credential) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, access_token, refresh_token, token_type, expiry, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			expiry = excluded.expiry,
			updated_at = excluded.updated_at`,
		cred.AccessToken, cred.RefreshToken, cred.TokenType, cred.Expiry.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// LoadRotation loads the rotation state. An absent or corrupt row yields an
// empty state rather than an error: losing the history is non-fatal.
func (s *Storage) LoadRotation(ctx context.Context) (*core.RotationState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT shown, cursor, window FROM rotation_state WHERE id = 1`)

	var shownJSON, cursorJSON string
	var window int
	err := row.Scan(&shownJSON, &cursorJSON, &window)
	if err == sql.ErrNoRows {
		return core.NewRotationState(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rotation state: %w", err)
	}

	state := core.NewRotationState(window)
	if err := json.Unmarshal([]byte(shownJSON), &state.Shown); err != nil {
		return core.NewRotationState(window), nil
	}
	if err := json.Unmarshal([]byte(cursorJSON), &state.Cursor); err != nil {
		state.Cursor = core.Cursor{}
	}
	return state, nil
}

// SaveRotation stores or replaces the rotation state
func (s *Storage) SaveRotation(ctx context.Context, state *core.RotationState) error {
	shownJSON, err := json.Marshal(state.Shown)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	cursorJSON, err := json.Marshal(state.Cursor)
	if err != nil {
		return fmt.Errorf("failed to encode cursor: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rotation_state (id, shown, cursor, window, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			shown = excluded.shown,
			cursor = excluded.cursor,
			window = excluded.window,
			updated_at = excluded.updated_at`,
		string(shownJSON), string(cursorJSON), state.Window, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save rotation state: %w", err)
	}
	return nil
}
