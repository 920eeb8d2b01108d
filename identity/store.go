// Package identity holds the locally persisted credential (bearer token,
// user id/name) and the last-active-room marker. Nothing else about a chat
// session is persisted client-side.
package identity

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/mattn/go-sqlite3"
)

const (
	busyTimeout = "5000"   // 5 seconds
	cacheSize   = "-2000"  // 2MB, this store is tiny
	journalMode = "WAL"
	synchronous = "NORMAL"
	foreignKeys = "true"
)

type Store struct {
	db *sql.DB
}

type Credential struct {
	Token     string
	UserID    string
	UserName  string
	UpdatedAt time.Time
}

// Open opens (creating if needed) the local sqlite store and applies
// migrations from the given directory.
func Open(database, migrationsDir string) (*Store, error) {
	params := make(url.Values)
	params.Add("_journal_mode", journalMode)
	params.Add("_busy_timeout", busyTimeout)
	params.Add("_synchronous", synchronous)
	params.Add("_cache_size", cacheSize)
	params.Add("_foreign_keys", foreignKeys)
	params.Add("mode", "rwc")
	params.Add("_txlock", "immediate")

	connStr := fmt.Sprintf("file:%s?%s", database, params.Encode())
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open identity store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := runMigrations(db, migrationsDir); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB, dir string) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "sqlite3", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}

	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveCredential stores the bearer token and its identity fields; there is
// exactly one credential row.
func (s *Store) SaveCredential(cred Credential) error {
	query := `INSERT INTO credentials (id, token, user_id, user_name, updated_at)
	          VALUES (1, ?, ?, ?, ?)
	          ON CONFLICT(id) DO UPDATE SET
	              token = excluded.token,
	              user_id = excluded.user_id,
	              user_name = excluded.user_name,
	              updated_at = excluded.updated_at`

	_, err := s.db.Exec(query, cred.Token, cred.UserID, cred.UserName, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// Credential loads the stored credential. The second return is false when
// none has been saved yet, the normal "chat disabled" state.
func (s *Store) Credential() (Credential, bool, error) {
	query := `SELECT token, user_id, user_name, updated_at FROM credentials WHERE id = 1`

	var cred Credential
	err := s.db.QueryRow(query).Scan(&cred.Token, &cred.UserID, &cred.UserName, &cred.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, fmt.Errorf("failed to load credential: %w", err)
	}
	return cred, true, nil
}

// ClearCredential removes the stored token, returning the client to the
// disabled state.
func (s *Store) ClearCredential() error {
	if _, err := s.db.Exec(`DELETE FROM credentials WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	return nil
}

// SetLastRoom persists the last active room marker.
func (s *Store) SetLastRoom(roomID string) error {
	query := `INSERT INTO session_state (key, value) VALUES ('last_room', ?)
	          ON CONFLICT(key) DO UPDATE SET value = excluded.value`

	if _, err := s.db.Exec(query, roomID); err != nil {
		return fmt.Errorf("failed to save last room: %w", err)
	}
	return nil
}

// LastRoom returns the persisted last active room, empty if never set.
func (s *Store) LastRoom() (string, error) {
	var roomID string
	err := s.db.QueryRow(`SELECT value FROM session_state WHERE key = 'last_room'`).Scan(&roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load last room: %w", err)
	}
	return roomID, nil
}
