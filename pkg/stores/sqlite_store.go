package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/partcraft/partcraft/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory journal.
const MemoryPath = ":memory:"

// SQLiteStore is the build journal backed by SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: is a separate database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes and migrates the journal at path, creating
// the parent directory when needed.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Init opens the database connection. File databases use WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	if s.cfg.Path != MemoryPath {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SessionStarted records a new session and its pending parts.
func (s *SQLiteStore) SessionStarted(ctx context.Context, session *engine.Session) error {
	order, err := json.Marshal(session.Order)
	if err != nil {
		return fmt.Errorf("failed to encode build order: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, project, status, part_order, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, session.ID, session.Project, session.Status, string(order), session.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	for _, r := range session.Results {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO part_builds (session_id, part, position, status)
			VALUES (?, ?, ?, ?)
		`, session.ID, r.Part, r.Position, r.Status)
		if err != nil {
			return fmt.Errorf("failed to create part build %s: %w", r.Part, err)
		}
	}

	msg := fmt.Sprintf("session started for %s with %d parts", session.Project, len(session.Order))
	if err := appendEvent(ctx, tx, session.ID, "", EventSessionStarted, EventLevelInfo, msg); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}
	return nil
}

// PartStarted marks a part as running.
func (s *SQLiteStore) PartStarted(ctx context.Context, sessionID, part string, position int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO part_builds (session_id, part, position, status, started_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_id, part) DO UPDATE
		SET status = excluded.status, started_at = excluded.started_at
	`, sessionID, part, position, engine.PartStatusRunning, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to start part build: %w", err)
	}

	return appendEvent(ctx, s.db, sessionID, part, EventPartStarted, EventLevelInfo,
		fmt.Sprintf("building %s", part))
}

// EnvironmentResolved stores the environment a part is built with.
func (s *SQLiteStore) EnvironmentResolved(ctx context.Context, sessionID, part string, env engine.ResolvedEnvironment) error {
	assignments, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode environment: %w", err)
	}
	digest := EnvironmentDigest(env)

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO environments (session_id, part, sha256, assignments, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, part, digest, string(assignments), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store environment: %w", err)
	}

	return appendEvent(ctx, s.db, sessionID, part, EventEnvironmentResolved, EventLevelInfo,
		fmt.Sprintf("resolved %d assignments (sha256 %s)", len(env), digest[:12]))
}

// PartFinished stores the final result of a part.
func (s *SQLiteStore) PartFinished(ctx context.Context, sessionID string, result engine.PartResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO part_builds (session_id, part, position, status, started_at, completed_at, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, part) DO UPDATE
		SET status = excluded.status,
			started_at = COALESCE(excluded.started_at, part_builds.started_at),
			completed_at = excluded.completed_at,
			duration_ms = excluded.duration_ms,
			error = excluded.error
	`, sessionID, result.Part, result.Position, result.Status,
		nullTime(result.StartedAt), nullTime(result.CompletedAt),
		result.Duration.Milliseconds(), nullString(result.Error))
	if err != nil {
		return fmt.Errorf("failed to finish part build: %w", err)
	}

	level := EventLevelInfo
	msg := fmt.Sprintf("%s %s", result.Part, result.Status)
	if result.Status == engine.PartStatusFailed {
		level = EventLevelError
		msg = fmt.Sprintf("%s failed: %s", result.Part, result.Error)
	}
	return appendEvent(ctx, s.db, sessionID, result.Part, EventPartFinished, level, msg)
}

// SessionFinished stores the final status of a session.
func (s *SQLiteStore) SessionFinished(ctx context.Context, session *engine.Session) error {
	completedAt := time.Now().UTC()
	if session.CompletedAt != nil {
		completedAt = session.CompletedAt.UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = ?, completed_at = ?, error = ?
		WHERE id = ?
	`, session.Status, completedAt, nullString(session.Error), session.ID)
	if err != nil {
		return fmt.Errorf("failed to finish session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session %s: %w", session.ID, ErrNotFound)
	}

	level := EventLevelInfo
	if session.Status != engine.SessionStatusSucceeded {
		level = EventLevelError
	}
	return appendEvent(ctx, s.db, session.ID, "", EventSessionFinished, level,
		fmt.Sprintf("session %s", session.Status))
}

const sessionColumns = `id, project, status, part_order, started_at, completed_at, error`

// ListSessions returns the most recent sessions, newest first, without
// their part results.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*engine.Session, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		ORDER BY started_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*engine.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// GetSession returns a session with its part results in build order. id
// may be a unique prefix of the session ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*engine.Session, error) {
	fullID, err := s.resolveSessionID(ctx, id)
	if err != nil {
		return nil, err
	}

	session, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, fullID))
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT part, position, status, started_at, completed_at, duration_ms, error
		FROM part_builds
		WHERE session_id = ?
		ORDER BY position ASC
	`, fullID)
	if err != nil {
		return nil, fmt.Errorf("failed to list part builds: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r           engine.PartResult
			startedAt   *time.Time
			completedAt *time.Time
			durationMS  int64
			errMsg      *string
		)
		if err := rows.Scan(&r.Part, &r.Position, &r.Status, &startedAt, &completedAt, &durationMS, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan part build: %w", err)
		}
		if startedAt != nil {
			r.StartedAt = *startedAt
		}
		if completedAt != nil {
			r.CompletedAt = *completedAt
		}
		if errMsg != nil {
			r.Error = *errMsg
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		session.Results = append(session.Results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating part builds: %w", err)
	}

	return session, nil
}

func (s *SQLiteStore) resolveSessionID(ctx context.Context, id string) (string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM sessions
		WHERE id = ? OR id LIKE ? || '%'
		ORDER BY id = ? DESC
		LIMIT 2
	`, id, id, id)
	if err != nil {
		return "", fmt.Errorf("failed to find session: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var found string
		if err := rows.Scan(&found); err != nil {
			return "", fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, found)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("error iterating sessions: %w", err)
	}

	switch {
	case len(ids) == 0:
		return "", fmt.Errorf("session %s: %w", id, ErrNotFound)
	case ids[0] == id || len(ids) == 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("session id prefix %q is ambiguous", id)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*engine.Session, error) {
	var (
		session engine.Session
		order   string
		errMsg  *string
	)
	err := row.Scan(&session.ID, &session.Project, &session.Status, &order,
		&session.StartedAt, &session.CompletedAt, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	if err := json.Unmarshal([]byte(order), &session.Order); err != nil {
		return nil, fmt.Errorf("failed to decode build order of session %s: %w", session.ID, err)
	}
	if errMsg != nil {
		session.Error = *errMsg
	}
	return &session, nil
}

// DeleteSession deletes a session and everything recorded for it.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}

	return nil
}

// GetEnvironment returns the environment recorded for a part.
func (s *SQLiteStore) GetEnvironment(ctx context.Context, sessionID, part string) (*EnvironmentRecord, error) {
	rec := &EnvironmentRecord{}
	var assignments string
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, part, sha256, assignments, recorded_at
		FROM environments
		WHERE session_id = ? AND part = ?
	`, sessionID, part).Scan(&rec.SessionID, &rec.Part, &rec.SHA256, &assignments, &rec.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("environment of %s in session %s: %w", part, sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get environment: %w", err)
	}

	if err := json.Unmarshal([]byte(assignments), &rec.Assignments); err != nil {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}
	return rec, nil
}

// GetEvents returns the events of a session in the order they happened.
// A limit of zero or less returns all of them.
func (s *SQLiteStore) GetEvents(ctx context.Context, sessionID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, part, type, level, message, timestamp
		FROM events
		WHERE session_id = ?
		ORDER BY id ASC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.SessionID,
			&event.Part,
			&event.Type,
			&event.Level,
			&event.Message,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func appendEvent(ctx context.Context, db execer, sessionID, part string, typ EventType, level EventLevel, message string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO events (session_id, part, type, level, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sessionID, nullString(part), typ, level, message, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ Journal = (*SQLiteStore)(nil)
