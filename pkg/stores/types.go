package stores

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/partcraft/partcraft/pkg/engine"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// EventType identifies what a journal event records.
type EventType string

const (
	EventSessionStarted      EventType = "session_started"
	EventPartStarted         EventType = "part_started"
	EventEnvironmentResolved EventType = "environment_resolved"
	EventPartFinished        EventType = "part_finished"
	EventSessionFinished     EventType = "session_finished"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelInfo  EventLevel = "info"
	EventLevelError EventLevel = "error"
)

// Event is one entry in a session's event log.
type Event struct {
	ID        int64      `json:"id"`
	SessionID string     `json:"session_id"`
	Part      *string    `json:"part,omitempty"`
	Type      EventType  `json:"type"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}

// EnvironmentRecord is the resolved environment a part was built with.
type EnvironmentRecord struct {
	SessionID   string                     `json:"session_id"`
	Part        string                     `json:"part"`
	SHA256      string                     `json:"sha256"`
	Assignments engine.ResolvedEnvironment `json:"assignments"`
	RecordedAt  time.Time                  `json:"recorded_at"`
}

// EnvironmentDigest returns the hex SHA-256 of the rendered assignments,
// one per line. Identical environments share a digest across sessions.
func EnvironmentDigest(env engine.ResolvedEnvironment) string {
	sum := sha256.Sum256([]byte(strings.Join(env.Strings(), "\n")))
	return hex.EncodeToString(sum[:])
}

// Journal persists build sessions. It is an engine.Recorder with read
// access for the command line.
type Journal interface {
	engine.Recorder

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Queries
	ListSessions(ctx context.Context, limit int) ([]*engine.Session, error)
	GetSession(ctx context.Context, id string) (*engine.Session, error)
	DeleteSession(ctx context.Context, id string) error
	GetEnvironment(ctx context.Context, sessionID, part string) (*EnvironmentRecord, error)
	GetEvents(ctx context.Context, sessionID string, limit int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
