// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides agent message persistence with automatic schema creation and migrations

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/agentcomm/internal/message"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Each pooled connection to ":memory:" would be its own database
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agent_messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id TEXT NOT NULL UNIQUE,
			sender_id TEXT NOT NULL,
			recipient_id TEXT,
			message_type INTEGER NOT NULL,
			payload TEXT,
			created_at INTEGER NOT NULL,

			CHECK (message_type BETWEEN 0 AND 127)
		);

		CREATE INDEX IF NOT EXISTS idx_agent_messages_sender
			ON agent_messages(sender_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_agent_messages_recipient
			ON agent_messages(recipient_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies column additions to databases created by older builds
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string
		apply  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('agent_messages') WHERE name = 'correlation_id'`,
			apply:  `ALTER TABLE agent_messages ADD COLUMN correlation_id TEXT`,
			column: "correlation_id",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to agent_messages: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "agent_messages")
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isConstraintViolation checks if an error is a SQLite constraint violation.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

const messageColumns = `message_id, sender_id, recipient_id, message_type, payload, correlation_id, created_at`

// inboxClause matches messages visible to one agent; it binds the agent twice.
const inboxClause = `(sender_id = ? OR recipient_id = ? OR recipient_id IS NULL)`

// SaveMessage stores a message. Returns ErrDuplicateMessage if the id exists.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg message.Message) (int64, error) {
	query := `
		INSERT INTO agent_messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.SenderID,
		nullStringPtr(msg.RecipientID),
		msg.Type,
		nullStringPtr(msg.Payload),
		nullStringPtr(msg.CorrelationID),
		msg.Timestamp.UTC().UnixNano(),
	)
	if err != nil {
		if isConstraintViolation(err) && strings.Contains(err.Error(), "message_id") {
			return 0, ErrDuplicateMessage
		}
		return 0, fmt.Errorf("inserting message: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading message sequence: %w", err)
	}
	return seq, nil
}

// GetMessage retrieves a message by id.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (message.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM agent_messages WHERE message_id = ?`

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return message.Message{}, ErrNotFound
	}
	if err != nil {
		return message.Message{}, fmt.Errorf("querying message: %w", err)
	}
	return msg, nil
}

// Conversation retrieves messages between two agents, newest first.
func (s *SQLiteStore) Conversation(ctx context.Context, agentID, other string, limit, offset int) ([]message.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM agent_messages
		WHERE (sender_id = ? AND recipient_id = ?)
		   OR (sender_id = ? AND recipient_id = ?)
		ORDER BY created_at DESC, seq DESC
		LIMIT ? OFFSET ?
	`

	return s.queryMessages(ctx, query, agentID, other, other, agentID, sqlLimit(limit), offset)
}

// Inbox retrieves an agent's messages matching q, newest first.
func (s *SQLiteStore) Inbox(ctx context.Context, q InboxQuery) ([]message.Message, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + messageColumns + ` FROM agent_messages WHERE ` + inboxClause)
	args := []any{q.AgentID, q.AgentID}

	if !q.Start.IsZero() {
		b.WriteString(` AND created_at >= ?`)
		args = append(args, q.Start.UTC().UnixNano())
	}
	if !q.End.IsZero() {
		b.WriteString(` AND created_at <= ?`)
		args = append(args, q.End.UTC().UnixNano())
	}
	if q.MessageType != nil {
		b.WriteString(` AND message_type = ?`)
		args = append(args, *q.MessageType)
	}
	b.WriteString(` ORDER BY created_at DESC, seq DESC LIMIT ? OFFSET ?`)
	args = append(args, sqlLimit(q.Limit), q.Offset)

	return s.queryMessages(ctx, b.String(), args...)
}

// Counterparts lists the agents agentID has exchanged direct messages with.
func (s *SQLiteStore) Counterparts(ctx context.Context, agentID string) ([]message.Agent, error) {
	query := `
		SELECT CASE WHEN sender_id = ? THEN recipient_id ELSE sender_id END AS agent,
		       MAX(created_at) AS last_message
		FROM agent_messages
		WHERE recipient_id IS NOT NULL
		  AND sender_id != recipient_id
		  AND (sender_id = ? OR recipient_id = ?)
		GROUP BY agent
		ORDER BY last_message DESC
	`

	rows, err := s.db.QueryContext(ctx, query, agentID, agentID, agentID)
	if err != nil {
		return nil, fmt.Errorf("querying counterparts: %w", err)
	}
	defer rows.Close()

	var agents []message.Agent
	for rows.Next() {
		var (
			id   string
			last int64
		)
		if err := rows.Scan(&id, &last); err != nil {
			return nil, fmt.Errorf("scanning counterpart: %w", err)
		}
		ts := time.Unix(0, last).UTC()
		agents = append(agents, message.Agent{ID: id, LastMessageTime: &ts})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating counterparts: %w", err)
	}
	return agents, nil
}

// LatestSeq returns the highest stored sequence.
func (s *SQLiteStore) LatestSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM agent_messages`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("querying latest sequence: %w", err)
	}
	return seq, nil
}

// Since retrieves an agent's inbox messages stored after afterSeq, oldest first.
func (s *SQLiteStore) Since(ctx context.Context, agentID string, afterSeq int64, limit int) ([]Record, error) {
	query := `
		SELECT seq, ` + messageColumns + `
		FROM agent_messages
		WHERE seq > ? AND ` + inboxClause + `
		ORDER BY seq ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, afterSeq, agentID, agentID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying messages since %d: %w", afterSeq, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var seq int64
		msg, err := scanMessage(rows, &seq)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		records = append(records, Record{Seq: seq, Message: msg})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]message.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []message.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return messages, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanMessage scans messageColumns, preceded by any leading destinations.
func scanMessage(row scanner, leading ...any) (message.Message, error) {
	var (
		msg         message.Message
		recipient   sql.NullString
		payload     sql.NullString
		correlation sql.NullString
		createdAt   int64
	)

	dest := append(leading, &msg.ID, &msg.SenderID, &recipient, &msg.Type, &payload, &correlation, &createdAt)
	if err := row.Scan(dest...); err != nil {
		return message.Message{}, err
	}

	msg.RecipientID = stringPtr(recipient)
	msg.Payload = stringPtr(payload)
	msg.CorrelationID = stringPtr(correlation)
	msg.Timestamp = time.Unix(0, createdAt).UTC()
	return msg, nil
}

// nullStringPtr converts an optional string to a value suitable for SQL,
// returning nil for absent values.
func nullStringPtr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// sqlLimit maps "no limit" to SQLite's -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
