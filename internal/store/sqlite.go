package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ashureev/onboard-guide/internal/domain"
	"github.com/ashureev/onboard-guide/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, logger: logger, now: time.Now}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL REFERENCES clients(id),
		current_checkpoint TEXT NOT NULL,
		checkpoint_data TEXT NOT NULL DEFAULT '{}',
		review_reached INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		last_activity_at INTEGER NOT NULL,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_client ON sessions(client_id, started_at);

	CREATE TABLE IF NOT EXISTS checkpoint_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		checkpoint TEXT NOT NULL,
		entered_at INTEGER NOT NULL,
		exited_at INTEGER,
		data_snapshot TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_history_open ON checkpoint_history(session_id) WHERE exited_at IS NULL;

	CREATE TABLE IF NOT EXISTS chat_messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		is_voice INTEGER NOT NULL DEFAULT 0,
		extracted_data TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON chat_messages(session_id, seq);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateSession creates a session and its opening WELCOME history entry.
func (s *SQLiteStore) CreateSession(ctx context.Context, email, name string) (*domain.Session, error) {
	var sessionID string
	err := s.withTx(ctx, "create session", func(tx *sql.Tx) error {
		now := s.now()
		client, err := s.ensureClient(ctx, tx, email, name, now)
		if err != nil {
			return err
		}

		sessionID = uuid.NewString()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sessions (id, client_id, current_checkpoint, checkpoint_data, review_reached, started_at, last_activity_at)
			VALUES (?, ?, ?, '{}', 0, ?, ?)`,
			sessionID, client.ID, string(domain.CheckpointWelcome), toMillis(now), toMillis(now),
		)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		return appendHistory(ctx, tx, sessionID, domain.CheckpointWelcome, now)
	})
	if err != nil {
		return nil, err
	}
	return s.GetSession(ctx, sessionID)
}

// ensureClient returns the client registered under email, creating it if
// needed. A non-empty name replaces the stored one.
func (s *SQLiteStore) ensureClient(ctx context.Context, tx *sql.Tx, email, name string, now time.Time) (*domain.Client, error) {
	client := &domain.Client{Email: email}
	var created int64
	err := tx.QueryRowContext(ctx, `SELECT id, name, created_at FROM clients WHERE email = ?`, email).
		Scan(&client.ID, &client.Name, &created)
	if err == nil {
		client.CreatedAt = fromMillis(created)
		if name != "" && name != client.Name {
			if _, err := tx.ExecContext(ctx, `UPDATE clients SET name = ? WHERE id = ?`, name, client.ID); err != nil {
				return nil, fmt.Errorf("update client name: %w", err)
			}
			client.Name = name
		}
		return client, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lookup client: %w", err)
	}

	client.ID = uuid.NewString()
	client.Name = name
	client.CreatedAt = now
	_, err = tx.ExecContext(ctx, `INSERT INTO clients (id, email, name, created_at) VALUES (?, ?, ?, ?)`,
		client.ID, email, name, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("insert client: %w", err)
	}
	s.logger.Info("Registered new client", "client_id", client.ID)
	return client, nil
}

const sessionColumns = `
	s.id, s.client_id, c.email, c.name, s.current_checkpoint, s.checkpoint_data,
	s.review_reached, s.started_at, s.last_activity_at, s.completed_at`

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	return getSession(ctx, s.db, id)
}

func getSession(ctx context.Context, q queryer, id string) (*domain.Session, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sessionColumns+`
		FROM sessions s JOIN clients c ON c.id = s.client_id
		WHERE s.id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return session, nil
}

// FindActiveSessionByEmail returns the newest uncompleted session of a client.
func (s *SQLiteStore) FindActiveSessionByEmail(ctx context.Context, email string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+`
		FROM sessions s JOIN clients c ON c.id = s.client_id
		WHERE c.email = ? AND s.completed_at IS NULL
		ORDER BY s.started_at DESC LIMIT 1`, email)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan active session row: %w", err)
	}
	return session, nil
}

func scanSession(row *sql.Row) (*domain.Session, error) {
	var session domain.Session
	var checkpoint, dataJSON string
	var reviewReached bool
	var startedAt, lastActivity int64
	var completedAt sql.NullInt64

	if err := row.Scan(
		&session.ID, &session.ClientID, &session.Email, &session.Name,
		&checkpoint, &dataJSON, &reviewReached,
		&startedAt, &lastActivity, &completedAt,
	); err != nil {
		return nil, err
	}

	data, err := decodeData(dataJSON)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint data: %w", err)
	}

	session.CurrentCheckpoint = domain.Checkpoint(checkpoint)
	session.Data = data
	session.ReviewReached = reviewReached
	session.StartedAt = fromMillis(startedAt)
	session.LastActivityAt = fromMillis(lastActivity)
	if completedAt.Valid {
		ts := fromMillis(completedAt.Int64)
		session.CompletedAt = &ts
	}
	return &session, nil
}

// UpdateSession applies patch to a session.
func (s *SQLiteStore) UpdateSession(ctx context.Context, id string, patch domain.SessionPatch) (*domain.Session, error) {
	var session *domain.Session
	err := s.withTx(ctx, "update session", func(tx *sql.Tx) error {
		if err := updateSession(ctx, tx, id, patch, s.now()); err != nil {
			return err
		}
		var err error
		session, err = getSession(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func updateSession(ctx context.Context, q queryer, id string, patch domain.SessionPatch, now time.Time) error {
	sets := []string{"last_activity_at = ?"}
	lastActivity := now
	if patch.LastActivityAt != nil {
		lastActivity = *patch.LastActivityAt
	}
	args := []any{toMillis(lastActivity)}

	if patch.CurrentCheckpoint != nil {
		sets = append(sets, "current_checkpoint = ?")
		args = append(args, string(*patch.CurrentCheckpoint))
	}
	if patch.Data != nil {
		dataJSON, err := encodeData(patch.Data)
		if err != nil {
			return fmt.Errorf("encode checkpoint data: %w", err)
		}
		sets = append(sets, "checkpoint_data = ?")
		args = append(args, dataJSON)
	}
	if patch.ReviewReached != nil {
		sets = append(sets, "review_reached = ?")
		args = append(args, *patch.ReviewReached)
	}
	if patch.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, toMillis(*patch.CompletedAt))
	}

	query := `UPDATE sessions SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	args = append(args, id)

	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update session %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// CommitTransition closes the open history entry, opens the next one and
// updates the session in one transaction.
func (s *SQLiteStore) CommitTransition(ctx context.Context, t Transition) (*domain.Session, error) {
	at := t.At
	if at.IsZero() {
		at = s.now()
	}
	cp := t.To
	patch := t.Patch
	patch.CurrentCheckpoint = &cp
	if patch.LastActivityAt == nil {
		patch.LastActivityAt = &at
	}

	var session *domain.Session
	err := s.withTx(ctx, "commit transition", func(tx *sql.Tx) error {
		closed, err := closeOpenHistory(ctx, tx, t.SessionID, "", t.Snapshot, at)
		if err != nil {
			return err
		}
		if closed == 0 {
			s.logger.Warn("No open history entry to close", "session_id", t.SessionID, "from", t.From)
		}
		if err := appendHistory(ctx, tx, t.SessionID, t.To, at); err != nil {
			return err
		}
		if err := updateSession(ctx, tx, t.SessionID, patch, at); err != nil {
			return err
		}
		session, err = getSession(ctx, tx, t.SessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// AppendHistory opens a new history entry.
func (s *SQLiteStore) AppendHistory(ctx context.Context, sessionID string, checkpoint domain.Checkpoint) (*domain.HistoryEntry, error) {
	err := s.withRetry(ctx, "append history", func() error {
		return appendHistory(ctx, s.db, sessionID, checkpoint, s.now())
	})
	if err != nil {
		return nil, err
	}
	return s.OpenHistory(ctx, sessionID)
}

func appendHistory(ctx context.Context, q queryer, sessionID string, checkpoint domain.Checkpoint, at time.Time) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO checkpoint_history (session_id, checkpoint, entered_at) VALUES (?, ?, ?)`,
		sessionID, string(checkpoint), toMillis(at),
	)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// CloseOpenHistory closes the open entry for checkpoint with snapshot.
func (s *SQLiteStore) CloseOpenHistory(ctx context.Context, sessionID string, checkpoint domain.Checkpoint, snapshot domain.CheckpointData) error {
	return s.withRetry(ctx, "close history", func() error {
		_, err := closeOpenHistory(ctx, s.db, sessionID, checkpoint, snapshot, s.now())
		return err
	})
}

// closeOpenHistory closes open entries of a session. An empty checkpoint
// closes every open entry.
func closeOpenHistory(ctx context.Context, q queryer, sessionID string, checkpoint domain.Checkpoint, snapshot domain.CheckpointData, at time.Time) (int64, error) {
	snapshotJSON, err := encodeData(snapshot)
	if err != nil {
		return 0, fmt.Errorf("encode history snapshot: %w", err)
	}

	query := `UPDATE checkpoint_history SET exited_at = ?, data_snapshot = ? WHERE session_id = ? AND exited_at IS NULL`
	args := []any{toMillis(at), snapshotJSON, sessionID}
	if checkpoint != "" {
		query += ` AND checkpoint = ?`
		args = append(args, string(checkpoint))
	}

	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("close history: %w", err)
	}
	return result.RowsAffected()
}

// OpenHistory returns the session's open history entry.
func (s *SQLiteStore) OpenHistory(ctx context.Context, sessionID string) (*domain.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, checkpoint, entered_at, exited_at, data_snapshot
		FROM checkpoint_history WHERE session_id = ? AND exited_at IS NULL
		ORDER BY id DESC LIMIT 1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query open history: %w", err)
	}
	entries, err := s.scanHistory(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}

// ListHistory returns a session's history, oldest first.
func (s *SQLiteStore) ListHistory(ctx context.Context, sessionID string) ([]*domain.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, checkpoint, entered_at, exited_at, data_snapshot
		FROM checkpoint_history WHERE session_id = ?
		ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return s.scanHistory(rows)
}

func (s *SQLiteStore) scanHistory(rows *sql.Rows) ([]*domain.HistoryEntry, error) {
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("failed to close history rows", "error", closeErr)
		}
	}()

	var entries []*domain.HistoryEntry
	for rows.Next() {
		var entry domain.HistoryEntry
		var checkpoint string
		var enteredAt int64
		var exitedAt sql.NullInt64
		var snapshot sql.NullString

		if err := rows.Scan(&entry.ID, &entry.SessionID, &checkpoint, &enteredAt, &exitedAt, &snapshot); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		entry.Checkpoint = domain.Checkpoint(checkpoint)
		entry.EnteredAt = fromMillis(enteredAt)
		if exitedAt.Valid {
			ts := fromMillis(exitedAt.Int64)
			entry.ExitedAt = &ts
		}
		if snapshot.Valid {
			data, err := decodeData(snapshot.String)
			if err != nil {
				return nil, fmt.Errorf("decode history snapshot: %w", err)
			}
			entry.Snapshot = data
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// AppendMessage stores a chat message.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, role domain.Role, content string, opts domain.MessageOptions) (*domain.ChatMessage, error) {
	msg := &domain.ChatMessage{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		Role:          role,
		Content:       content,
		IsVoice:       opts.IsVoice,
		ExtractedData: opts.ExtractedData,
		CreatedAt:     s.now(),
	}

	var extracted any
	if len(opts.ExtractedData) > 0 {
		encoded, err := encodeData(opts.ExtractedData)
		if err != nil {
			return nil, fmt.Errorf("encode extracted data: %w", err)
		}
		extracted = encoded
	}

	err := s.withRetry(ctx, "append message", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO chat_messages (id, session_id, role, content, is_voice, extracted_data, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, sessionID, string(role), content, opts.IsVoice, extracted, toMillis(msg.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// RecentMessages returns the newest messages of a session, oldest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]*domain.ChatMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, is_voice, extracted_data, created_at
		FROM chat_messages WHERE session_id = ?
		ORDER BY seq DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var msgs []*domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		var role string
		var extracted sql.NullString
		var createdAt int64

		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &msg.IsVoice, &extracted, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Role = domain.Role(role)
		msg.CreatedAt = fromMillis(createdAt)
		if extracted.Valid {
			data, err := decodeData(extracted.String)
			if err != nil {
				return nil, fmt.Errorf("decode extracted data: %w", err)
			}
			msg.ExtractedData = data
		}
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// withTx runs fn inside a transaction, retrying on SQLITE_BUSY.
func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	return s.withRetry(ctx, op, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin %s: %w", op, err)
		}
		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Warn("rollback failed", "op", op, "error", rbErr)
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", op, err)
		}
		return nil
	})
}

// withRetry retries fn with exponential backoff while SQLite reports lock
// contention.
func (s *SQLiteStore) withRetry(ctx context.Context, op string, fn func() error) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return err
		}
		if i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms
		s.logger.Debug("SQLite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", op, maxRetries, err)
}

func encodeData(data domain.CheckpointData) (string, error) {
	if data == nil {
		return "{}", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeData(raw string) (domain.CheckpointData, error) {
	data := domain.CheckpointData{}
	if strings.TrimSpace(raw) == "" {
		return data, nil
	}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, err
	}
	return data, nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

var _ Repository = (*SQLiteStore)(nil)
