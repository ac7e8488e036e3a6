package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/neurion-ai/seraph/internal/domain"
	"github.com/neurion-ai/seraph/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
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

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	// Timestamps are Unix seconds, always UTC. Comparing integers avoids the
	// timezone ambiguity of stored datetime strings.
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		step_number INTEGER,
		tool_used TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);

	CREATE TABLE IF NOT EXISTS queued_insights (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		intervention_type TEXT NOT NULL,
		urgency INTEGER NOT NULL,
		reasoning TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_insights_created ON queued_insights(created_at);

	CREATE TABLE IF NOT EXISTS profile (
		id TEXT PRIMARY KEY,
		onboarding_completed INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS memories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
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

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	query := `SELECT id, title, created_at, updated_at FROM sessions WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)

	var sess domain.Session
	var createdAt, updatedAt int64
	err := row.Scan(&sess.ID, &sess.Title, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	sess.CreatedAt = time.Unix(createdAt, 0).UTC()
	sess.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &sess, nil
}

// CreateSessionIfAbsent inserts the session row if missing and returns the
// stored row. Concurrent calls for the same unknown id resolve to a single
// row; the conflict clause suppresses the duplicate insert.
func (s *SQLiteStore) CreateSessionIfAbsent(ctx context.Context, id string) (*domain.Session, error) {
	now := time.Now().UTC().Unix()
	query := `
	INSERT INTO sessions (id, title, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, id, domain.DefaultSessionTitle, now, now); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s missing after upsert", id)
	}
	return sess, nil
}

// AddMessage appends a message to a session's log.
func (s *SQLiteStore) AddMessage(ctx context.Context, sessionID, role, content string, stepNumber *int, toolUsed string) (*domain.Message, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}

	now := time.Now().UTC().Unix()

	var step interface{}
	if stepNumber != nil {
		step = *stepNumber
	}
	var tool interface{}
	if toolUsed != "" {
		tool = toolUsed
	}

	query := `
	INSERT INTO messages (session_id, role, content, step_number, tool_used, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query, sessionID, role, content, step, tool, now)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message insert id: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now, sessionID); err != nil {
		slog.Warn("Failed to bump session updated_at", "session_id", sessionID, "error", err)
	}

	return &domain.Message{
		ID:         id,
		SessionID:  sessionID,
		Role:       role,
		Content:    content,
		StepNumber: stepNumber,
		ToolUsed:   toolUsed,
		CreatedAt:  time.Unix(now, 0).UTC(),
	}, nil
}

// ListMessages returns a session's messages in insertion order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]domain.Message, error) {
	query := `
	SELECT id, session_id, role, content, step_number, tool_used, created_at
	FROM messages WHERE session_id = ? ORDER BY id`
	args := []interface{}{sessionID}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	} else if offset > 0 {
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer closeRows(rows, "messages")

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var step sql.NullInt64
		var tool sql.NullString
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &step, &tool, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		if step.Valid {
			n := int(step.Int64)
			msg.StepNumber = &n
		}
		msg.ToolUsed = tool.String
		msg.CreatedAt = time.Unix(createdAt, 0).UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// ListSessions returns one summary per session with its latest message.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]domain.SessionSummary, error) {
	query := `
	SELECT s.id, s.title,
	       (SELECT m.content FROM messages m WHERE m.session_id = s.id ORDER BY m.id DESC LIMIT 1)
	FROM sessions s ORDER BY s.updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer closeRows(rows, "sessions")

	var summaries []domain.SessionSummary
	for rows.Next() {
		var sum domain.SessionSummary
		var last sql.NullString
		if err := rows.Scan(&sum.ID, &sum.Title, &last); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		sum.LastMessage = last.String
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return summaries, nil
}

// UpdateSessionTitle renames a session.
func (s *SQLiteStore) UpdateSessionTitle(ctx context.Context, id, title string) (bool, error) {
	query := `UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query, title, time.Now().UTC().Unix(), id)
	if err != nil {
		return false, fmt.Errorf("update session title: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// DeleteSession removes a session and all its messages atomically. Retries
// on SQLITE_BUSY since the websocket path may be mid-write.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		deleted, err := s.deleteSessionOnce(ctx, id)
		if err == nil {
			return deleted, nil
		}
		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("DeleteSession hit SQLITE_BUSY, retrying",
				"session_id", id, "attempt", i+1, "delay", delay)
			time.Sleep(delay)
			continue
		}
		return false, fmt.Errorf("delete session %s: %w", id, err)
	}
	return false, nil
}

func (s *SQLiteStore) deleteSessionOnce(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete tx: %w", err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete tx: %w", err)
	}
	return rows > 0, nil
}

// CountConversationMessages counts user and assistant messages only.
func (s *SQLiteStore) CountConversationMessages(ctx context.Context, sessionID string) (int, error) {
	query := `SELECT COUNT(*) FROM messages WHERE session_id = ? AND role IN (?, ?)`
	var count int
	if err := s.db.QueryRowContext(ctx, query, sessionID, domain.RoleUser, domain.RoleAssistant).Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// InsertInsight appends a queued insight.
func (s *SQLiteStore) InsertInsight(ctx context.Context, insight *domain.QueuedInsight) (*domain.QueuedInsight, error) {
	created := insight.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	query := `
	INSERT INTO queued_insights (content, intervention_type, urgency, reasoning, created_at)
	VALUES (?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		insight.Content, insight.InterventionType, insight.Urgency, insight.Reasoning, created.Unix())
	if err != nil {
		return nil, fmt.Errorf("insert insight: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insight insert id: %w", err)
	}

	stored := *insight
	stored.ID = id
	stored.CreatedAt = time.Unix(created.Unix(), 0).UTC()
	return &stored, nil
}

// TakeAllInsights reads and deletes every queued insight in one transaction.
func (s *SQLiteStore) TakeAllInsights(ctx context.Context) ([]domain.QueuedInsight, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin drain tx: %w", err)
	}
	defer rollback(tx)

	rows, err := tx.QueryContext(ctx, `
	SELECT id, content, intervention_type, urgency, reasoning, created_at
	FROM queued_insights ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query insights: %w", err)
	}

	var insights []domain.QueuedInsight
	for rows.Next() {
		var ins domain.QueuedInsight
		var createdAt int64
		if err := rows.Scan(&ins.ID, &ins.Content, &ins.InterventionType, &ins.Urgency, &ins.Reasoning, &createdAt); err != nil {
			closeRows(rows, "insights")
			return nil, fmt.Errorf("scan insight row: %w", err)
		}
		ins.CreatedAt = time.Unix(createdAt, 0).UTC()
		insights = append(insights, ins)
	}
	if err := rows.Err(); err != nil {
		closeRows(rows, "insights")
		return nil, fmt.Errorf("iterate insights: %w", err)
	}
	closeRows(rows, "insights")

	if _, err := tx.ExecContext(ctx, `DELETE FROM queued_insights`); err != nil {
		return nil, fmt.Errorf("clear insights: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit drain tx: %w", err)
	}
	return insights, nil
}

// CountInsights counts insights created after cutoff.
func (s *SQLiteStore) CountInsights(ctx context.Context, cutoff time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM queued_insights WHERE created_at > ?`
	if err := s.db.QueryRowContext(ctx, query, cutoff.Unix()).Scan(&count); err != nil {
		return 0, fmt.Errorf("count insights: %w", err)
	}
	return count, nil
}

// PeekInsights previews fresh insights ordered by urgency descending.
func (s *SQLiteStore) PeekInsights(ctx context.Context, cutoff time.Time, limit int) ([]domain.QueuedInsight, error) {
	query := `
	SELECT id, content, intervention_type, urgency, reasoning, created_at
	FROM queued_insights WHERE created_at > ?
	ORDER BY urgency DESC, id LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, cutoff.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("peek insights: %w", err)
	}
	defer closeRows(rows, "insights")

	var insights []domain.QueuedInsight
	for rows.Next() {
		var ins domain.QueuedInsight
		var createdAt int64
		if err := rows.Scan(&ins.ID, &ins.Content, &ins.InterventionType, &ins.Urgency, &ins.Reasoning, &createdAt); err != nil {
			return nil, fmt.Errorf("scan insight row: %w", err)
		}
		ins.CreatedAt = time.Unix(createdAt, 0).UTC()
		insights = append(insights, ins)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate insights: %w", err)
	}
	return insights, nil
}

// GetOrCreateProfile returns the singleton profile row.
func (s *SQLiteStore) GetOrCreateProfile(ctx context.Context) (*domain.Profile, error) {
	query := `
	INSERT INTO profile (id, onboarding_completed) VALUES (?, 0)
	ON CONFLICT(id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query, domain.ProfileID); err != nil {
		return nil, fmt.Errorf("insert profile: %w", err)
	}

	var profile domain.Profile
	var completed int
	row := s.db.QueryRowContext(ctx, `SELECT id, onboarding_completed FROM profile WHERE id = ?`, domain.ProfileID)
	if err := row.Scan(&profile.ID, &completed); err != nil {
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	profile.OnboardingCompleted = completed != 0
	return &profile, nil
}

// SetOnboardingCompleted flips the onboarding flag on the singleton profile.
func (s *SQLiteStore) SetOnboardingCompleted(ctx context.Context, completed bool) error {
	val := 0
	if completed {
		val = 1
	}
	query := `
	INSERT INTO profile (id, onboarding_completed) VALUES (?, ?)
	ON CONFLICT(id) DO UPDATE SET onboarding_completed = excluded.onboarding_completed`
	if _, err := s.db.ExecContext(ctx, query, domain.ProfileID, val); err != nil {
		return fmt.Errorf("set onboarding completed: %w", err)
	}
	return nil
}

// AddMemory persists one long-term memory.
func (s *SQLiteStore) AddMemory(ctx context.Context, content string) error {
	query := `INSERT INTO memories (content, created_at) VALUES (?, ?)`
	if _, err := s.db.ExecContext(ctx, query, content, time.Now().UTC().Unix()); err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// ListMemories returns the most recent memories, newest first.
func (s *SQLiteStore) ListMemories(ctx context.Context, limit int) ([]domain.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, content, created_at FROM memories ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer closeRows(rows, "memories")

	var memories []domain.Memory
	for rows.Next() {
		var mem domain.Memory
		var createdAt int64
		if err := rows.Scan(&mem.ID, &mem.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		mem.CreatedAt = time.Unix(createdAt, 0).UTC()
		memories = append(memories, mem)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	return memories, nil
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "rows", what, "error", err)
	}
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		slog.Warn("failed to rollback transaction", "error", err)
	}
}
