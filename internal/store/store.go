// Package store persists sessions and transcripts in a SQLite database
// under the data directory.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/batalabs/qoze/internal/config"
	"github.com/batalabs/qoze/internal/domain"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite database for session and message persistence.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the SQLite database in the qoze data directory.
func OpenStore() (*Store, error) {
	dir, err := config.DataDir()
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	dsn := filepath.Join(dir, "qoze.db")

	db, err := sql.Open("sqlite", dsn+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewFromDB creates a Store from an existing *sql.DB and runs migrations.
// Useful for testing with an in-memory database.
func NewFromDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			project_path TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT 'New Session',
			model TEXT NOT NULL DEFAULT '',
			input_tokens INTEGER DEFAULT 0,
			output_tokens INTEGER DEFAULT 0,
			llm_calls INTEGER DEFAULT 0,
			message_count INTEGER DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT 'text',
			reasoning TEXT NOT NULL DEFAULT '',
			tokens INTEGER DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			sequence INTEGER NOT NULL
		);
	`); err != nil {
		return err
	}

	// Add columns introduced after the first release to existing DBs.
	for _, q := range []string{
		`ALTER TABLE sessions ADD COLUMN llm_calls INTEGER DEFAULT 0`,
		`ALTER TABLE messages ADD COLUMN reasoning TEXT NOT NULL DEFAULT ''`,
	} {
		// ALTER TABLE errors expected — column may already exist.
		if _, err := s.db.Exec(q); err != nil {
			// expected: column already exists
		}
	}

	_, err := s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_path);
		CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at DESC);
		CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, sequence);
	`)
	return err
}

// ---------------------------------------------------------------------------
// Session CRUD
// ---------------------------------------------------------------------------

// CreateSession inserts a new session with the given project path and model.
func (s *Store) CreateSession(projectPath, model string) (*domain.Session, error) {
	sess := &domain.Session{
		ID:          domain.NewID(),
		ProjectPath: projectPath,
		Title:       "New Session",
		Model:       model,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, project_path, title, model, created_at, updated_at)
		 VALUES (?, ?, ?, ?, datetime(?), datetime(?))`,
		sess.ID, sess.ProjectPath, sess.Title, sess.Model,
		sess.CreatedAt.UTC().Format(time.RFC3339),
		sess.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

const sessionColumns = `id, project_path, title, model,
	COALESCE(input_tokens,0), COALESCE(output_tokens,0),
	COALESCE(llm_calls,0), message_count, created_at, updated_at`

// GetSession retrieves a session by its full ID.
func (s *Store) GetSession(id string) (*domain.Session, error) {
	row := s.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// LatestSession returns the most recently updated session for a project path.
func (s *Store) LatestSession(projectPath string) (*domain.Session, error) {
	row := s.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE project_path = ? ORDER BY updated_at DESC LIMIT 1`, projectPath)
	return scanSession(row)
}

// ListSessions returns the most recent sessions for a project path, up to limit.
func (s *Store) ListSessions(projectPath string, limit int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE project_path = ? ORDER BY updated_at DESC LIMIT ?`,
		projectPath, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var sess domain.Session
		var llmCalls int
		var createdStr, updatedStr string
		if err := rows.Scan(&sess.ID, &sess.ProjectPath, &sess.Title, &sess.Model,
			&sess.InputTokens, &sess.OutputTokens, &llmCalls,
			&sess.MessageCount, &createdStr, &updatedStr); err != nil {
			return nil, err
		}
		sess.CreatedAt = parseDBTime(createdStr)
		sess.UpdatedAt = parseDBTime(updatedStr)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session and its messages (via ON DELETE CASCADE).
func (s *Store) DeleteSession(id string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// UpdateSessionTitle sets the title of a session.
func (s *Store) UpdateSessionTitle(id, title string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET title = ?, updated_at = datetime('now') WHERE id = ?`,
		title, id)
	return err
}

// UpdateSessionTokens sets the token counts for a session.
func (s *Store) UpdateSessionTokens(id string, inputTokens, outputTokens int) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET input_tokens = ?, output_tokens = ?, updated_at = datetime('now') WHERE id = ?`,
		inputTokens, outputTokens, id)
	return err
}

// UpdateSessionModel sets the model for a session.
func (s *Store) UpdateSessionModel(id, model string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET model = ?, updated_at = datetime('now') WHERE id = ?`,
		model, id)
	return err
}

// SetSessionLLMCalls records the transcript's llm_calls counter.
func (s *Store) SetSessionLLMCalls(id string, calls int) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET llm_calls = ?, updated_at = datetime('now') WHERE id = ?`,
		calls, id)
	return err
}

// SessionLLMCalls reads the llm_calls counter for a session.
func (s *Store) SessionLLMCalls(id string) (int, error) {
	var calls int
	err := s.db.QueryRow(
		`SELECT COALESCE(llm_calls,0) FROM sessions WHERE id = ?`, id).Scan(&calls)
	return calls, err
}

// TouchSession updates the session's updated_at timestamp.
func (s *Store) TouchSession(id string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET updated_at = datetime('now') WHERE id = ?`, id)
	return err
}

// ---------------------------------------------------------------------------
// Message CRUD
// ---------------------------------------------------------------------------

// AppendMessage stores a transcript entry for a session. Reasoning text is
// kept alongside the content so resumed sessions can re-render it.
func (s *Store) AppendMessage(sessionID string, m domain.TranscriptMessage, tokens int) error {
	var seq int
	row := s.db.QueryRow(
		`SELECT COALESCE(MAX(sequence), 0) FROM messages WHERE session_id = ?`, sessionID)
	if err := row.Scan(&seq); err != nil {
		return err
	}
	seq++

	content := m.Content
	contentType := "text"
	if m.HasBlocks() {
		blocksJSON, err := json.Marshal(m.Blocks)
		if err != nil {
			return fmt.Errorf("marshaling blocks: %w", err)
		}
		content = string(blocksJSON)
		contentType = "blocks"
	}

	_, err := s.db.Exec(
		`INSERT INTO messages (id, session_id, role, content, content_type, reasoning, tokens, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		domain.NewID(), sessionID, m.Role, content, contentType, m.Reasoning, tokens, seq)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE sessions SET message_count = ?, updated_at = datetime('now') WHERE id = ?`,
		seq, sessionID)
	return err
}

// GetMessages returns all messages for a session, ordered by sequence.
func (s *Store) GetMessages(sessionID string) ([]domain.TranscriptMessage, error) {
	rows, err := s.db.Query(
		`SELECT role, content, COALESCE(content_type, 'text'), COALESCE(reasoning, '')
		 FROM messages WHERE session_id = ? ORDER BY sequence`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.TranscriptMessage
	for rows.Next() {
		var m domain.TranscriptMessage
		var contentType string
		if err := rows.Scan(&m.Role, &m.Content, &contentType, &m.Reasoning); err != nil {
			return nil, err
		}
		if contentType == "blocks" {
			var blocks []domain.ContentBlock
			if err := json.Unmarshal([]byte(m.Content), &blocks); err == nil {
				m.Blocks = blocks
				var texts []string
				for _, b := range blocks {
					if b.Type == "text" {
						texts = append(texts, b.Text)
					}
				}
				m.Content = strings.Join(texts, "\n")
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageMaxSequence returns the highest message sequence for a session, or 0.
func (s *Store) MessageMaxSequence(sessionID string) (int, error) {
	var seq int
	err := s.db.QueryRow(
		`SELECT COALESCE(MAX(sequence), 0) FROM messages WHERE session_id = ?`, sessionID).
		Scan(&seq)
	return seq, err
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// SessionTitle returns the title for a session, or "Unknown" if not found.
func (s *Store) SessionTitle(id string) string {
	var title string
	err := s.db.QueryRow(`SELECT title FROM sessions WHERE id = ?`, id).Scan(&title)
	if err != nil {
		return "Unknown"
	}
	return title
}

// FindSessionByPrefix matches a session by ID prefix (at least 4 chars).
func (s *Store) FindSessionByPrefix(prefix string) (*domain.Session, error) {
	if len(prefix) < 4 {
		return nil, fmt.Errorf("session prefix too short: %q", prefix)
	}
	row := s.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE id LIKE ? || '%' ORDER BY updated_at DESC LIMIT 1`, prefix)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*domain.Session, error) {
	var sess domain.Session
	var llmCalls int
	var createdStr, updatedStr string
	err := row.Scan(&sess.ID, &sess.ProjectPath, &sess.Title, &sess.Model,
		&sess.InputTokens, &sess.OutputTokens, &llmCalls,
		&sess.MessageCount, &createdStr, &updatedStr)
	if err != nil {
		return nil, err
	}
	sess.CreatedAt = parseDBTime(createdStr)
	sess.UpdatedAt = parseDBTime(updatedStr)
	return &sess, nil
}

func parseDBTime(s string) time.Time {
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}
