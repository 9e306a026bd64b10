package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jayusctrojan/Empire-sub012/internal/chat"
)

// Cache is a local sqlite mirror of sessions and transcripts. It lets
// the UI paint a session instantly on switch while the fresh copy is
// fetched, and it powers offline search. The server copy always wins.
type Cache struct {
	dbPath     string
	db         *sql.DB
	ftsEnabled bool
	mu         sync.Mutex
}

func Open(dbPath string, rebuild bool) (*Cache, error) {
	if rebuild {
		_ = os.Remove(dbPath)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	c := &Cache{dbPath: dbPath, db: db}
	if err := c.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) initSchema() error {
	stmts := []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			title TEXT,
			message_count INTEGER,
			pending_clarifications INTEGER,
			context_summary TEXT,
			last_message_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT,
			seq INTEGER,
			role TEXT,
			content TEXT,
			sources TEXT,
			actions TEXT,
			is_clarification INTEGER,
			clarification_type TEXT,
			clarification_status TEXT,
			clarification_answer TEXT,
			rating INTEGER,
			created_at INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_seq ON messages(session_id, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return c.ensureFTSTable()
}

func (c *Cache) ensureFTSTable() error {
	var sqlDef string
	err := c.db.QueryRow(`SELECT sql FROM sqlite_master WHERE name = 'messages_fts'`).Scan(&sqlDef)
	if err == nil {
		lower := strings.ToLower(sqlDef)
		c.ftsEnabled = strings.Contains(lower, "virtual table") && strings.Contains(lower, "fts5")
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("inspect messages_fts table: %w", err)
	}

	_, err = c.db.Exec(`CREATE VIRTUAL TABLE messages_fts USING fts5(
		message_id UNINDEXED,
		session_id UNINDEXED,
		content
	);`)
	if err == nil {
		c.ftsEnabled = true
		return nil
	}

	if !strings.Contains(strings.ToLower(err.Error()), "no such module: fts5") {
		return fmt.Errorf("create messages_fts: %w", err)
	}

	// Fallback for sqlite builds without FTS5 support.
	if _, err := c.db.Exec(`CREATE TABLE IF NOT EXISTS messages_fts (
		rowid INTEGER PRIMARY KEY,
		message_id TEXT,
		session_id TEXT,
		content TEXT
	);`); err != nil {
		return fmt.Errorf("create messages_fts fallback table: %w", err)
	}
	if _, err := c.db.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_fts_session_id ON messages_fts(session_id);`); err != nil {
		return fmt.Errorf("create fallback messages_fts index: %w", err)
	}
	c.ftsEnabled = false
	return nil
}

func (c *Cache) SaveSession(s chat.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(`
		INSERT INTO sessions(id, title, message_count, pending_clarifications, context_summary, last_message_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title,
			message_count=excluded.message_count,
			pending_clarifications=excluded.pending_clarifications,
			context_summary=excluded.context_summary,
			last_message_at=excluded.last_message_at
	`, s.ID, s.Title, s.MessageCount, s.PendingClarifications, s.ContextSummary, unixOrZero(s.LastMessageAt))
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", s.ID, err)
	}
	return nil
}

// SaveMessages replaces the cached transcript of one session.
func (c *Cache) SaveMessages(sessionID string, msgs []chat.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transcript tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages_fts WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear fts for %s: %w", sessionID, err)
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear transcript for %s: %w", sessionID, err)
	}

	insertStmt, err := tx.Prepare(`
		INSERT INTO messages(id, session_id, seq, role, content, sources, actions,
			is_clarification, clarification_type, clarification_status, clarification_answer,
			rating, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare message insert: %w", err)
	}
	defer insertStmt.Close()

	for seq, m := range msgs {
		if m.Streaming {
			continue
		}
		sources, err := json.Marshal(m.Sources)
		if err != nil {
			return fmt.Errorf("encode sources for %s: %w", m.ID, err)
		}
		actions, err := json.Marshal(m.Actions)
		if err != nil {
			return fmt.Errorf("encode actions for %s: %w", m.ID, err)
		}
		if _, err := insertStmt.Exec(
			m.ID,
			sessionID,
			seq,
			string(m.Role),
			m.Content,
			string(sources),
			string(actions),
			boolToInt(m.IsClarification),
			m.ClarificationType,
			string(m.ClarificationStatus),
			m.ClarificationAnswer,
			m.Rating,
			unixOrZero(m.CreatedAt),
		); err != nil {
			return fmt.Errorf("insert message %s: %w", m.ID, err)
		}
		if strings.TrimSpace(m.Content) != "" {
			if _, err := tx.Exec(`
				INSERT INTO messages_fts(message_id, session_id, content) VALUES(?, ?, ?)
			`, m.ID, sessionID, m.Content); err != nil {
				return fmt.Errorf("insert fts row for %s: %w", m.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transcript for %s: %w", sessionID, err)
	}
	return nil
}

func (c *Cache) DeleteSession(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM messages_fts WHERE session_id = ?`,
		`DELETE FROM messages WHERE session_id = ?`,
		`DELETE FROM sessions WHERE id = ?`,
	} {
		if _, err := tx.Exec(stmt, id); err != nil {
			return fmt.Errorf("delete session %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Messages returns the cached transcript in stored order.
func (c *Cache) Messages(sessionID string) ([]chat.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query(`
		SELECT id, session_id, role, content, sources, actions,
			is_clarification, clarification_type, clarification_status, clarification_answer,
			rating, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query cached transcript: %w", err)
	}
	defer rows.Close()

	out := make([]chat.Message, 0, 64)
	for rows.Next() {
		var m chat.Message
		var role, status string
		var sources, actions string
		var isClar int
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &sources, &actions,
			&isClar, &m.ClarificationType, &status, &m.ClarificationAnswer,
			&m.Rating, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = chat.Role(role)
		m.ClarificationStatus = chat.ClarificationStatus(status)
		m.IsClarification = isClar != 0
		if createdAt > 0 {
			m.CreatedAt = time.Unix(createdAt, 0)
		}
		if sources != "" {
			_ = json.Unmarshal([]byte(sources), &m.Sources)
		}
		if actions != "" {
			_ = json.Unmarshal([]byte(actions), &m.Actions)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// Hit is one session matched by a transcript search, ranked by how
// many of its messages matched.
type Hit struct {
	SessionID string
	Title     string
	Score     int
}

func (c *Cache) Search(query string, limit int) ([]Hit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	var rows *sql.Rows
	var err error
	if c.ftsEnabled {
		rows, err = c.searchRowsFTS(query, limit)
		if err != nil {
			rows, err = c.searchRowsLike(query, limit)
		}
	} else {
		rows, err = c.searchRowsLike(query, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Hit, 0, limit)
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.SessionID, &h.Title, &h.Score); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return out, nil
}

func (c *Cache) searchRowsFTS(query string, limit int) (*sql.Rows, error) {
	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" {
		return nil, errors.New("empty fts query")
	}
	rows, err := c.db.Query(`
		SELECT s.id, COALESCE(s.title, ''), ranked.score
		FROM sessions s
		JOIN (
			SELECT session_id, COUNT(*) AS score
			FROM messages_fts
			WHERE messages_fts MATCH ?
			GROUP BY session_id
			ORDER BY score DESC
			LIMIT ?
		) ranked ON ranked.session_id = s.id
		ORDER BY ranked.score DESC, s.last_message_at DESC
	`, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("fts query failed: %w", err)
	}
	return rows, nil
}

func (c *Cache) searchRowsLike(query string, limit int) (*sql.Rows, error) {
	terms := tokenizeSearchTerms(query)
	if len(terms) == 0 {
		terms = []string{strings.ToLower(query)}
	}

	var b strings.Builder
	b.WriteString(`
		SELECT s.id, COALESCE(s.title, ''), ranked.score
		FROM sessions s
		JOIN (
			SELECT session_id, COUNT(*) AS score
			FROM messages
			WHERE `)
	args := make([]any, 0, len(terms)+1)
	for idx, term := range terms {
		if idx > 0 {
			b.WriteString(" OR ")
		}
		b.WriteString("LOWER(content) LIKE ?")
		args = append(args, "%"+term+"%")
	}
	b.WriteString(`
			GROUP BY session_id
			ORDER BY score DESC
			LIMIT ?
		) ranked ON ranked.session_id = s.id
		ORDER BY ranked.score DESC, s.last_message_at DESC
	`)
	args = append(args, limit)
	rows, err := c.db.Query(b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("like query failed: %w", err)
	}
	return rows, nil
}

func buildFTSQuery(raw string) string {
	parts := tokenizeSearchTerms(raw)
	if len(parts) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ReplaceAll(p, `"`, "")
		if p == "" {
			continue
		}
		quoted = append(quoted, fmt.Sprintf(`"%s"*`, p))
	}
	return strings.Join(quoted, " AND ")
}

func tokenizeSearchTerms(raw string) []string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(raw)))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "`\"'.,:;!?()[]{}<>|")
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
