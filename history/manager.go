package history

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Manager handles dual-write exchange logging (JSONL + SQLite).
type Manager struct {
	db          *sql.DB
	jsonlPath   string
	searchAvail bool
	mu          sync.Mutex
}

// New creates a new history manager
func New(dbPath, jsonlPath string) (*Manager, error) {
	db, ftsEnabled, err := initDB(dbPath)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		db:          db,
		jsonlPath:   jsonlPath,
		searchAvail: ftsEnabled,
	}

	// Trigger lazy migration in background
	go m.EnsureMigrated()

	return m, nil
}

func (m *Manager) Close() {
	if m.db != nil {
		m.db.Close()
	}
}

// EnsureMigrated checks if DB is empty and if so, imports from JSONL
func (m *Manager) EnsureMigrated() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int
	err := m.db.QueryRow("SELECT count(*) FROM sessions").Scan(&count)
	if err == nil && count > 0 {
		return // Already populated
	}

	if _, err := os.Stat(m.jsonlPath); os.IsNotExist(err) {
		return // Nothing to migrate
	}

	m.migrate()
}

func (m *Manager) migrate() {
	f, err := os.Open(m.jsonlPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	// Increase buffer size for large lines
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	tx, err := m.db.Begin()
	if err != nil {
		return
	}
	defer tx.Rollback()

	stmtSession, _ := tx.Prepare("INSERT OR IGNORE INTO sessions(session_id, created_at, model, summary) VALUES(?, ?, ?, ?)")
	stmtExchange, _ := tx.Prepare("INSERT INTO exchanges(session_id, request_id, query, agent, answer, timed_out, created_at) VALUES(?, ?, ?, ?, ?, ?, ?)")
	defer stmtSession.Close()
	defer stmtExchange.Close()

	for scanner.Scan() {
		var e ExchangeEvent
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if e.SessionID == "" {
			continue
		}

		stmtSession.Exec(e.SessionID, e.TS, e.Model, summarize(e.Query))
		stmtExchange.Exec(e.SessionID, e.RequestID, e.Query, e.Agent, e.Answer, boolToInt(e.TimedOut), e.TS)
	}

	tx.Commit()
}

func summarize(query string) string {
	if len(query) > 100 {
		return query[:100] + "..."
	}
	return query
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// === Write Methods ===

// SaveExchange records one settled submit/poll cycle.
func (m *Manager) SaveExchange(data ExchangeEvent) error {
	// 1. Write to JSONL
	if err := m.appendJSONL(data); err != nil {
		return err
	}

	// 2. Write to DB
	_, err := m.db.Exec("INSERT OR IGNORE INTO sessions(session_id, created_at, model, summary) VALUES(?, ?, ?, ?)",
		data.SessionID, data.TS, data.Model, summarize(data.Query))
	if err != nil {
		return err
	}

	_, err = m.db.Exec("INSERT INTO exchanges(session_id, request_id, query, agent, answer, timed_out, created_at) VALUES(?, ?, ?, ?, ?, ?, ?)",
		data.SessionID, data.RequestID, data.Query, data.Agent, data.Answer, boolToInt(data.TimedOut), data.TS)
	return err
}

func (m *Manager) appendJSONL(data interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := os.OpenFile(m.jsonlPath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = f.Write(append(bytes, '\n'))
	return err
}

// === Read Methods ===

func (m *Manager) Search(query string) ([]SearchResult, error) {
	if !m.searchAvail {
		return nil, fmt.Errorf("search is unavailable (binary compiled without FTS5 support)")
	}

	// Ensure migration is done if this is the first search
	m.EnsureMigrated()

	ftsQuery := ParseQuery(query)
	if ftsQuery == "" {
		return nil, fmt.Errorf("empty query")
	}

	rows, err := m.db.Query(`
		SELECT session_id,
		       highlight(exchanges_fts, 0, '`+hlOn+`', '`+hlOff+`'),
		       highlight(exchanges_fts, 1, '`+hlOn+`', '`+hlOff+`')
		FROM exchanges_fts
		WHERE exchanges_fts MATCH ?
		ORDER BY rank
		LIMIT 50`, ftsQuery)

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var hlQuery, hlAnswer string
		if err := rows.Scan(&r.SessionID, &hlQuery, &hlAnswer); err != nil {
			continue
		}
		// Show the side that actually matched (highlight markers present)
		if strings.Contains(hlAnswer, hlOn) {
			r.Field = "answer"
			r.Preview = hlAnswer
		} else {
			r.Field = "query"
			r.Preview = hlQuery
		}

		var ts int64
		m.db.QueryRow("SELECT created_at FROM sessions WHERE session_id = ?", r.SessionID).Scan(&ts)
		r.Timestamp = time.Unix(ts, 0)

		results = append(results, r)
	}
	return results, nil
}

// ANSI highlight markers for FTS match previews.
const (
	hlOn  = "\x1b[1;31m"
	hlOff = "\x1b[0m"
)

// GetSessionExchanges returns the local log for one session in
// insertion order.
func (m *Manager) GetSessionExchanges(sessionID string) ([]Exchange, error) {
	rows, err := m.db.Query("SELECT session_id, request_id, query, agent, answer, timed_out, created_at FROM exchanges WHERE session_id = ? ORDER BY id ASC", sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exchanges []Exchange
	for rows.Next() {
		var e Exchange
		var timedOut int
		var ts int64
		if err := rows.Scan(&e.SessionID, &e.RequestID, &e.Query, &e.Agent, &e.Answer, &timedOut, &ts); err != nil {
			continue
		}
		e.TimedOut = timedOut != 0
		e.Timestamp = time.Unix(ts, 0)
		exchanges = append(exchanges, e)
	}
	return exchanges, nil
}

func (m *Manager) ListRecentSessions(limit int) ([]SessionSummary, error) {
	rows, err := m.db.Query(`
		SELECT s.session_id, s.created_at, s.model, s.summary, count(e.id)
		FROM sessions s LEFT JOIN exchanges e ON e.session_id = s.session_id
		GROUP BY s.session_id
		ORDER BY s.created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []SessionSummary
	for rows.Next() {
		var s SessionSummary
		var ts int64
		if err := rows.Scan(&s.SessionID, &ts, &s.Model, &s.Summary, &s.Exchanges); err != nil {
			continue
		}
		s.Timestamp = time.Unix(ts, 0)
		sessions = append(sessions, s)
	}
	return sessions, nil
}
