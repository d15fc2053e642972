// Package store persists memory record metadata in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the relational half of the memory engine. Vectors live
// in the vector index; every row here has exactly one index entry with
// the same id.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the metadata database.
// WAL mode keeps concurrent hook processes from serializing on reads;
// busy_timeout bounds writer waits instead of failing immediately.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(2000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			project_key TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			importance REAL NOT NULL DEFAULT 0,
			tags TEXT NOT NULL DEFAULT '[]',
			metadata TEXT NOT NULL DEFAULT '{}',
			session_id TEXT,
			created_at TEXT NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0,
			last_accessed TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_memories_project_type ON memories(project_key, type);`,
		`CREATE INDEX IF NOT EXISTS idx_memories_project_created ON memories(project_key, created_at);`,
		`CREATE TABLE IF NOT EXISTS memory_stats (
			project_key TEXT PRIMARY KEY,
			total_memories INTEGER NOT NULL DEFAULT 0,
			last_updated TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			project_key TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			summary TEXT,
			memory_count INTEGER NOT NULL DEFAULT 0
		);`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Insert stores a record. Inserting the same content-hash id again is an
// idempotent replace, matching the exact-duplicate capture path.
func (s *SQLiteStore) Insert(r *Record) error {
	if r.ID == "" || r.ProjectKey == "" {
		return fmt.Errorf("record requires id and project key")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	tagsJSON, err := json.Marshal(r.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	metaJSON, err := json.Marshal(r.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `INSERT OR REPLACE INTO memories
		(id, project_key, type, content, importance, tags, metadata, session_id, created_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE((SELECT access_count FROM memories WHERE id = ?), 0))`
	_, err = s.db.Exec(query,
		r.ID, r.ProjectKey, r.Type, r.Content, r.Importance,
		string(tagsJSON), string(metaJSON), r.SessionID,
		r.CreatedAt.UTC().Format(time.RFC3339Nano), r.ID)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}

	return s.updateStats(r.ProjectKey)
}

func (s *SQLiteStore) scanRecord(row interface{ Scan(...any) error }) (*Record, error) {
	var r Record
	var tagsJSON, metaJSON, createdAt string
	var sessionID, lastAccessed sql.NullString

	err := row.Scan(&r.ID, &r.ProjectKey, &r.Type, &r.Content, &r.Importance,
		&tagsJSON, &metaJSON, &sessionID, &createdAt, &r.AccessCount, &lastAccessed)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tagsJSON), &r.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &r.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	r.SessionID = sessionID.String
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if lastAccessed.Valid {
		r.LastAccessed, _ = time.Parse(time.RFC3339Nano, lastAccessed.String)
	}
	return &r, nil
}

const recordColumns = `id, project_key, type, content, importance, tags, metadata, session_id, created_at, access_count, last_accessed`

// Get returns the record with the given id within one project, or
// ErrNotFound. The project key is part of the lookup so an id from
// another project never resolves.
func (s *SQLiteStore) Get(projectKey, id string) (*Record, error) {
	row := s.db.QueryRow(`SELECT `+recordColumns+` FROM memories WHERE id = ? AND project_key = ?`, id, projectKey)
	r, err := s.scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return r, nil
}

// Query returns records for one project, most recent first. The project
// key is part of every lookup so cross-project reads are impossible.
func (s *SQLiteStore) Query(projectKey string, f Filters, limit int) ([]*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM memories WHERE project_key = ?`
	args := []any{projectKey}

	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, f.Type)
	}
	if f.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, f.SessionID)
	}
	if f.MinImportance > 0 {
		query += ` AND importance >= ?`
		args = append(args, f.MinImportance)
	}
	if !f.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}
	if !f.Until.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, f.Until.UTC().Format(time.RFC3339Nano))
	}

	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r, err := s.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		// Tag membership is checked post-scan; tags are a small JSON set.
		if f.Tag != "" && !hasTag(r.Tags, f.Tag) {
			continue
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, want) {
			return true
		}
	}
	return false
}

// Delete removes a record from one project. It reports whether a row
// existed; an id owned by a different project is left untouched.
func (s *SQLiteStore) Delete(projectKey, id string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM memories WHERE id = ? AND project_key = ?`, id, projectKey)
	if err != nil {
		return false, fmt.Errorf("failed to delete record: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	return true, s.updateStats(projectKey)
}

// DeleteProject removes every record in a project and returns the count.
func (s *SQLiteStore) DeleteProject(projectKey string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM memories WHERE project_key = ?`, projectKey)
	if err != nil {
		return 0, fmt.Errorf("failed to clear project: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), s.updateStats(projectKey)
}

// TouchAccess bumps access counters for retrieved records within one
// project.
func (s *SQLiteStore) TouchAccess(projectKey string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, id := range ids {
		_, err := s.db.Exec(
			`UPDATE memories SET access_count = access_count + 1, last_accessed = ? WHERE id = ? AND project_key = ?`,
			now, id, projectKey)
		if err != nil {
			return fmt.Errorf("failed to touch record %s: %w", id, err)
		}
	}
	return nil
}

// Stats aggregates counts and access averages per type.
func (s *SQLiteStore) Stats(projectKey string) (*ProjectStats, error) {
	rows, err := s.db.Query(`
		SELECT type, COUNT(*), AVG(access_count)
		FROM memories WHERE project_key = ?
		GROUP BY type`, projectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	stats := &ProjectStats{ProjectKey: projectKey, ByType: make(map[string]TypeStat)}
	for rows.Next() {
		var typ string
		var count int
		var avg sql.NullFloat64
		if err := rows.Scan(&typ, &count, &avg); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats.ByType[typ] = TypeStat{Count: count, AvgAccess: avg.Float64}
		stats.Total += count
	}
	return stats, rows.Err()
}

func (s *SQLiteStore) updateStats(projectKey string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO memory_stats (project_key, total_memories, last_updated)
		VALUES (?, (SELECT COUNT(*) FROM memories WHERE project_key = ?), ?)`,
		projectKey, projectKey, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to update stats: %w", err)
	}
	return nil
}

// StartSession records a session start if it is not already known.
func (s *SQLiteStore) StartSession(sess *Session) error {
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO sessions (id, project_key, started_at)
		VALUES (?, ?, ?)`,
		sess.ID, sess.ProjectKey, sess.StartedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	return nil
}

// EndSession closes a session with its summary.
func (s *SQLiteStore) EndSession(id, summary string, memoryCount int) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET ended_at = ?, summary = ?, memory_count = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), summary, memoryCount, id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

// GetSession returns a session row, or ErrNotFound.
func (s *SQLiteStore) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT id, project_key, started_at, ended_at, summary, memory_count
		FROM sessions WHERE id = ?`, id)

	var sess Session
	var startedAt string
	var endedAt, summary sql.NullString
	err := row.Scan(&sess.ID, &sess.ProjectKey, &startedAt, &endedAt, &summary, &sess.MemoryCount)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	sess.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if endedAt.Valid {
		sess.EndedAt, _ = time.Parse(time.RFC3339Nano, endedAt.String)
	}
	sess.Summary = summary.String
	return &sess, nil
}
