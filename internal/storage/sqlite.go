package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding the project state: dataset records,
// scraping entries, graph nodes/links, and the conversation log.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "hargraph.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection so sibling packages (e.g. the graph
// store) can share it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- HAR records ---

// ReplaceHarRecords swaps the full dataset for a freshly imported capture.
func (s *Store) ReplaceHarRecords(records []HarRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning replace transaction: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM har_records"); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing har records: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO har_records (idx, id, method, url, status, size, mime_type, response_body_text, selected)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(r.Idx, r.ID, r.Method, r.URL, r.Status, r.Size, r.MimeType, r.ResponseBodyText, boolToInt(r.Selected)); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting har record %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// ListHarRecords returns the dataset in capture order.
func (s *Store) ListHarRecords() ([]HarRecord, error) {
	rows, err := s.db.Query(`
		SELECT idx, id, method, url, status, size, mime_type, response_body_text, selected
		FROM har_records ORDER BY idx ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []HarRecord
	for rows.Next() {
		var r HarRecord
		var selected int
		if err := rows.Scan(&r.Idx, &r.ID, &r.Method, &r.URL, &r.Status, &r.Size, &r.MimeType, &r.ResponseBodyText, &selected); err != nil {
			return nil, err
		}
		r.Selected = selected != 0
		records = append(records, r)
	}
	return records, rows.Err()
}

// SetHarRecordSelected flips a record's membership in the active subset.
func (s *Store) SetHarRecordSelected(id string, selected bool) error {
	res, err := s.db.Exec("UPDATE har_records SET selected = ? WHERE id = ?", boolToInt(selected), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Scraping entries ---

const scrapingEntryColumns = `id, source_type_key, url, original_request, original_response,
	filterer_json, converter_code, final_clean_response, processing_status, is_deleted, created_at, updated_at`

func (s *Store) SaveScrapingEntry(e ScrapingEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO scraping_entries (`+scrapingEntryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SourceTypeKey, e.URL, e.OriginalRequest, e.OriginalResponse,
		e.FiltererJSON, e.ConverterCode, e.FinalCleanResponse, e.ProcessingStatus,
		boolToInt(e.IsDeleted),
		e.CreatedAt.UTC().Format(time.RFC3339), e.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetScrapingEntry(id string) (ScrapingEntry, error) {
	row := s.db.QueryRow(`SELECT `+scrapingEntryColumns+` FROM scraping_entries WHERE id = ?`, id)
	return scanScrapingEntry(row)
}

// UpdateScrapingEntry rewrites all mutable fields of an existing row.
func (s *Store) UpdateScrapingEntry(e ScrapingEntry) error {
	res, err := s.db.Exec(`
		UPDATE scraping_entries
		SET filterer_json = ?, converter_code = ?, final_clean_response = ?,
		    processing_status = ?, is_deleted = ?, updated_at = ?
		WHERE id = ?`,
		e.FiltererJSON, e.ConverterCode, e.FinalCleanResponse,
		e.ProcessingStatus, boolToInt(e.IsDeleted), e.UpdatedAt.UTC().Format(time.RFC3339),
		e.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListScrapingEntries returns all rows, including soft-deleted ones (needed
// for backup export); callers filter as appropriate.
func (s *Store) ListScrapingEntries() ([]ScrapingEntry, error) {
	rows, err := s.db.Query(`SELECT ` + scrapingEntryColumns + ` FROM scraping_entries ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ScrapingEntry
	for rows.Next() {
		e, err := scanScrapingEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListScrapingGroups returns one representative row per source type key,
// excluding soft-deleted rows. The representative is the most recently
// updated row in the group.
func (s *Store) ListScrapingGroups() ([]GroupSummary, error) {
	rows, err := s.db.Query(`
		SELECT source_type_key, cnt, processing_status, filterer_json FROM (
			SELECT source_type_key, processing_status, filterer_json,
				COUNT(*) OVER (PARTITION BY source_type_key) AS cnt,
				ROW_NUMBER() OVER (PARTITION BY source_type_key ORDER BY updated_at DESC, id DESC) AS rn
			FROM scraping_entries
			WHERE is_deleted = 0
		) WHERE rn = 1
		ORDER BY source_type_key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []GroupSummary
	for rows.Next() {
		var g GroupSummary
		if err := rows.Scan(&g.SourceTypeKey, &g.Count, &g.Status, &g.FiltererJSON); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// FindFinalInGroup returns the most recent non-deleted row in the group that
// reached final_response status.
func (s *Store) FindFinalInGroup(sourceTypeKey string) (ScrapingEntry, error) {
	row := s.db.QueryRow(`
		SELECT `+scrapingEntryColumns+` FROM scraping_entries
		WHERE source_type_key = ? AND processing_status = 'final_response' AND is_deleted = 0
		ORDER BY updated_at DESC, id DESC LIMIT 1`, sourceTypeKey)
	return scanScrapingEntry(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScrapingEntry(row rowScanner) (ScrapingEntry, error) {
	var e ScrapingEntry
	var isDeleted int
	var createdAt, updatedAt string
	err := row.Scan(&e.ID, &e.SourceTypeKey, &e.URL, &e.OriginalRequest, &e.OriginalResponse,
		&e.FiltererJSON, &e.ConverterCode, &e.FinalCleanResponse, &e.ProcessingStatus,
		&isDeleted, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return ScrapingEntry{}, ErrNotFound
	}
	if err != nil {
		return ScrapingEntry{}, err
	}
	e.IsDeleted = isDeleted != 0
	if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return ScrapingEntry{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return ScrapingEntry{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return e, nil
}

// --- Chat messages ---

func (s *Store) AppendChatMessage(m ChatMessage) error {
	toolCalls := m.ToolCallsJSON
	if toolCalls == "" {
		toolCalls = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO chat_messages (id, role, text, tool_calls_json, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.Role, m.Text, toolCalls, m.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) ListChatMessages() ([]ChatMessage, error) {
	rows, err := s.db.Query(`
		SELECT id, role, text, tool_calls_json, created_at
		FROM chat_messages ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var createdAt string
		if err := rows.Scan(&m.ID, &m.Role, &m.Text, &m.ToolCallsJSON, &createdAt); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
