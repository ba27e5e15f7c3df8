package graph

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore persists the graph in the shared project database. The
// graph_nodes and graph_links tables must already exist (created via the
// storage package's migrations).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB for graph operations.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Nodes() ([]Node, error) {
	rows, err := s.db.Query("SELECT id, type, label, data_json FROM graph_nodes ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var n Node
		var dataJSON string
		if err := rows.Scan(&n.ID, &n.Type, &n.Label, &dataJSON); err != nil {
			return nil, err
		}
		if dataJSON != "" && dataJSON != "{}" {
			if err := json.Unmarshal([]byte(dataJSON), &n.Data); err != nil {
				return nil, fmt.Errorf("decoding node %s data: %w", n.ID, err)
			}
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (s *SQLiteStore) Links() ([]Link, error) {
	rows, err := s.db.Query("SELECT source_id, target_id, label FROM graph_links ORDER BY rowid ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.Source, &l.Target, &l.Label); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (s *SQLiteStore) UpsertNode(n Node) error {
	dataJSON := "{}"
	if n.Data != nil {
		b, err := json.Marshal(n.Data)
		if err != nil {
			return fmt.Errorf("encoding node data: %w", err)
		}
		dataJSON = string(b)
	}
	_, err := s.db.Exec(`
		INSERT INTO graph_nodes (id, type, label, data_json, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET type = excluded.type, label = excluded.label, data_json = excluded.data_json`,
		n.ID, n.Type, n.Label, dataJSON, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *SQLiteStore) AppendLink(l Link) error {
	_, err := s.db.Exec(
		"INSERT INTO graph_links (source_id, target_id, label, created_at) VALUES (?, ?, ?, ?)",
		l.Source, l.Target, l.Label, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}
