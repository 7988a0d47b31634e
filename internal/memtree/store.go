package memtree

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // register sqlite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS memtree_nodes (
	id          INTEGER PRIMARY KEY,
	parent      INTEGER,
	has_parent  INTEGER NOT NULL,
	text        TEXT NOT NULL,
	embedding   BLOB NOT NULL,
	importance  INTEGER NOT NULL DEFAULT 0,
	level       INTEGER NOT NULL,
	created_at  INTEGER NOT NULL
);
`

// Store persists a Tree's node arena to SQLite across restarts, following
// the same embedded-cache shape as the web fetch/search cache.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if necessary) a SQLite-backed node store at dbPath.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open memtree db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// Save persists every node of tree, overwriting any prior snapshot.
func (s *Store) Save(t *Tree) error {
	if s == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM memtree_nodes"); err != nil {
		tx.Rollback()
		return fmt.Errorf("clear nodes: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO memtree_nodes
		(id, parent, has_parent, text, embedding, importance, level, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for id, node := range t.nodes {
		embBytes, err := json.Marshal(node.Embedding)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshal embedding: %w", err)
		}
		hasParent := 0
		if node.HasParent {
			hasParent = 1
		}
		if _, err := stmt.Exec(id, node.Parent, hasParent, node.Text, embBytes, int(node.Importance), node.Level, node.CreatedAt.Unix()); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert node %d: %w", id, err)
		}
	}

	return tx.Commit()
}

// Load reconstructs a Tree from a prior Save, or returns a fresh empty tree
// with dim dimensions if no snapshot exists.
func (s *Store) Load(dim int) (*Tree, error) {
	if s == nil {
		return New(dim), nil
	}

	rows, err := s.db.Query(`SELECT id, parent, has_parent, text, embedding, importance, level, created_at FROM memtree_nodes`)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	t := &Tree{nodes: make(map[NodeID]*Node), dim: dim}
	var maxID NodeID

	for rows.Next() {
		var id uint64
		var parent sql.NullInt64
		var hasParent int
		var text string
		var embBytes []byte
		var importance int
		var level int
		var createdAt int64

		if err := rows.Scan(&id, &parent, &hasParent, &text, &embBytes, &importance, &level, &createdAt); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}

		var emb []float64
		if err := json.Unmarshal(embBytes, &emb); err != nil {
			log.Warn().Err(err).Uint64("id", id).Msg("dropping memtree node with corrupt embedding")
			continue
		}

		n := &Node{
			ID:         NodeID(id),
			HasParent:  hasParent == 1,
			Text:       text,
			Embedding:  emb,
			Importance: Importance(importance),
			Level:      level,
			CreatedAt:  time.Unix(createdAt, 0),
		}
		if parent.Valid {
			n.Parent = NodeID(parent.Int64)
		}
		t.nodes[n.ID] = n
		if n.ID > maxID {
			maxID = n.ID
		}
	}

	if _, ok := t.nodes[rootID]; !ok {
		return New(dim), nil
	}

	// Rebuild children lists from parent pointers.
	for id, n := range t.nodes {
		if id == rootID || !n.HasParent {
			continue
		}
		if parent, ok := t.nodes[n.Parent]; ok {
			parent.Children = append(parent.Children, id)
		}
	}

	t.nextID = maxID + 1
	return t, nil
}
