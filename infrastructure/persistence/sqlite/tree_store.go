// Package sqlite keeps learning trees in a local SQLite file so the voice
// client can work offline.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"learngraph/application/ports"
	pkgerrors "learngraph/pkg/errors"
)

// openDB is a package-level var to allow test injection
var openDB = sql.Open

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

// TreeStore implements ports.TreeStore on SQLite
type TreeStore struct {
	db     *sql.DB
	logger *zap.Logger
}

var (
	_ ports.TreeStore   = (*TreeStore)(nil)
	_ ports.TreeCreator = (*TreeStore)(nil)
)

// Open opens (creating if needed) the database at path and migrates it
func Open(path string, logger *zap.Logger) (*TreeStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create data dir: %w", err)
		}
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	// one writer; also keeps an in-memory database on a single connection
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: pragma %q: %w", p, err)
		}
	}

	s := &TreeStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migration: %w", err)
	}
	return s, nil
}

// Close closes the database
func (s *TreeStore) Close() error {
	return s.db.Close()
}

func (s *TreeStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS trees (
			user_id    TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS tree_nodes (
			user_id  TEXT NOT NULL REFERENCES trees(user_id) ON DELETE CASCADE,
			id       TEXT NOT NULL,
			position INTEGER NOT NULL,
			type     TEXT NOT NULL,
			title    TEXT NOT NULL,
			x        REAL NOT NULL,
			y        REAL NOT NULL,
			due_date TEXT NOT NULL DEFAULT '',
			content  TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (user_id, id)
		);

		CREATE TABLE IF NOT EXISTS tree_edges (
			user_id  TEXT NOT NULL REFERENCES trees(user_id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			from_id  TEXT NOT NULL,
			to_id    TEXT NOT NULL,
			PRIMARY KEY (user_id, from_id, to_id)
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GetTree loads the user's tree
func (s *TreeStore) GetTree(ctx context.Context, userID string) (*ports.TreeRecord, error) {
	tree := &ports.TreeRecord{
		UserID: userID,
		Nodes:  []ports.TreeNodeRecord{},
		Edges:  []ports.TreeEdgeRecord{},
	}

	var created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, updated_at FROM trees WHERE user_id = ?`, userID,
	).Scan(&created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.NewNotFoundError("tree")
	}
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("GetTree", err)
	}
	if tree.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, pkgerrors.NewDatabaseError("GetTree", err)
	}
	if tree.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, pkgerrors.NewDatabaseError("GetTree", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, title, x, y, due_date, content FROM tree_nodes
		 WHERE user_id = ? ORDER BY position`, userID)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("GetTree", err)
	}
	for rows.Next() {
		var n ports.TreeNodeRecord
		if err := rows.Scan(&n.ID, &n.Type, &n.Title, &n.X, &n.Y, &n.DueDate, &n.Content); err != nil {
			rows.Close()
			return nil, pkgerrors.NewDatabaseError("GetTree", err)
		}
		tree.Nodes = append(tree.Nodes, n)
	}
	if err := closeRows(rows); err != nil {
		return nil, pkgerrors.NewDatabaseError("GetTree", err)
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT from_id, to_id FROM tree_edges WHERE user_id = ? ORDER BY position`, userID)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("GetTree", err)
	}
	for rows.Next() {
		var e ports.TreeEdgeRecord
		if err := rows.Scan(&e.From, &e.To); err != nil {
			rows.Close()
			return nil, pkgerrors.NewDatabaseError("GetTree", err)
		}
		tree.Edges = append(tree.Edges, e)
	}
	if err := closeRows(rows); err != nil {
		return nil, pkgerrors.NewDatabaseError("GetTree", err)
	}
	return tree, nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}

// PutTree replaces the user's tree in one transaction
func (s *TreeStore) PutTree(ctx context.Context, tree *ports.TreeRecord) error {
	if tree == nil || tree.UserID == "" {
		return pkgerrors.NewValidationError("tree userId is required")
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trees (user_id, created_at, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(user_id) DO UPDATE SET updated_at = excluded.updated_at`,
			tree.UserID, formatTime(tree.CreatedAt), formatTime(tree.UpdatedAt),
		); err != nil {
			return err
		}
		return replaceContents(ctx, tx, tree)
	})
	if err != nil {
		return pkgerrors.NewDatabaseError("PutTree", err)
	}

	s.logger.Debug("Tree saved locally",
		zap.String("userID", tree.UserID),
		zap.Int("nodeCount", len(tree.Nodes)),
		zap.Int("edgeCount", len(tree.Edges)),
	)
	return nil
}

// CreateTreeIfAbsent inserts tree only if the user has none
func (s *TreeStore) CreateTreeIfAbsent(ctx context.Context, tree *ports.TreeRecord) (bool, error) {
	if tree == nil || tree.UserID == "" {
		return false, pkgerrors.NewValidationError("tree userId is required")
	}
	created := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO trees (user_id, created_at, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(user_id) DO NOTHING`,
			tree.UserID, formatTime(tree.CreatedAt), formatTime(tree.UpdatedAt),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		created = true
		return replaceContents(ctx, tx, tree)
	})
	if err != nil {
		return false, pkgerrors.NewDatabaseError("CreateTree", err)
	}
	return created, nil
}

func replaceContents(ctx context.Context, tx *sql.Tx, tree *ports.TreeRecord) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM tree_edges WHERE user_id = ?`, tree.UserID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tree_nodes WHERE user_id = ?`, tree.UserID); err != nil {
		return err
	}

	nodeStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tree_nodes (user_id, id, position, type, title, x, y, due_date, content)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer nodeStmt.Close()
	for i, n := range tree.Nodes {
		if _, err := nodeStmt.ExecContext(ctx, tree.UserID, n.ID, i, n.Type, n.Title, n.X, n.Y, n.DueDate, n.Content); err != nil {
			return fmt.Errorf("insert node %s: %w", n.ID, err)
		}
	}

	edgeStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tree_edges (user_id, position, from_id, to_id) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer edgeStmt.Close()
	for i, e := range tree.Edges {
		if _, err := edgeStmt.ExecContext(ctx, tree.UserID, i, e.From, e.To); err != nil {
			return fmt.Errorf("insert edge %s->%s: %w", e.From, e.To, err)
		}
	}
	return nil
}

func (s *TreeStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
