package persist

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed persistence adapter. One row per
// (workspace_id, path) holds the latest materialized text; save_history
// records every committed save for auditing.
type Store struct {
	db *sql.DB
}

// FileInfo describes one persisted file.
type FileInfo struct {
	Path      string    `json:"path"`
	Size      int       `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SaveRecord is one committed save.
type SaveRecord struct {
	ContentHash string    `json:"content_hash"`
	Size        int       `json:"size"`
	SavedAt     time.Time `json:"saved_at"`
}

// Open initializes the store at dbPath, creating the directory and schema
// as needed.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	log.Printf("Store initialized at %s", dbPath)
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS files (
		workspace_id TEXT NOT NULL,
		path TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (workspace_id, path)
	);

	CREATE TABLE IF NOT EXISTS save_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workspace_id TEXT NOT NULL,
		path TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		saved_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_save_history_file ON save_history(workspace_id, path, saved_at DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the persisted content for a file, or ErrNotFound.
func (s *Store) Load(ctx context.Context, workspaceID, path string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		"SELECT content FROM files WHERE workspace_id = ? AND path = ?",
		workspaceID, path,
	).Scan(&content)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return content, nil
}

// Save upserts the file content and appends a history record.
func (s *Store) Save(ctx context.Context, workspaceID, path, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (workspace_id, path, content, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(workspace_id, path) DO UPDATE SET
			content = excluded.content,
			updated_at = CURRENT_TIMESTAMP
	`, workspaceID, path, content)
	if err != nil {
		return err
	}

	hash := sha256.Sum256([]byte(content))
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO save_history (workspace_id, path, content_hash, size)
		VALUES (?, ?, ?, ?)
	`, workspaceID, path, hex.EncodeToString(hash[:]), len(content))
	return err
}

// ListFiles returns the persisted files in a workspace, most recently
// updated first.
func (s *Store) ListFiles(ctx context.Context, workspaceID string) ([]FileInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, LENGTH(content), updated_at FROM files
		WHERE workspace_id = ?
		ORDER BY updated_at DESC
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []FileInfo
	for rows.Next() {
		var f FileInfo
		if err := rows.Scan(&f.Path, &f.Size, &f.UpdatedAt); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// History returns the most recent saves for a file, newest first.
func (s *Store) History(ctx context.Context, workspaceID, path string, limit int) ([]SaveRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT content_hash, size, saved_at FROM save_history
		WHERE workspace_id = ? AND path = ?
		ORDER BY saved_at DESC, id DESC
		LIMIT ?
	`, workspaceID, path, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SaveRecord
	for rows.Next() {
		var r SaveRecord
		if err := rows.Scan(&r.ContentHash, &r.Size, &r.SavedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Stats returns store-wide counters for the management API.
func (s *Store) Stats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var fileCount int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM files").Scan(&fileCount); err != nil {
		return nil, err
	}
	stats["file_count"] = fileCount

	var workspaceCount int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT workspace_id) FROM files").Scan(&workspaceCount); err != nil {
		return nil, err
	}
	stats["workspace_count"] = workspaceCount

	var saveCount int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM save_history").Scan(&saveCount); err != nil {
		return nil, err
	}
	stats["save_count"] = saveCount

	return stats, nil
}
