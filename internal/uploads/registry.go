// ABOUTME: SQLite registry of uploaded reference documents using modernc.org/sqlite
// ABOUTME: Tracks file metadata on disk; canonical state keeps only DocumentRefs

package uploads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrUnsupportedType is returned for file extensions outside the allow list.
var ErrUnsupportedType = errors.New("unsupported document type")

// AllowedExtensions lists the document types accepted for upload.
var AllowedExtensions = []string{".pdf", ".docx", ".csv"}

// Document is one uploaded reference file.
type Document struct {
	ID         string
	SessionKey string
	Filename   string
	StoredPath string
	MimeType   string
	Size       int64
	UploadedAt time.Time
}

// Registry persists document metadata in SQLite. The files themselves live
// on disk; the snapshot only carries references.
type Registry struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRegistry opens (or creates) the registry database at path. The schema
// is created automatically and parent directories are created if needed.
func NewRegistry(path string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "uploads")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating registry directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening registry database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	r := &Registry{db: db, logger: logger}
	if err := r.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("upload registry initialized", "path", path)
	return r, nil
}

func (r *Registry) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			session_key TEXT NOT NULL,
			filename TEXT NOT NULL,
			stored_path TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			uploaded_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_documents_session ON documents(session_key);
	`
	_, err := r.db.Exec(schema)
	return err
}

// ValidateExtension checks a filename against the allow list and returns
// the lowercased extension.
func ValidateExtension(filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return ext, nil
		}
	}
	return "", fmt.Errorf("%w: %q (allowed: %s)", ErrUnsupportedType, ext, strings.Join(AllowedExtensions, ", "))
}

// Save records an uploaded document.
func (r *Registry) Save(ctx context.Context, doc *Document) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO documents (id, session_key, filename, stored_path, mime_type, size_bytes, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.SessionKey, doc.Filename, doc.StoredPath, doc.MimeType, doc.Size, doc.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}

	r.logger.Info("document registered",
		"document_id", doc.ID,
		"filename", doc.Filename,
		"size", doc.Size,
	)
	return nil
}

// BySession returns documents uploaded under a session key, oldest first.
func (r *Registry) BySession(ctx context.Context, sessionKey string) ([]*Document, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_key, filename, stored_path, mime_type, size_bytes, uploaded_at
		FROM documents WHERE session_key = ? ORDER BY uploaded_at ASC`,
		sessionKey,
	)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// All returns every registered document, oldest first.
func (r *Registry) All(ctx context.Context) ([]*Document, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_key, filename, stored_path, mime_type, size_bytes, uploaded_at
		FROM documents ORDER BY uploaded_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

func scanDocuments(rows *sql.Rows) ([]*Document, error) {
	var docs []*Document
	for rows.Next() {
		doc := &Document{}
		if err := rows.Scan(&doc.ID, &doc.SessionKey, &doc.Filename, &doc.StoredPath, &doc.MimeType, &doc.Size, &doc.UploadedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Clear removes every document record. Used by state reset.
func (r *Registry) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM documents"); err != nil {
		return fmt.Errorf("clearing documents: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	return r.db.Close()
}
