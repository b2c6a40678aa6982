package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alnah/go-psd2img"
	"github.com/alnah/go-psd2img/internal/fileutil"
)

// SQLStore is a Store backed by SQLite.
type SQLStore struct {
	db *sql.DB
}

// OpenSQL opens or creates a SQLite database at path and applies the schema.
// The parent directory is created when missing.
func OpenSQL(path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, fileutil.DirPermissions); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Workers save records concurrently; one writer connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SQLStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	var v int
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", schemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case v != schemaVersion:
		return fmt.Errorf("unknown schema version %d", v)
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// SaveProject inserts or replaces a project row.
func (s *SQLStore) SaveProject(ctx context.Context, p *psd2img.Project) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: missing id", psd2img.ErrInvalidProject)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, source_path, output_dir, scales, mode, cores, status, message, width, height, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, source_path = excluded.source_path, output_dir = excluded.output_dir,
			scales = excluded.scales, mode = excluded.mode, cores = excluded.cores,
			status = excluded.status, message = excluded.message,
			width = excluded.width, height = excluded.height,
			started_at = excluded.started_at, finished_at = excluded.finished_at`,
		p.ID, p.Name, p.SourcePath, p.OutputDir, strings.Join(p.Scales, ","), string(p.Mode), p.Cores,
		string(p.Status), nullable(p.Message), p.Width, p.Height, formatTime(p.StartedAt), formatTime(p.FinishedAt))
	if err != nil {
		return fmt.Errorf("save project %s: %w", p.ID, err)
	}
	return nil
}

// SaveRecord inserts a record. The project row must exist.
func (s *SQLStore) SaveRecord(ctx context.Context, r *psd2img.Record) error {
	if r == nil || r.ID == "" {
		return errors.New("record is missing an id")
	}
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO layers (id, project_id, parent_id, source_resource_id, name, kind, x, y, width, height, content, image_path, hidden, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProjectID, nullable(r.ParentID), nullable(r.SourceResourceID), r.Name, string(r.Kind),
		r.X, r.Y, r.Width, r.Height, nullable(r.Content), nullable(r.ImagePath), r.Hidden, string(meta))
	if err != nil {
		return fmt.Errorf("save record %s: %w", r.ID, err)
	}
	return nil
}

// Project returns a project by id, or ErrNotFound.
func (s *SQLStore) Project(ctx context.Context, id string) (*psd2img.Project, error) {
	var (
		p                 psd2img.Project
		scales, mode, st  string
		message           sql.NullString
		started, finished sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, source_path, output_dir, scales, mode, cores, status, message, width, height, started_at, finished_at
		FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.SourcePath, &p.OutputDir, &scales, &mode, &p.Cores, &st, &message,
			&p.Width, &p.Height, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", id, err)
	}
	if scales != "" {
		p.Scales = strings.Split(scales, ",")
	}
	p.Mode = psd2img.Mode(mode)
	p.Status = psd2img.Status(st)
	p.Message = nullStr(message)
	p.StartedAt = parseTime(started)
	p.FinishedAt = parseTime(finished)
	return &p, nil
}

// Records returns the records of a project in insertion order.
func (s *SQLStore) Records(ctx context.Context, projectID string) ([]*psd2img.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, parent_id, source_resource_id, name, kind, x, y, width, height, content, image_path, hidden, metadata
		FROM layers WHERE project_id = ? ORDER BY seq`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*psd2img.Record
	for rows.Next() {
		var (
			r                       psd2img.Record
			kind, meta              string
			parent, source, content sql.NullString
			imagePath               sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ProjectID, &parent, &source, &r.Name, &kind, &r.X, &r.Y,
			&r.Width, &r.Height, &content, &imagePath, &r.Hidden, &meta); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Kind = psd2img.Kind(kind)
		r.ParentID = nullStr(parent)
		r.SourceResourceID = nullStr(source)
		r.Content = nullStr(content)
		r.ImagePath = nullStr(imagePath)
		if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", r.ID, err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return out, nil
}

// DeleteProject removes a project and, by cascade, its records.
func (s *SQLStore) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStr(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseTime(ns sql.NullString) time.Time {
	if !ns.Valid {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
