package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLStore implements MetadataStore and FileStore on a single SQLite database
// with two tables, one per logical record store.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens (or creates) the catalog database and ensures the schema.
func NewSQLStore(dbPath string) (*SQLStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open catalog store: %w", err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLStore{db: db}
	if err := store.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog migration failed: %w", err)
	}
	return store, nil
}

// EnsureSchema creates both record stores if absent.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS skill_metadata (
		skill_id          TEXT PRIMARY KEY,
		name              TEXT NOT NULL,
		description       TEXT,
		short_description TEXT,
		domain            TEXT NOT NULL,
		tags              TEXT NOT NULL DEFAULT '[]',
		author            TEXT,
		version           TEXT,
		rating            REAL DEFAULT 0,
		usage_count       INTEGER DEFAULT 0,
		success_rate      REAL DEFAULT 0,
		searchable_text   TEXT,
		revision          INTEGER NOT NULL DEFAULT 1,
		updated_at        DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_metadata_domain ON skill_metadata(domain);

	CREATE TABLE IF NOT EXISTS skill_files (
		skill_id        TEXT NOT NULL,
		file_name       TEXT NOT NULL,
		file_path       TEXT NOT NULL,
		file_type       TEXT,
		file_content    TEXT,
		file_size_bytes INTEGER DEFAULT 0,
		created_at      DATETIME NOT NULL,
		PRIMARY KEY (skill_id, file_name)
	);
	CREATE INDEX IF NOT EXISTS idx_files_skill ON skill_files(skill_id);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Upsert writes a metadata record, replacing any prior record with the same
// skill_id and bumping its revision. The record is normalized first.
func (s *SQLStore) Upsert(ctx context.Context, meta *SkillMetadata) error {
	meta.Normalize()
	meta.UpdatedAt = time.Now().UTC()

	tags, err := json.Marshal(meta.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags for %s: %w", meta.SkillID, err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO skill_metadata
			(skill_id, name, description, short_description, domain, tags,
			 author, version, rating, usage_count, success_rate, searchable_text,
			 revision, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(skill_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			short_description = excluded.short_description,
			domain = excluded.domain,
			tags = excluded.tags,
			author = excluded.author,
			version = excluded.version,
			rating = excluded.rating,
			searchable_text = excluded.searchable_text,
			revision = skill_metadata.revision + 1,
			updated_at = excluded.updated_at
		RETURNING revision`,
		meta.SkillID, meta.Name, meta.Description, meta.ShortDescription,
		meta.Domain, string(tags), meta.Author, meta.Version, meta.Rating,
		meta.UsageCount, meta.SuccessRate, meta.SearchableText, meta.UpdatedAt)

	if err := row.Scan(&meta.Revision); err != nil {
		return fmt.Errorf("upsert skill %s: %w", meta.SkillID, err)
	}
	return nil
}

// Get fetches one metadata record by exact skill_id.
func (s *SQLStore) Get(ctx context.Context, skillID string) (*SkillMetadata, error) {
	row := s.db.QueryRowContext(ctx, selectMetadata+` WHERE skill_id = ?`, skillID)
	meta, err := scanMetadata(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("get skill %s: %w", skillID, ErrSkillNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get skill %s: %w", skillID, err)
	}
	return meta, nil
}

// List returns metadata records matching the attribute filter.
// Tag membership is evaluated in Go after the domain narrowing query.
func (s *SQLStore) List(ctx context.Context, filter Filter) ([]*SkillMetadata, error) {
	query := selectMetadata
	var args []any
	if filter.Domain != "" {
		query += ` WHERE domain = ?`
		args = append(args, normalizeKey(filter.Domain))
	}
	query += ` ORDER BY skill_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	var out []*SkillMetadata
	for rows.Next() {
		meta, err := scanMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("list skills: %w", err)
		}
		if !matchTags(meta, filter.Tags, filter.MatchAllTags) {
			continue
		}
		out = append(out, meta)
	}
	return out, rows.Err()
}

// ListByDomain returns the skills of one domain sorted by rating descending.
func (s *SQLStore) ListByDomain(ctx context.Context, domain string) ([]*SkillMetadata, error) {
	rows, err := s.db.QueryContext(ctx,
		selectMetadata+` WHERE domain = ? ORDER BY rating DESC, skill_id`,
		normalizeKey(domain))
	if err != nil {
		return nil, fmt.Errorf("list domain %s: %w", domain, err)
	}
	defer rows.Close()

	var out []*SkillMetadata
	for rows.Next() {
		meta, err := scanMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("list domain %s: %w", domain, err)
		}
		out = append(out, meta)
	}
	return out, rows.Err()
}

// Delete removes a skill's metadata record together with its file records.
func (s *SQLStore) Delete(ctx context.Context, skillID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete skill %s: %w", skillID, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM skill_metadata WHERE skill_id = ?`, skillID)
	if err != nil {
		return fmt.Errorf("delete skill %s: %w", skillID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete skill %s: %w", skillID, ErrSkillNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM skill_files WHERE skill_id = ?`, skillID); err != nil {
		return fmt.Errorf("delete skill files %s: %w", skillID, err)
	}
	return tx.Commit()
}

// Count returns the number of metadata records.
func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM skill_metadata`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count skills: %w", err)
	}
	return n, nil
}

// RecordExecution folds one execution outcome into usage_count and success_rate.
func (s *SQLStore) RecordExecution(ctx context.Context, skillID string, success bool) error {
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE skill_metadata
		SET success_rate = (success_rate * usage_count + ?) / (usage_count + 1),
		    usage_count = usage_count + 1
		WHERE skill_id = ?`, outcome, skillID)
	if err != nil {
		return fmt.Errorf("record execution for %s: %w", skillID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record execution for %s: %w", skillID, ErrSkillNotFound)
	}
	return nil
}

// ReplaceAll replaces the full file set for a skill. The owning metadata
// record must exist; referential integrity lives here, not in the engine.
func (s *SQLStore) ReplaceAll(ctx context.Context, skillID string, files []SkillFile) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM skill_metadata WHERE skill_id = ?`, skillID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("replace files for %s: %w", skillID, err)
	}
	if exists == 0 {
		return fmt.Errorf("replace files for %s: %w", skillID, ErrSkillNotFound)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace files for %s: %w", skillID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM skill_files WHERE skill_id = ?`, skillID); err != nil {
		return fmt.Errorf("replace files for %s: %w", skillID, err)
	}

	now := time.Now().UTC()
	for _, f := range files {
		created := f.CreatedAt
		if created.IsZero() {
			created = now
		}
		ftype := f.FileType
		if ftype == "" {
			ftype = FileType(f.FileName)
		}
		size := f.SizeBytes
		if size == 0 {
			size = int64(len(f.Content))
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO skill_files
				(skill_id, file_name, file_path, file_type, file_content, file_size_bytes, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			skillID, f.FileName, f.FilePath, ftype, f.Content, size, created); err != nil {
			return fmt.Errorf("replace files for %s: insert %s: %w", skillID, f.FileName, err)
		}
	}
	return tx.Commit()
}

// ListFiles returns all file records for a skill, ordered by file name.
func (s *SQLStore) ListFiles(ctx context.Context, skillID string) ([]SkillFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT skill_id, file_name, file_path, file_type, file_content, file_size_bytes, created_at
		FROM skill_files WHERE skill_id = ? ORDER BY file_name`, skillID)
	if err != nil {
		return nil, fmt.Errorf("list files for %s: %w", skillID, err)
	}
	defer rows.Close()

	var out []SkillFile
	for rows.Next() {
		var f SkillFile
		if err := rows.Scan(&f.SkillID, &f.FileName, &f.FilePath, &f.FileType,
			&f.Content, &f.SizeBytes, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("list files for %s: %w", skillID, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteAll removes all file records for a skill.
func (s *SQLStore) DeleteAll(ctx context.Context, skillID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM skill_files WHERE skill_id = ?`, skillID); err != nil {
		return fmt.Errorf("delete files for %s: %w", skillID, err)
	}
	return nil
}

// Teardown drops both record stores and returns how many skills existed.
// Dropping a store that never existed counts as zero deleted, not an error.
func (s *SQLStore) Teardown(ctx context.Context) (int, error) {
	count, err := s.Count(ctx)
	if err != nil {
		// Table may already be gone; treat as empty.
		slog.Debug("teardown count failed, assuming empty store", "error", err)
		count = 0
	}
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS skill_files`); err != nil {
		return 0, fmt.Errorf("teardown file store: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS skill_metadata`); err != nil {
		return 0, fmt.Errorf("teardown metadata store: %w", err)
	}
	return count, nil
}

const selectMetadata = `
	SELECT skill_id, name, description, short_description, domain, tags,
	       author, version, rating, usage_count, success_rate, searchable_text,
	       revision, updated_at
	FROM skill_metadata`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMetadata(row rowScanner) (*SkillMetadata, error) {
	var meta SkillMetadata
	var tags string
	err := row.Scan(&meta.SkillID, &meta.Name, &meta.Description,
		&meta.ShortDescription, &meta.Domain, &tags, &meta.Author, &meta.Version,
		&meta.Rating, &meta.UsageCount, &meta.SuccessRate, &meta.SearchableText,
		&meta.Revision, &meta.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &meta.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags for %s: %w", meta.SkillID, err)
	}
	return &meta, nil
}

func matchTags(meta *SkillMetadata, tags []string, matchAll bool) bool {
	if len(tags) == 0 {
		return true
	}
	matched := 0
	for _, t := range tags {
		if meta.HasTag(t) {
			matched++
		}
	}
	if matchAll {
		return matched == len(tags)
	}
	return matched > 0
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
