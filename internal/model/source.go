package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/godilite/grade-predictor/internal/apperrors"
)

// Source fetches an artifact. Every failure is reported as
// apperrors.ErrModelUnavailable.
type Source interface {
	Load(ctx context.Context) (*Artifact, error)
	Describe() string
}

// FileSource reads an artifact JSON file from disk.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Describe() string { return "file:" + s.path }

func (s *FileSource) Load(ctx context.Context) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Unavailable(s.Describe(), err)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, apperrors.Unavailable(s.Describe(), err)
	}
	a, err := Decode(data)
	if err != nil {
		return nil, apperrors.Unavailable(s.Describe(), err)
	}
	return a, nil
}

// SQLSource keeps artifacts in a model_artifacts table and serves the
// newest version for a name.
type SQLSource struct {
	db     *sql.DB
	driver string
	name   string
}

func NewSQLSource(db *sql.DB, driver, name string) *SQLSource {
	return &SQLSource{db: db, driver: driver, name: name}
}

func (s *SQLSource) Describe() string { return "sql:" + s.driver + ":" + s.name }

// EnsureSchema creates the artifact table if it does not exist.
func (s *SQLSource) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS model_artifacts (
			name       TEXT NOT NULL,
			version    TEXT NOT NULL,
			payload    TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (name, version)
		)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create model_artifacts: %w", err)
	}
	return nil
}

func (s *SQLSource) Load(ctx context.Context) (*Artifact, error) {
	query := s.rebind(`
		SELECT payload
		FROM model_artifacts
		WHERE name = ?
		ORDER BY created_at DESC, version DESC
		LIMIT 1`)

	var payload string
	err := s.db.QueryRowContext(ctx, query, s.name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Unavailable(s.Describe(), errors.New("no artifact stored"))
	}
	if err != nil {
		return nil, apperrors.Unavailable(s.Describe(), err)
	}

	a, err := Decode([]byte(payload))
	if err != nil {
		return nil, apperrors.Unavailable(s.Describe(), err)
	}
	return a, nil
}

// Save stores a under the source's name, replacing the same version.
func (s *SQLSource) Save(ctx context.Context, a *Artifact) error {
	if err := a.Validate(); err != nil {
		return err
	}
	payload, err := a.Encode()
	if err != nil {
		return err
	}

	query := s.rebind(`
		INSERT INTO model_artifacts (name, version, payload, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name, version) DO UPDATE
		SET payload = excluded.payload, created_at = excluded.created_at`)

	if _, err := s.db.ExecContext(ctx, query, s.name, a.Version, string(payload), time.Now().UTC()); err != nil {
		return fmt.Errorf("save artifact %s/%s: %w", s.name, a.Version, err)
	}
	return nil
}

// rebind turns ? placeholders into $n for postgres.
func (s *SQLSource) rebind(query string) string {
	if s.driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Blobs is the key-value surface RedisSource needs.
type Blobs interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// RedisSource reads an artifact JSON blob stored under a single key.
type RedisSource struct {
	blobs Blobs
	key   string
}

func NewRedisSource(blobs Blobs, key string) *RedisSource {
	return &RedisSource{blobs: blobs, key: key}
}

func (s *RedisSource) Describe() string { return "redis:" + s.key }

func (s *RedisSource) Load(ctx context.Context) (*Artifact, error) {
	data, err := s.blobs.Get(ctx, s.key)
	if err != nil {
		return nil, apperrors.Unavailable(s.Describe(), err)
	}
	a, err := Decode(data)
	if err != nil {
		return nil, apperrors.Unavailable(s.Describe(), err)
	}
	return a, nil
}

func (s *RedisSource) Save(ctx context.Context, a *Artifact) error {
	if err := a.Validate(); err != nil {
		return err
	}
	payload, err := a.Encode()
	if err != nil {
		return err
	}
	return s.blobs.Set(ctx, s.key, payload)
}
