// Package sqlite provides a SQLite-backed index store. Documents are kept as
// JSON objects, predicates are evaluated with json_extract.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/lovoo/projector/index"
)

const schema = `CREATE TABLE IF NOT EXISTS documents (
	index_name TEXT NOT NULL,
	id         TEXT NOT NULL,
	fields     TEXT NOT NULL,
	PRIMARY KEY (index_name, id)
)`

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store persists derived documents in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the database at path and creates the documents table.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("index path is required")
	}
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// a single connection serializes batches
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// BatchWrite applies ops in one database transaction. Failing operations are
// reported per operation and do not roll back the others.
func (s *Store) BatchWrite(ctx context.Context, ops []index.Operation) ([]error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	results := make([]error, len(ops))
	for i, op := range ops {
		results[i] = s.apply(ctx, tx, op)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return results, nil
}

func (s *Store) apply(ctx context.Context, tx *sql.Tx, op index.Operation) error {
	switch op.Type {
	case index.OpInsert:
		data, err := json.Marshal(nonNil(op.Fields))
		if err != nil {
			return fmt.Errorf("encode %s: %w", op, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO documents (index_name, id, fields) VALUES (?, ?, ?)
			 ON CONFLICT (index_name, id) DO UPDATE SET fields = excluded.fields`,
			op.Index, op.ID, string(data))
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	case index.OpUpdate:
		var current string
		err := tx.QueryRowContext(ctx,
			`SELECT fields FROM documents WHERE index_name = ? AND id = ?`,
			op.Index, op.ID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("cannot update %s/%s: %w", op.Index, op.ID, index.ErrDocumentMissing)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		fields, err := index.DecodeFields([]byte(current))
		if err != nil {
			return fmt.Errorf("decode %s/%s: %w", op.Index, op.ID, err)
		}
		for k, v := range op.Fields {
			fields[k] = v
		}
		data, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("encode %s: %w", op, err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET fields = ? WHERE index_name = ? AND id = ?`,
			string(data), op.Index, op.ID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	case index.OpDelete:
		_, err := tx.ExecContext(ctx,
			`DELETE FROM documents WHERE index_name = ? AND id = ?`,
			op.Index, op.ID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown operation %s", op.Type)
	}
}

// Get returns a document.
func (s *Store) Get(ctx context.Context, indexName, id string) (*index.Document, bool, error) {
	var data string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT fields FROM documents WHERE index_name = ? AND id = ?`,
		indexName, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", indexName, id, err)
	}
	fields, err := index.DecodeFields([]byte(data))
	if err != nil {
		return nil, false, fmt.Errorf("decode %s/%s: %w", indexName, id, err)
	}
	return &index.Document{ID: id, Index: indexName, Fields: fields}, true, nil
}

// Query returns the ids of the documents of indexName matching p.
func (s *Store) Query(ctx context.Context, indexName string, p index.Predicate) ([]string, error) {
	want, err := index.Normalize(p)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(want))
	for name := range want {
		if !fieldName.MatchString(name) {
			return nil, fmt.Errorf("invalid field name %q", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		query strings.Builder
		args  = []interface{}{indexName}
	)
	query.WriteString(`SELECT id FROM documents WHERE index_name = ?`)
	for _, name := range names {
		query.WriteString(` AND json_extract(fields, '$.` + name + `') = json_extract(?, '$')`)
		value, err := json.Marshal(want[name])
		if err != nil {
			return nil, fmt.Errorf("encode predicate %s: %w", name, err)
		}
		args = append(args, string(value))
	}
	query.WriteString(` ORDER BY id`)

	rows, err := s.sqlDB.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", indexName, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s: %w", indexName, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", indexName, err)
	}
	return ids, nil
}

func nonNil(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return map[string]interface{}{}
	}
	return fields
}
