package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hitchsafe/companion/internal/domain"
)

// db is the minimal interface satisfied by *pgxpool.Pool, pgx.Conn, and pgx.Tx.
// Accepting this interface instead of *pgxpool.Pool directly allows integration
// tests to pass a transaction that is rolled back after each test, giving free
// per-test isolation without any manual cleanup.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgStore is the Postgres implementation of DocumentStore.
// Every document is one row of the documents table with its body in a JSONB
// column; subcollection rows carry their parent id.
type pgStore struct {
	db db
}

// NewPostgresStore constructs a DocumentStore backed by the provided db connection.
// In production pass *pgxpool.Pool; in tests pass a pgx.Tx for rollback isolation.
func NewPostgresStore(db db) DocumentStore {
	return &pgStore{db: db}
}

func (s *pgStore) Get(ctx context.Context, collection, id string) (Document, error) {
	const q = `
		SELECT data
		FROM documents
		WHERE collection = @collection AND id = @id`

	var raw []byte
	err := s.db.QueryRow(ctx, q, pgx.NamedArgs{"collection": collection, "id": id}).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("repo.pgStore.Get: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("repo.pgStore.Get: %w: %w", domain.ErrPersistence, err)
	}

	doc, err := decodeJSONB(raw)
	if err != nil {
		return nil, fmt.Errorf("repo.pgStore.Get: %w: %w", domain.ErrPersistence, err)
	}
	return doc, nil
}

func (s *pgStore) Set(ctx context.Context, collection, id string, doc Document) error {
	const q = `
		INSERT INTO documents (collection, id, data)
		VALUES (@collection, @id, @data::jsonb)
		ON CONFLICT (collection, id) DO UPDATE
		SET data       = EXCLUDED.data,
		    updated_at = now()`

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("repo.pgStore.Set: %w: %w", domain.ErrPersistence, err)
	}

	args := pgx.NamedArgs{
		"collection": collection,
		"id":         id,
		"data":       string(data),
	}
	if _, err := s.db.Exec(ctx, q, args); err != nil {
		return fmt.Errorf("repo.pgStore.Set: %w: %w", domain.ErrPersistence, err)
	}
	return nil
}

// UpdateFields uses the JSONB || operator: top-level keys in fields replace
// the stored ones, everything else is left untouched, all inside a single
// UPDATE so no read-modify-write window exists.
func (s *pgStore) UpdateFields(ctx context.Context, collection, id string, fields Document) error {
	const q = `
		UPDATE documents
		SET data       = data || @fields::jsonb,
		    updated_at = now()
		WHERE collection = @collection AND id = @id`

	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("repo.pgStore.UpdateFields: %w: %w", domain.ErrPersistence, err)
	}

	args := pgx.NamedArgs{
		"collection": collection,
		"id":         id,
		"fields":     string(data),
	}
	tag, err := s.db.Exec(ctx, q, args)
	if err != nil {
		return fmt.Errorf("repo.pgStore.UpdateFields: %w: %w", domain.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo.pgStore.UpdateFields: %w", domain.ErrNotFound)
	}
	return nil
}

// UpdateFieldsUnless folds the guard into the UPDATE's WHERE clause. When no
// row matched, a second lookup tells a guarded document from a missing one.
func (s *pgStore) UpdateFieldsUnless(ctx context.Context, collection, id, field, value string, fields Document) (bool, error) {
	const q = `
		UPDATE documents
		SET data       = data || @fields::jsonb,
		    updated_at = now()
		WHERE collection = @collection AND id = @id
		  AND (data ->> @field::text) IS DISTINCT FROM @value::text`

	data, err := json.Marshal(fields)
	if err != nil {
		return false, fmt.Errorf("repo.pgStore.UpdateFieldsUnless: %w: %w", domain.ErrPersistence, err)
	}

	args := pgx.NamedArgs{
		"collection": collection,
		"id":         id,
		"field":      field,
		"value":      value,
		"fields":     string(data),
	}
	tag, err := s.db.Exec(ctx, q, args)
	if err != nil {
		return false, fmt.Errorf("repo.pgStore.UpdateFieldsUnless: %w: %w", domain.ErrPersistence, err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	const exists = `SELECT EXISTS (SELECT 1 FROM documents WHERE collection = @collection AND id = @id)`
	var found bool
	if err := s.db.QueryRow(ctx, exists, pgx.NamedArgs{"collection": collection, "id": id}).Scan(&found); err != nil {
		return false, fmt.Errorf("repo.pgStore.UpdateFieldsUnless: %w: %w", domain.ErrPersistence, err)
	}
	if !found {
		return false, fmt.Errorf("repo.pgStore.UpdateFieldsUnless: %w", domain.ErrNotFound)
	}
	return false, nil
}

func (s *pgStore) AddToSubcollection(ctx context.Context, collection, parentID, sub string, doc Document) (string, error) {
	const q = `
		INSERT INTO documents (collection, id, parent_id, data)
		VALUES (@collection, @id, @parent_id, @data::jsonb)`

	id := uuid.Must(uuid.NewV7()).String()
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("repo.pgStore.AddToSubcollection: %w: %w", domain.ErrPersistence, err)
	}

	args := pgx.NamedArgs{
		"collection": subcollectionKey(collection, sub),
		"id":         id,
		"parent_id":  parentID,
		"data":       string(data),
	}
	if _, err := s.db.Exec(ctx, q, args); err != nil {
		return "", fmt.Errorf("repo.pgStore.AddToSubcollection: %w: %w", domain.ErrPersistence, err)
	}
	return id, nil
}

// ListSubcollection returns rows ordered by their insertion sequence.
func (s *pgStore) ListSubcollection(ctx context.Context, collection, parentID, sub string) ([]Document, error) {
	const q = `
		SELECT id, data
		FROM documents
		WHERE collection = @collection AND parent_id = @parent_id
		ORDER BY seq ASC`

	args := pgx.NamedArgs{
		"collection": subcollectionKey(collection, sub),
		"parent_id":  parentID,
	}
	rows, err := s.db.Query(ctx, q, args)
	if err != nil {
		return nil, fmt.Errorf("repo.pgStore.ListSubcollection: %w: %w", domain.ErrPersistence, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("repo.pgStore.ListSubcollection: scan: %w: %w", domain.ErrPersistence, err)
		}
		doc, err := decodeJSONB(raw)
		if err != nil {
			return nil, fmt.Errorf("repo.pgStore.ListSubcollection: %w: %w", domain.ErrPersistence, err)
		}
		doc["id"] = id
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.pgStore.ListSubcollection: rows: %w: %w", domain.ErrPersistence, err)
	}
	return docs, nil
}

func decodeJSONB(raw []byte) (Document, error) {
	doc := Document{}
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
