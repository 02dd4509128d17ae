// Package repo contains all persistence logic for the companion.
// The document store is the only contract with the backend: whole-document
// sets and per-field updates keyed by id. Typed repos (users, trips,
// contacts) sit on top of it. No business logic lives here.
package repo

import (
	"context"
	"encoding/json"
	"fmt"
)

// Collection names shared by every backend.
const (
	CollectionUsers                = "users"
	CollectionAccounts             = "accounts"
	CollectionTrips                = "trips"
	SubcollectionEmergencyContacts = "emergency_contacts"
)

// Document is a JSON-shaped record. Top-level keys are the unit of update.
type Document map[string]any

// DocumentStore is the persistence contract consumed by the typed repos.
//
// Consistency model: last write wins per top-level field. UpdateFields merges
// the given fields into the stored document without reading it first, so two
// overlapping updates of different fields never lose each other, and two
// overlapping updates of the same field resolve to whichever lands last.
//
// Every backend failure is wrapped with domain.ErrPersistence; a missing
// document is reported as domain.ErrNotFound.
type DocumentStore interface {
	// Get returns the document stored under collection/id.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Set creates or fully replaces the document stored under collection/id.
	Set(ctx context.Context, collection, id string, doc Document) error

	// UpdateFields merges fields into an existing document.
	// Returns domain.ErrNotFound if the document does not exist.
	UpdateFields(ctx context.Context, collection, id string, fields Document) error

	// UpdateFieldsUnless is UpdateFields guarded by the stored document: the
	// merge is skipped, and applied is false, when the top-level string field
	// currently equals value. Check and merge are one atomic step.
	// Returns domain.ErrNotFound if the document does not exist.
	UpdateFieldsUnless(ctx context.Context, collection, id, field, value string, fields Document) (applied bool, err error)

	// AddToSubcollection appends doc under collection/parentID/sub and returns
	// the generated id.
	AddToSubcollection(ctx context.Context, collection, parentID, sub string, doc Document) (string, error)

	// ListSubcollection returns the documents under collection/parentID/sub in
	// insertion order. Each document carries its id under the "id" key.
	ListSubcollection(ctx context.Context, collection, parentID, sub string) ([]Document, error)
}

// subcollectionKey names the flat collection a backend stores a subcollection in.
func subcollectionKey(collection, sub string) string {
	return collection + "." + sub
}

// toDocument converts a JSON-tagged struct into a Document.
func toDocument(v any) (Document, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return doc, nil
}

// fromDocument decodes a Document into a JSON-tagged struct.
func fromDocument(doc Document, v any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// fieldValue converts a single typed value into its stored representation so
// that per-field updates are encoded exactly like whole documents.
func fieldValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode field: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("encode field: %w", err)
	}
	return out, nil
}

// fields builds an update Document from key/value pairs, encoding each value.
func fields(kv ...any) (Document, error) {
	if len(kv)%2 != 0 {
		return nil, fmt.Errorf("fields: odd number of arguments")
	}
	doc := make(Document, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			return nil, fmt.Errorf("fields: key %v is not a string", kv[i])
		}
		val, err := fieldValue(kv[i+1])
		if err != nil {
			return nil, err
		}
		doc[key] = val
	}
	return doc, nil
}
