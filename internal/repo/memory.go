package repo

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/hitchsafe/companion/internal/domain"
)

// memStore is an in-process DocumentStore used for local development
// (STORE_BACKEND=memory) and unit tests. Documents are deep-copied through
// their JSON form on the way in and out, like a real backend would.
type memStore struct {
	mu   sync.Mutex
	docs map[string]map[string]Document
	subs map[string][]subEntry
}

type subEntry struct {
	id     string
	parent string
	doc    Document
}

// NewMemoryStore returns an empty in-memory DocumentStore.
func NewMemoryStore() DocumentStore {
	return &memStore{
		docs: make(map[string]map[string]Document),
		subs: make(map[string][]subEntry),
	}
}

func (s *memStore) Get(_ context.Context, collection, id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[collection][id]
	if !ok {
		return nil, fmt.Errorf("repo.memStore.Get: %w", domain.ErrNotFound)
	}
	return clone(doc)
}

func (s *memStore) Set(_ context.Context, collection, id string, doc Document) error {
	c, err := clone(doc)
	if err != nil {
		return fmt.Errorf("repo.memStore.Set: %w: %w", domain.ErrPersistence, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.docs[collection] == nil {
		s.docs[collection] = make(map[string]Document)
	}
	s.docs[collection][id] = c
	return nil
}

func (s *memStore) UpdateFields(_ context.Context, collection, id string, fields Document) error {
	c, err := clone(fields)
	if err != nil {
		return fmt.Errorf("repo.memStore.UpdateFields: %w: %w", domain.ErrPersistence, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[collection][id]
	if !ok {
		return fmt.Errorf("repo.memStore.UpdateFields: %w", domain.ErrNotFound)
	}
	for k, v := range c {
		doc[k] = v
	}
	return nil
}

func (s *memStore) UpdateFieldsUnless(_ context.Context, collection, id, field, value string, fields Document) (bool, error) {
	c, err := clone(fields)
	if err != nil {
		return false, fmt.Errorf("repo.memStore.UpdateFieldsUnless: %w: %w", domain.ErrPersistence, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[collection][id]
	if !ok {
		return false, fmt.Errorf("repo.memStore.UpdateFieldsUnless: %w", domain.ErrNotFound)
	}
	if current, _ := doc[field].(string); current == value {
		return false, nil
	}
	for k, v := range c {
		doc[k] = v
	}
	return true, nil
}

func (s *memStore) AddToSubcollection(_ context.Context, collection, parentID, sub string, doc Document) (string, error) {
	c, err := clone(doc)
	if err != nil {
		return "", fmt.Errorf("repo.memStore.AddToSubcollection: %w: %w", domain.ErrPersistence, err)
	}
	id := uuid.Must(uuid.NewV7()).String()

	s.mu.Lock()
	defer s.mu.Unlock()

	key := subcollectionKey(collection, sub)
	s.subs[key] = append(s.subs[key], subEntry{id: id, parent: parentID, doc: c})
	return id, nil
}

func (s *memStore) ListSubcollection(_ context.Context, collection, parentID, sub string) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var docs []Document
	for _, e := range s.subs[subcollectionKey(collection, sub)] {
		if e.parent != parentID {
			continue
		}
		c, err := clone(e.doc)
		if err != nil {
			return nil, fmt.Errorf("repo.memStore.ListSubcollection: %w: %w", domain.ErrPersistence, err)
		}
		c["id"] = e.id
		docs = append(docs, c)
	}
	return docs, nil
}

func clone(doc Document) (Document, error) {
	c, err := toDocument(doc)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = Document{}
	}
	return c, nil
}
