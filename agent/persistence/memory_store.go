package persistence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of DocumentStore.
// Suitable for development and testing. Data is lost on restart.
type MemoryStore struct {
	docs   map[string]map[string]*Document
	mu     sync.RWMutex
	closed bool
}

// NewMemoryStore creates a new in-memory document store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string]*Document)}
}

// Close closes the store
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func cloneDocument(d *Document) *Document {
	cp := *d
	cp.Data = append([]byte(nil), d.Data...)
	return &cp
}

func (s *MemoryStore) put(doc *Document, version int64) {
	coll, ok := s.docs[doc.Collection]
	if !ok {
		coll = make(map[string]*Document)
		s.docs[doc.Collection] = coll
	}
	doc.Version = version
	doc.UpdatedAt = time.Now()
	coll[doc.ID] = cloneDocument(doc)
}

// Save persists a document, bumping its version
func (s *MemoryStore) Save(ctx context.Context, doc *Document) error {
	if err := doc.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	var version int64 = 1
	if existing, ok := s.docs[doc.Collection][doc.ID]; ok {
		version = existing.Version + 1
	}
	s.put(doc, version)
	return nil
}

// Load retrieves a document
func (s *MemoryStore) Load(ctx context.Context, collection, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	doc, ok := s.docs[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDocument(doc), nil
}

// Delete removes a document
func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, ok := s.docs[collection][id]; !ok {
		return ErrNotFound
	}
	delete(s.docs[collection], id)
	return nil
}

// Query retrieves documents whose field equals value, ordered by id
func (s *MemoryStore) Query(ctx context.Context, collection, field string, value any) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	result := make([]*Document, 0)
	for _, doc := range s.docs[collection] {
		if matchField(doc.Data, field, value) {
			result = append(result, cloneDocument(doc))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// CompareAndSwap writes the document if the stored version matches
func (s *MemoryStore) CompareAndSwap(ctx context.Context, doc *Document, expectedVersion int64) error {
	if err := doc.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	var current int64
	if existing, ok := s.docs[doc.Collection][doc.ID]; ok {
		current = existing.Version
	}
	if current != expectedVersion {
		return ErrVersionConflict
	}
	s.put(doc, expectedVersion+1)
	return nil
}

// Ensure MemoryStore implements DocumentStore
var _ DocumentStore = (*MemoryStore)(nil)
