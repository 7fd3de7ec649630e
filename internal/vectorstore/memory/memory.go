package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"imgvec/internal/domain"
	"imgvec/internal/vectorstore"
)

// Storage is an in-process document sink. Documents are keyed by id per
// collection, so re-putting the same id overwrites.
type Storage struct {
	mu          sync.RWMutex
	dimensions  map[string]int
	collections map[string]map[string]domain.ImageDocument
	batches     int
}

func NewStorage() *Storage {
	return &Storage{
		dimensions:  map[string]int{},
		collections: map[string]map[string]domain.ImageDocument{},
	}
}

func (s *Storage) Name() string { return "memory" }

// EnsureCollection creates the collection on first use. A second call with a
// different dimension leaves the original in place.
func (s *Storage) EnsureCollection(_ context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return errors.New("memory: invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; ok {
		return nil
	}
	s.dimensions[name] = dimension
	s.collections[name] = map[string]domain.ImageDocument{}
	return nil
}

func (s *Storage) Put(_ context.Context, collection, id string, doc domain.ImageDocument) error {
	if id == "" {
		return errors.New("memory: empty document id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, err := s.collection(collection)
	if err != nil {
		return err
	}
	if len(doc.Vector) != s.dimensions[collection] {
		return fmt.Errorf("memory: vector dimension %d, want %d", len(doc.Vector), s.dimensions[collection])
	}
	docs[id] = doc
	return nil
}

// PutBatch stores every doc whose vector matches the collection dimension and
// counts the rest as failed.
func (s *Storage) PutBatch(_ context.Context, collection string, docs []domain.ImageDocument) (domain.BatchResult, error) {
	if len(docs) == 0 {
		return domain.BatchResult{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, err := s.collection(collection)
	if err != nil {
		return domain.BatchResult{Failed: len(docs)}, err
	}
	s.batches++
	var res domain.BatchResult
	for _, d := range docs {
		if d.ImageHash == "" || len(d.Vector) != s.dimensions[collection] {
			res.Failed++
			continue
		}
		stored[d.ImageHash] = d
		res.Indexed++
	}
	if res.Failed > 0 {
		return res, fmt.Errorf("memory: %d of %d documents rejected", res.Failed, len(docs))
	}
	return res, nil
}

// Get returns the document stored under id.
func (s *Storage) Get(collection, id string) (domain.ImageDocument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.collections[collection][id]
	return d, ok
}

// Count returns the number of documents in collection.
func (s *Storage) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

// Batches returns how many non-empty PutBatch calls were accepted.
func (s *Storage) Batches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batches
}

func (s *Storage) collection(name string) (map[string]domain.ImageDocument, error) {
	docs, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("memory: collection %q not initialised", name)
	}
	return docs, nil
}

var _ vectorstore.Storage = (*Storage)(nil)
