package vectorstore

import "imgvec/internal/domain"

// Storage persists image documents and owns the collection schema.
type Storage interface {
	domain.DocumentSink
	Name() string
}
