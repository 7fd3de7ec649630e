package domain

import (
	"context"
	"time"
)

// ImageMetadata holds file-level facts recorded alongside every vector.
type ImageMetadata struct {
	FileSize    int64     `json:"file_size"`
	CreatedAt   time.Time `json:"created_at"`
	ProcessedAt time.Time `json:"processed_at"`
}

// ImageDocument is the unit written to disk and to the document sink.
// ImageHash is derived from file bytes only and doubles as the sink ID.
type ImageDocument struct {
	ImagePath string        `json:"image_path"`
	ImageName string        `json:"image_name"`
	ImageHash string        `json:"image_hash"`
	Vector    []float32     `json:"vector"`
	Metadata  ImageMetadata `json:"metadata"`
}

// VectorFile is the shape of a per-image <stem>_vector.json file.
type VectorFile struct {
	ImageName string        `json:"image_name"`
	Vector    []float32     `json:"vector"`
	Metadata  ImageMetadata `json:"metadata"`
}

// ConversionSummary describes one completed run. It is never mutated once written.
type ConversionSummary struct {
	TotalImagesFound     int       `json:"total_images_found"`
	TotalImagesProcessed int       `json:"total_images_processed"`
	IndexName            string    `json:"index_name"`
	OutputDirectory      string    `json:"output_directory"`
	ProcessedAt          time.Time `json:"processed_at"`
	RunID                string    `json:"run_id"`
	Embedder             string    `json:"embedder"`
	BatchesSent          int       `json:"batches_sent"`
	BatchesFailed        int       `json:"batches_failed"`
	TotalProducts        int       `json:"total_products"`
	Elapsed              string    `json:"elapsed"`
}

// ProductImage is one image listed in a product file.
type ProductImage struct {
	ImagePath     string    `json:"image_path"`
	ImageName     string    `json:"image_name"`
	ImageHash     string    `json:"image_hash"`
	ImageNumber   int       `json:"image_number"`
	FileExtension string    `json:"file_extension"`
	FileSize      int64     `json:"file_size"`
	ModifiedAt    time.Time `json:"modified_at"`
}

// ProductGroup collects the images whose names share a <product>_<n> prefix.
type ProductGroup struct {
	ProductName string         `json:"product_name"`
	ImageCount  int            `json:"image_count"`
	Images      []ProductImage `json:"images"`
	CreatedAt   time.Time      `json:"created_at"`
}

// BatchResult reports the aggregate outcome of one bulk upsert.
type BatchResult struct {
	Indexed int
	Failed  int
}

// Embedder converts image bytes into an L2-normalized vector.
// Model state is loaded once when the implementation is constructed.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, data []byte) ([]float32, error)
}

// DocumentSink persists image documents in a vector-capable store.
type DocumentSink interface {
	EnsureCollection(ctx context.Context, name string, dimension int) error
	Put(ctx context.Context, collection, id string, doc ImageDocument) error
	PutBatch(ctx context.Context, collection string, docs []ImageDocument) (BatchResult, error)
}
