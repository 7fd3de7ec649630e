package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"imgvec/internal/domain"
	"imgvec/internal/metrics"
	"imgvec/internal/vectorstore"
)

const (
	SummaryFileName = "conversion_summary.json"
	MappingFileName = "index_mapping.json"
	BulkFileName    = "bulk_index.ndjson"
	vectorSuffix    = "_vector.json"
)

var (
	// ErrSchema marks a failure to create or verify the target collection.
	ErrSchema = errors.New("ensure collection")
	// ErrNoImages is returned when discovery finds nothing to convert.
	ErrNoImages = errors.New("no supported images found")
)

// Options configures one conversion run.
type Options struct {
	ImagesDir         string
	OutputDir         string
	Collection        string
	BatchSize         int
	WriteBulkFile     bool
	WriteProductFiles bool
	MetricsTextfile   bool
}

// Converter drives discovery, embedding and indexing for a directory of images.
type Converter struct {
	opts     Options
	embedder domain.Embedder
	sink     domain.DocumentSink
	logger   arbor.ILogger
	metrics  *metrics.Run
	now      func() time.Time
}

func NewConverter(opts Options, embedder domain.Embedder, sink domain.DocumentSink, logger arbor.ILogger, m *metrics.Run) *Converter {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if m == nil {
		m = metrics.NewRun()
	}
	return &Converter{opts: opts, embedder: embedder, sink: sink, logger: logger, metrics: m, now: time.Now}
}

// run carries per-run state through the batch loop.
type run struct {
	id        string
	started   time.Time
	found     int
	processed int
	sent      int
	failed    int
	stems     map[string]string
	products  *productIndex
	bulk      *os.File
}

// Run converts every supported image once and returns the written summary.
// A cancelled context stops the run without writing a summary.
func (c *Converter) Run(ctx context.Context) (*domain.ConversionSummary, error) {
	r := &run{id: uuid.NewString(), started: c.now(), stems: map[string]string{}, products: newProductIndex()}
	log := c.logger.WithCorrelationId(r.id)

	if err := os.MkdirAll(c.opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	if err := c.sink.EnsureCollection(ctx, c.opts.Collection, c.embedder.Dimension()); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrSchema, c.opts.Collection, err)
	}

	files, err := Discover(c.opts.ImagesDir)
	if err != nil {
		return nil, err
	}
	r.found = len(files)
	c.metrics.ImagesFound.Add(float64(r.found))
	if r.found == 0 {
		log.Warn().Str("images_dir", c.opts.ImagesDir).Msg("No supported images found")
		return nil, ErrNoImages
	}
	log.Info().Int("images", r.found).Int("batch_size", c.opts.BatchSize).Str("embedder", c.embedder.Name()).Msg("Starting conversion")

	if c.opts.WriteBulkFile {
		r.bulk, err = os.Create(filepath.Join(c.opts.OutputDir, BulkFileName))
		if err != nil {
			log.Warn().Err(err).Msg("Bulk replay file disabled")
		} else {
			defer r.bulk.Close()
		}
	}

	for start := 0; start < len(files); start += c.opts.BatchSize {
		end := min(start+c.opts.BatchSize, len(files))
		batchNo := start/c.opts.BatchSize + 1
		group := make([]domain.ImageDocument, 0, end-start)
		for _, path := range files[start:end] {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			doc, ok := c.convertFile(ctx, log, r, path)
			if !ok {
				continue
			}
			group = append(group, doc)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(group) == 0 {
			log.Warn().Int("batch", batchNo).Msg("Batch produced no documents, skipping index call")
			continue
		}
		c.flush(ctx, log, r, batchNo, group)
	}

	return c.finalize(log, r)
}

// convertFile reads, hashes and embeds one image and writes its local vector
// file. It reports false when the image must be skipped.
func (c *Converter) convertFile(ctx context.Context, log arbor.ILogger, r *run, path string) (domain.ImageDocument, bool) {
	name := filepath.Base(path)
	data, err := os.ReadFile(path)
	if err != nil {
		log.Error().Err(err).Str("image", name).Msg("Failed to read image")
		c.metrics.ImagesFailed.Inc()
		return domain.ImageDocument{}, false
	}
	info, err := os.Stat(path)
	if err != nil {
		log.Error().Err(err).Str("image", name).Msg("Failed to stat image")
		c.metrics.ImagesFailed.Inc()
		return domain.ImageDocument{}, false
	}

	vec, err := c.embedder.Embed(ctx, data)
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Str("image", name).Msg("Failed to embed image")
		}
		c.metrics.ImagesFailed.Inc()
		return domain.ImageDocument{}, false
	}

	sum := md5.Sum(data)
	doc := domain.ImageDocument{
		ImagePath: c.relativePath(path),
		ImageName: name,
		ImageHash: hex.EncodeToString(sum[:]),
		Vector:    vec,
		Metadata: domain.ImageMetadata{
			FileSize:    info.Size(),
			CreatedAt:   info.ModTime(),
			ProcessedAt: c.now(),
		},
	}

	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if prev, seen := r.stems[stem]; seen {
		log.Warn().Str("image", name).Str("previous", prev).Str("file", stem+vectorSuffix).Msg("Vector file name collision, overwriting")
	}
	r.stems[stem] = name
	if err := writeJSON(filepath.Join(c.opts.OutputDir, stem+vectorSuffix), domain.VectorFile{
		ImageName: doc.ImageName,
		Vector:    doc.Vector,
		Metadata:  doc.Metadata,
	}); err != nil {
		log.Error().Err(err).Str("image", name).Msg("Failed to write vector file")
	}

	r.products.add(doc, info.ModTime())
	r.processed++
	c.metrics.ImagesProcessed.Inc()
	log.Debug().Str("image", name).Str("hash", doc.ImageHash).Msg("Converted image")
	return doc, true
}

func (c *Converter) flush(ctx context.Context, log arbor.ILogger, r *run, batchNo int, group []domain.ImageDocument) {
	if r.bulk != nil {
		payload, err := vectorstore.EncodeBulk(c.opts.Collection, group)
		if err == nil {
			_, err = r.bulk.Write(payload)
		}
		if err != nil {
			log.Warn().Err(err).Int("batch", batchNo).Msg("Failed to append bulk replay file")
		}
	}

	started := time.Now()
	res, err := c.sink.PutBatch(ctx, c.opts.Collection, group)
	r.sent++
	c.metrics.ObserveBatch(started, res.Indexed, err != nil)
	if err != nil {
		r.failed++
		log.Error().Err(err).Int("batch", batchNo).Int("documents", len(group)).Int("failed", res.Failed).Msg("Batch index failed")
		return
	}
	log.Info().Int("batch", batchNo).Int("documents", res.Indexed).Msg("Indexed batch")
}

func (c *Converter) finalize(log arbor.ILogger, r *run) (*domain.ConversionSummary, error) {
	finished := c.now()
	summary := &domain.ConversionSummary{
		TotalImagesFound:     r.found,
		TotalImagesProcessed: r.processed,
		IndexName:            c.opts.Collection,
		OutputDirectory:      c.opts.OutputDir,
		ProcessedAt:          finished,
		RunID:                r.id,
		Embedder:             c.embedder.Name(),
		BatchesSent:          r.sent,
		BatchesFailed:        r.failed,
		TotalProducts:        r.products.len(),
		Elapsed:              finished.Sub(r.started).Round(time.Millisecond).String(),
	}
	if err := writeJSON(filepath.Join(c.opts.OutputDir, SummaryFileName), summary); err != nil {
		return summary, fmt.Errorf("write summary: %w", err)
	}
	if err := writeJSON(filepath.Join(c.opts.OutputDir, MappingFileName), vectorstore.IndexMapping(c.embedder.Dimension())); err != nil {
		log.Warn().Err(err).Msg("Failed to write index mapping")
	}
	if c.opts.WriteProductFiles {
		if err := r.products.write(c.opts.OutputDir, finished); err != nil {
			log.Warn().Err(err).Msg("Failed to write product files")
		}
	}
	if c.opts.MetricsTextfile {
		if err := c.metrics.WriteTextfile(filepath.Join(c.opts.OutputDir, metrics.TextfileName)); err != nil {
			log.Warn().Err(err).Msg("Failed to write metrics textfile")
		}
	}

	log.Info().
		Int("found", summary.TotalImagesFound).
		Int("processed", summary.TotalImagesProcessed).
		Int("batches_failed", summary.BatchesFailed).
		Str("elapsed", summary.Elapsed).
		Msg("Conversion complete")
	return summary, nil
}

// relativePath expresses path relative to the parent of the images
// directory, with forward slashes.
func (c *Converter) relativePath(path string) string {
	base, err := filepath.Abs(filepath.Dir(filepath.Clean(c.opts.ImagesDir)))
	if err == nil {
		if abs, aerr := filepath.Abs(path); aerr == nil {
			if rel, rerr := filepath.Rel(base, abs); rerr == nil {
				return filepath.ToSlash(rel)
			}
		}
	}
	return filepath.ToSlash(path)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
