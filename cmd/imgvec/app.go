package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/ternarybob/arbor"

	"imgvec/internal/config"
	"imgvec/internal/domain"
	"imgvec/internal/embedding/clip"
	"imgvec/internal/embedding/histogram"
	"imgvec/internal/logging"
	"imgvec/internal/metrics"
	"imgvec/internal/service"
	"imgvec/internal/tui"
	"imgvec/internal/vectorstore"
	"imgvec/internal/vectorstore/memory"
	"imgvec/internal/vectorstore/opensearch"
)

var errDeclined = errors.New("declined")

func convert(ctx context.Context, cfg *config.AppConfig, assumeYes, localOnly bool) (*domain.ConversionSummary, error) {
	logger := logging.New(cfg.Logging)
	warnings := configWarnings(cfg, localOnly)
	for _, w := range warnings {
		logger.Warn().Msg(w)
	}

	// Assemble components
	emb, err := newEmbedder(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	st, err := newStorage(ctx, cfg, localOnly, logger)
	if err != nil {
		return nil, err
	}

	if !assumeYes && isatty.IsTerminal(os.Stdin.Fd()) {
		plan := tui.Plan{
			ImagesDir:  cfg.Converter.ImagesDir,
			OutputDir:  cfg.Converter.OutputDir,
			Collection: cfg.VectorStore.Collection,
			Embedder:   emb.Name(),
			Sink:       sinkLabel(cfg, st),
			Warnings:   warnings,
		}
		if files, err := service.Discover(cfg.Converter.ImagesDir); err == nil {
			plan.Images = len(files)
			for _, f := range files {
				if info, err := os.Stat(f); err == nil {
					plan.TotalBytes += uint64(info.Size())
				}
			}
		}
		final, err := tea.NewProgram(tui.New(plan), tea.WithContext(ctx)).Run()
		if err != nil {
			return nil, err
		}
		if m, ok := final.(tui.Model); !ok || !m.Confirmed() {
			return nil, errDeclined
		}
	}

	conv := service.NewConverter(service.Options{
		ImagesDir:         cfg.Converter.ImagesDir,
		OutputDir:         cfg.Converter.OutputDir,
		Collection:        cfg.VectorStore.Collection,
		BatchSize:         cfg.Converter.BatchSize,
		WriteBulkFile:     cfg.Converter.WriteBulkFile,
		WriteProductFiles: cfg.Converter.WriteProductFiles,
		MetricsTextfile:   cfg.Metrics.Textfile,
	}, emb, st, logger, metrics.NewRun())
	return conv.Run(ctx)
}

// preflight constructs both backends, which probes each once, and reports.
func preflight(ctx context.Context, cfg *config.AppConfig) error {
	logger := logging.New(cfg.Logging)
	for _, w := range configWarnings(cfg, false) {
		logger.Warn().Msg(w)
	}
	emb, err := newEmbedder(ctx, cfg, logger)
	if err != nil {
		return err
	}
	st, err := newStorage(ctx, cfg, false, logger)
	if err != nil {
		return err
	}
	fmt.Printf("embedder: %s (dimension %d)\n", emb.Name(), emb.Dimension())
	fmt.Printf("sink:     %s\n", sinkLabel(cfg, st))
	return nil
}

func newEmbedder(ctx context.Context, cfg *config.AppConfig, logger arbor.ILogger) (domain.Embedder, error) {
	switch cfg.Embedder.Type {
	case "clip", "":
		c := cfg.Embedder.Clip
		client, err := clip.NewClient(ctx, clip.Config{
			BaseURL:    c.BaseURL,
			Model:      c.Model,
			Dimension:  cfg.Embedder.Dimension,
			ImageSize:  c.ImageSize,
			Timeout:    time.Duration(c.TimeoutSecs) * time.Second,
			MaxRetries: c.MaxRetries,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("clip embedder init failed: %w", err)
		}
		return client, nil
	case "histogram":
		if cfg.Embedder.Dimension != histogram.Dimension {
			return nil, fmt.Errorf("histogram embedder produces %d dimensions, configured %d", histogram.Dimension, cfg.Embedder.Dimension)
		}
		return histogram.NewEmbedder(), nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
	}
}

func newStorage(ctx context.Context, cfg *config.AppConfig, localOnly bool, logger arbor.ILogger) (vectorstore.Storage, error) {
	typ := cfg.VectorStore.Type
	if localOnly {
		typ = "memory"
	}
	switch typ {
	case "memory":
		return memory.NewStorage(), nil
	case "opensearch", "":
		o := cfg.VectorStore.OpenSearch
		st, err := opensearch.NewStorage(ctx, opensearch.Config{
			Host:               o.Host,
			Port:               o.Port,
			Username:           o.Username,
			Password:           o.Password,
			UseSSL:             o.UseSSL,
			InsecureSkipVerify: o.InsecureSkipVerify,
			Timeout:            time.Duration(o.TimeoutSecs) * time.Second,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("opensearch init failed: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown vector store: %s", typ)
	}
}

func sinkLabel(cfg *config.AppConfig, st vectorstore.Storage) string {
	if s, ok := st.(*opensearch.Storage); ok {
		o := cfg.VectorStore.OpenSearch
		return fmt.Sprintf("%s %s:%d (v%s)", s.Name(), o.Host, o.Port, s.Version())
	}
	return st.Name() + " (documents are not persisted)"
}

// configWarnings lists insecure defaults that are still in effect.
func configWarnings(cfg *config.AppConfig, localOnly bool) []string {
	o := cfg.VectorStore.OpenSearch
	if localOnly || cfg.VectorStore.Type != "opensearch" || o == nil {
		return nil
	}
	var out []string
	if cfg.UsesDefaultCredentials() {
		out = append(out, "OpenSearch is using the default admin/admin credentials")
	}
	if !o.UseSSL {
		out = append(out, "OpenSearch connection is not using TLS")
	} else if o.InsecureSkipVerify {
		out = append(out, "OpenSearch TLS certificate verification is disabled")
	}
	return out
}
