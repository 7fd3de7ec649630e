package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"imgvec/internal/config"
	"imgvec/internal/service"
	"imgvec/internal/vectorstore/memory"
)

func TestConfigWarningsForDefaults(t *testing.T) {
	cfg := config.Default()
	warnings := configWarnings(cfg, false)
	assert.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "admin/admin")

	assert.Empty(t, configWarnings(cfg, true))

	cfg.VectorStore.OpenSearch.Password = "s3cret"
	cfg.VectorStore.OpenSearch.UseSSL = true
	assert.Equal(t, []string{"OpenSearch TLS certificate verification is disabled"}, configWarnings(cfg, false))
}

func TestNewStorageLocalOnly(t *testing.T) {
	st, err := newStorage(context.Background(), config.Default(), true, arbor.NewLogger())
	require.NoError(t, err)
	assert.IsType(t, &memory.Storage{}, st)
	assert.Contains(t, sinkLabel(config.Default(), st), "memory")
}

func TestNewEmbedderHistogramDimension(t *testing.T) {
	cfg := config.Default()
	cfg.Embedder.Type = "histogram"
	emb, err := newEmbedder(context.Background(), cfg, arbor.NewLogger())
	require.NoError(t, err)
	assert.Equal(t, "histogram", emb.Name())

	cfg.Embedder.Dimension = 768
	_, err = newEmbedder(context.Background(), cfg, arbor.NewLogger())
	assert.Error(t, err)

	cfg.Embedder.Type = "bogus"
	_, err = newEmbedder(context.Background(), cfg, arbor.NewLogger())
	assert.Error(t, err)
}

func TestConvertLocalOnlyWithHistogram(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.Embedder.Type = "histogram"
	cfg.Converter.ImagesDir = filepath.Join(root, "images")
	cfg.Converter.OutputDir = filepath.Join(root, "out")
	require.NoError(t, os.MkdirAll(cfg.Converter.ImagesDir, 0o755))

	_, err := convert(context.Background(), cfg, true, true)
	assert.ErrorIs(t, err, service.ErrNoImages)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imgvec.yaml")
	require.NoError(t, os.WriteFile(path, []byte("converter:\n  batch_size: -1\n"), 0o644))
	_, err := loadConfig(path)
	assert.Error(t, err)
}
