package clip

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"imgvec/internal/embedding"
)

// Client embeds images through a CLIP inference server.
// The server is probed once at construction; every Embed call reuses that session.
type Client struct {
	baseURL    string
	model      string
	dimension  int
	imageSize  int
	device     string
	client     *http.Client
	maxRetries int
	logger     arbor.ILogger
}

// Config configures the CLIP inference client.
type Config struct {
	BaseURL    string
	Model      string
	Dimension  int
	ImageSize  int
	Timeout    time.Duration
	MaxRetries int
}

// NewClient creates a client and verifies the inference server is up.
func NewClient(ctx context.Context, cfg Config, logger arbor.ILogger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("clip: base url is required")
	}
	if cfg.Model == "" {
		cfg.Model = "openai/clip-vit-base-patch32"
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 512
	}
	if cfg.ImageSize <= 0 {
		cfg.ImageSize = 224
	}
	t := cfg.Timeout
	if t == 0 {
		t = 60 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		imageSize:  cfg.ImageSize,
		client:     &http.Client{Timeout: t},
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}
	if err := c.probe(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "clip:" + c.model }

// Dimension returns the dimensionality of the produced embedding vectors.
func (c *Client) Dimension() int { return c.dimension }

// Device reports the accelerator the server said it runs on.
func (c *Client) Device() string { return c.device }

// probe asks the server which device it loaded the model on. The answer is
// kept internal; callers only see a ready client or an error.
func (c *Client) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("clip: server unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("clip: health check failed: %s", resp.Status)
	}
	var health struct {
		Device    string `json:"device"`
		Model     string `json:"model"`
		Dimension int    `json:"dimension"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("clip: decode health: %w", err)
	}
	if health.Dimension != 0 && health.Dimension != c.dimension {
		return fmt.Errorf("clip: server dimension %d, configured %d", health.Dimension, c.dimension)
	}
	c.device = health.Device
	if c.device == "" {
		c.device = "cpu"
	}
	c.logger.Info().Str("model", c.model).Str("device", c.device).Msg("CLIP model ready")
	return nil
}

// Embed converts data to RGB, applies CLIP geometry and returns the normalized image features.
func (c *Client) Embed(ctx context.Context, data []byte) ([]float32, error) {
	img, _, err := embedding.DecodeRGB(data)
	if err != nil {
		return nil, err
	}
	pixels, err := embedding.EncodePNG(embedding.CenterCrop(img, c.imageSize))
	if err != nil {
		return nil, fmt.Errorf("clip: encode: %w", err)
	}
	type reqBody struct {
		Model string `json:"model"`
		Image string `json:"image"`
	}
	body, err := json.Marshal(reqBody{Model: c.model, Image: base64.StdEncoding.EncodeToString(pixels)})
	if err != nil {
		return nil, err
	}

	url := c.baseURL + "/embed"
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() == nil && attempt < c.maxRetries {
				if werr := wait(ctx, retryDelay(attempt)); werr != nil {
					return nil, werr
				}
				continue
			}
			return nil, err
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			delay := retryDelay(attempt)
			if secs, perr := strconv.Atoi(resp.Header.Get("Retry-After")); perr == nil {
				delay = time.Duration(secs) * time.Second
			}
			_ = resp.Body.Close()
			if attempt < c.maxRetries {
				if werr := wait(ctx, delay); werr != nil {
					return nil, werr
				}
				continue
			}
			return nil, fmt.Errorf("clip: embed failed: %s", resp.Status)
		}

		payload, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("clip: embed failed: %s: %s", resp.Status, strings.TrimSpace(string(payload)))
		}
		raw, err := decodeEmbedding(payload)
		if err != nil {
			return nil, err
		}
		if len(raw) != c.dimension {
			return nil, fmt.Errorf("clip: got %d dimensions, want %d", len(raw), c.dimension)
		}
		return embedding.Normalize(raw)
	}
	return nil, errors.New("clip: no embedding returned")
}

// decodeEmbedding accepts the native {"embedding": [...]} shape and the
// OpenAI-compatible {"data": [{"embedding": [...]}]} shape.
func decodeEmbedding(payload []byte) ([]float64, error) {
	var out struct {
		Embedding []float64 `json:"embedding"`
		Data      []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("clip: decode response: %w", err)
	}
	if len(out.Embedding) > 0 {
		return out.Embedding, nil
	}
	if len(out.Data) > 0 && len(out.Data[0].Embedding) > 0 {
		return out.Data[0].Embedding, nil
	}
	return nil, errors.New("clip: empty embedding")
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const maxRetryDelay = 5 * time.Second

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 200ms << 5 already exceeds the cap; clamping first keeps the shift from overflowing.
	if attempt > 5 {
		attempt = 5
	}
	d := 200 * time.Millisecond << attempt
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}
