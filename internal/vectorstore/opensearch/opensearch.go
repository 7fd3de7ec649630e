package opensearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	opensearchgo "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"github.com/ternarybob/arbor"
	"github.com/tidwall/gjson"

	"imgvec/internal/domain"
	"imgvec/internal/vectorstore"
)

// Storage is a document sink backed by an OpenSearch k-NN index.
// One client is opened at construction and reused for every request.
type Storage struct {
	client  *opensearchgo.Client
	addr    string
	timeout time.Duration
	version string
	logger  arbor.ILogger
}

// Config contains connection details for an OpenSearch node.
type Config struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseSSL             bool
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// Address returns the node URL derived from host, port and scheme.
func (c Config) Address() string {
	scheme := "http"
	if c.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

// NewStorage opens a client and performs a single liveness call.
// An unreachable node is returned as an error; callers treat it as fatal.
func NewStorage(ctx context.Context, cfg Config, logger arbor.ILogger) (*Storage, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client, err := opensearchgo.NewClient(opensearchgo.Config{
		Addresses:    []string{cfg.Address()},
		Username:     cfg.Username,
		Password:     cfg.Password,
		DisableRetry: true,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}, //nolint:gosec // opt-in via config
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opensearch: client: %w", err)
	}
	s := &Storage{client: client, addr: cfg.Address(), timeout: timeout, logger: logger}
	if err := s.ping(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Name identifies the sink in logs.
func (s *Storage) Name() string { return "opensearch" }

// Version returns the server version reported at connect time.
func (s *Storage) Version() string { return s.version }

func (s *Storage) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := opensearchapi.InfoRequest{}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("opensearch: connect %s: %w", s.addr, err)
	}
	body, err := readBody(res)
	if err != nil {
		return err
	}
	if res.IsError() {
		return fmt.Errorf("opensearch: connect %s: %s", s.addr, res.Status())
	}
	s.version = gjson.GetBytes(body, "version.number").String()
	s.logger.Info().Str("address", s.addr).Str("version", s.version).Msg("Connected to OpenSearch")
	return nil
}

// EnsureCollection creates the index with the fixed image mapping when it is
// missing. An existing index is left untouched.
func (s *Storage) EnsureCollection(ctx context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return errors.New("opensearch: invalid dimension")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := opensearchapi.IndicesExistsRequest{Index: []string{name}}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("opensearch: check index %s: %w", name, err)
	}
	if _, err := readBody(res); err != nil {
		return err
	}
	switch res.StatusCode {
	case http.StatusOK:
		s.logger.Info().Str("index", name).Msg("Index already exists")
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("opensearch: check index %s: %s", name, res.Status())
	}

	mapping, err := json.Marshal(vectorstore.IndexMapping(dimension))
	if err != nil {
		return err
	}
	res, err = opensearchapi.IndicesCreateRequest{Index: name, Body: bytes.NewReader(mapping)}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("opensearch: create index %s: %w", name, err)
	}
	body, err := readBody(res)
	if err != nil {
		return err
	}
	if res.IsError() {
		// Another writer may have created it between the HEAD and the PUT.
		if gjson.GetBytes(body, "error.type").String() == "resource_already_exists_exception" {
			return nil
		}
		return fmt.Errorf("opensearch: create index %s: %s: %s", name, res.Status(), errorReason(body))
	}
	s.logger.Info().Str("index", name).Int("dimension", dimension).Msg("Created index")
	return nil
}

// Put upserts a single document under id.
func (s *Storage) Put(ctx context.Context, collection, id string, doc domain.ImageDocument) error {
	if id == "" {
		return errors.New("opensearch: empty document id")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := opensearchapi.IndexRequest{
		Index:      collection,
		DocumentID: id,
		Body:       bytes.NewReader(data),
	}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("opensearch: index %s: %w", id, err)
	}
	body, err := readBody(res)
	if err != nil {
		return err
	}
	if res.IsError() {
		return fmt.Errorf("opensearch: index %s: %s: %s", id, res.Status(), errorReason(body))
	}
	return nil
}

// PutBatch sends docs in one _bulk request keyed by image hash. Item-level
// failures are counted, not retried.
func (s *Storage) PutBatch(ctx context.Context, collection string, docs []domain.ImageDocument) (domain.BatchResult, error) {
	if len(docs) == 0 {
		return domain.BatchResult{}, nil
	}
	payload, err := vectorstore.EncodeBulk(collection, docs)
	if err != nil {
		return domain.BatchResult{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := opensearchapi.BulkRequest{Index: collection, Body: bytes.NewReader(payload)}.Do(ctx, s.client)
	if err != nil {
		return domain.BatchResult{Failed: len(docs)}, fmt.Errorf("opensearch: bulk: %w", err)
	}
	body, err := readBody(res)
	if err != nil {
		return domain.BatchResult{Failed: len(docs)}, err
	}
	if res.IsError() {
		return domain.BatchResult{Failed: len(docs)}, fmt.Errorf("opensearch: bulk: %s: %s", res.Status(), errorReason(body))
	}
	return parseBulkResponse(body, len(docs))
}

// parseBulkResponse counts per-item outcomes in a _bulk reply.
func parseBulkResponse(body []byte, sent int) (domain.BatchResult, error) {
	var result domain.BatchResult
	var firstReason string
	gjson.GetBytes(body, "items").ForEach(func(_, item gjson.Result) bool {
		action := item.Get("index")
		if !action.Exists() {
			action = item.Get("create")
		}
		if action.Get("error").Exists() {
			result.Failed++
			if firstReason == "" {
				firstReason = action.Get("error.reason").String()
			}
			return true
		}
		result.Indexed++
		return true
	})
	if result.Indexed+result.Failed != sent {
		return result, fmt.Errorf("opensearch: bulk: %d items acknowledged, %d sent", result.Indexed+result.Failed, sent)
	}
	if result.Failed > 0 {
		return result, fmt.Errorf("opensearch: bulk: %d of %d items failed: %s", result.Failed, sent, firstReason)
	}
	return result, nil
}

func readBody(res *opensearchapi.Response) ([]byte, error) {
	if res.Body == nil {
		return nil, nil
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("opensearch: read response: %w", err)
	}
	return body, nil
}

func errorReason(body []byte) string {
	if r := gjson.GetBytes(body, "error.reason"); r.Exists() {
		return r.String()
	}
	return strings.TrimSpace(string(body))
}

var _ vectorstore.Storage = (*Storage)(nil)
