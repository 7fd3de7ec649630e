package opensearch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"imgvec/internal/domain"
)

// fakeCluster emulates the handful of OpenSearch endpoints the sink uses.
type fakeCluster struct {
	mu          sync.Mutex
	indices     map[string]json.RawMessage
	docs        map[string]json.RawMessage
	creates     int
	bulkCalls   int
	failItemIDs map[string]bool
	bulkStatus  int
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		indices:     map[string]json.RawMessage{},
		docs:        map[string]json.RawMessage{},
		failItemIDs: map[string]bool{},
	}
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	switch {
	case r.URL.Path == "/" && r.Method == http.MethodGet:
		_, _ = io.WriteString(w, `{"name":"node-1","version":{"distribution":"opensearch","number":"2.11.0"},"tagline":"The OpenSearch Project"}`)
	case len(parts) == 1 && r.Method == http.MethodHead:
		if _, ok := f.indices[parts[0]]; ok {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	case len(parts) == 1 && r.Method == http.MethodPut:
		if _, ok := f.indices[parts[0]]; ok {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":{"type":"resource_already_exists_exception","reason":"index exists"},"status":400}`)
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.indices[parts[0]] = body
		f.creates++
		_, _ = io.WriteString(w, `{"acknowledged":true,"index":"`+parts[0]+`"}`)
	case len(parts) == 3 && parts[1] == "_doc":
		body, _ := io.ReadAll(r.Body)
		f.docs[parts[2]] = body
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"result":"created","_id":"`+parts[2]+`"}`)
	case len(parts) == 2 && parts[1] == "_bulk":
		f.bulkCalls++
		if f.bulkStatus != 0 {
			w.WriteHeader(f.bulkStatus)
			_, _ = io.WriteString(w, `{"error":{"reason":"cluster unavailable"}}`)
			return
		}
		f.handleBulk(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeCluster) handleBulk(w http.ResponseWriter, r *http.Request) {
	sc := bufio.NewScanner(r.Body)
	sc.Buffer(make([]byte, 1<<20), 1<<24)
	var items []string
	hasErrors := false
	for sc.Scan() {
		var action struct {
			Index struct {
				ID string `json:"_id"`
			} `json:"index"`
		}
		_ = json.Unmarshal(sc.Bytes(), &action)
		if !sc.Scan() {
			break
		}
		id := action.Index.ID
		if f.failItemIDs[id] {
			hasErrors = true
			items = append(items, `{"index":{"_id":"`+id+`","status":400,"error":{"type":"mapper_parsing_exception","reason":"bad vector"}}}`)
			continue
		}
		f.docs[id] = append(json.RawMessage(nil), sc.Bytes()...)
		items = append(items, `{"index":{"_id":"`+id+`","status":201,"result":"created"}}`)
	}
	_, _ = io.WriteString(w, `{"took":3,"errors":`+strconv.FormatBool(hasErrors)+`,"items":[`+strings.Join(items, ",")+`]}`)
}

func startCluster(t *testing.T, f *fakeCluster) Config {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	host, port, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return Config{Host: host, Port: p, Username: "admin", Password: "admin", Timeout: 5 * time.Second}
}

func doc(hash string) domain.ImageDocument {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return domain.ImageDocument{
		ImagePath: "images/" + hash + ".jpg",
		ImageName: hash + ".jpg",
		ImageHash: hash,
		Vector:    []float32{0.6, 0.8},
		Metadata:  domain.ImageMetadata{FileSize: 42, CreatedAt: now, ProcessedAt: now},
	}
}

func TestConfigAddress(t *testing.T) {
	assert.Equal(t, "http://localhost:9200", Config{Host: "localhost", Port: 9200}.Address())
	assert.Equal(t, "https://search:443", Config{Host: "search", Port: 443, UseSSL: true}.Address())
}

func TestNewStorageReadsVersion(t *testing.T) {
	cfg := startCluster(t, newFakeCluster())

	s, err := NewStorage(context.Background(), cfg, arbor.NewLogger())
	require.NoError(t, err)
	assert.Equal(t, "2.11.0", s.Version())
	assert.Equal(t, "opensearch", s.Name())
}

func TestNewStorageUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	host, port, _ := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	srv.Close()
	p, _ := strconv.Atoi(port)

	_, err := NewStorage(context.Background(), Config{Host: host, Port: p, Timeout: time.Second}, arbor.NewLogger())
	assert.Error(t, err)
}

func TestEnsureCollectionIsIdempotent(t *testing.T) {
	f := newFakeCluster()
	s, err := NewStorage(context.Background(), startCluster(t, f), arbor.NewLogger())
	require.NoError(t, err)

	require.NoError(t, s.EnsureCollection(context.Background(), "image_vectors", 512))
	require.NoError(t, s.EnsureCollection(context.Background(), "image_vectors", 512))
	assert.Equal(t, 1, f.creates)

	var body map[string]any
	require.NoError(t, json.Unmarshal(f.indices["image_vectors"], &body))
	vector := body["mappings"].(map[string]any)["properties"].(map[string]any)["vector"].(map[string]any)
	assert.Equal(t, "knn_vector", vector["type"])
	assert.EqualValues(t, 512, vector["dimension"])
	assert.Equal(t, "cosinesimil", vector["method"].(map[string]any)["space_type"])
}

func TestEnsureCollectionLeavesExistingIndexAlone(t *testing.T) {
	f := newFakeCluster()
	f.indices["image_vectors"] = json.RawMessage(`{"custom":true}`)
	s, err := NewStorage(context.Background(), startCluster(t, f), arbor.NewLogger())
	require.NoError(t, err)

	require.NoError(t, s.EnsureCollection(context.Background(), "image_vectors", 512))
	assert.Zero(t, f.creates)
	assert.JSONEq(t, `{"custom":true}`, string(f.indices["image_vectors"]))
}

func TestPutUpsertsByID(t *testing.T) {
	f := newFakeCluster()
	s, err := NewStorage(context.Background(), startCluster(t, f), arbor.NewLogger())
	require.NoError(t, err)

	require.NoError(t, s.Put(context.Background(), "image_vectors", "abc", doc("abc")))
	require.Contains(t, f.docs, "abc")
	assert.Contains(t, string(f.docs["abc"]), `"image_hash":"abc"`)

	assert.Error(t, s.Put(context.Background(), "image_vectors", "", doc("abc")))
}

func TestPutBatchKeysByHash(t *testing.T) {
	f := newFakeCluster()
	s, err := NewStorage(context.Background(), startCluster(t, f), arbor.NewLogger())
	require.NoError(t, err)

	res, err := s.PutBatch(context.Background(), "image_vectors", []domain.ImageDocument{doc("h1"), doc("h2"), doc("h3")})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchResult{Indexed: 3}, res)
	assert.Equal(t, 1, f.bulkCalls)
	assert.Len(t, f.docs, 3)

	// Same hashes again overwrite rather than duplicate.
	_, err = s.PutBatch(context.Background(), "image_vectors", []domain.ImageDocument{doc("h1")})
	require.NoError(t, err)
	assert.Len(t, f.docs, 3)
}

func TestPutBatchReportsItemFailures(t *testing.T) {
	f := newFakeCluster()
	f.failItemIDs["bad"] = true
	s, err := NewStorage(context.Background(), startCluster(t, f), arbor.NewLogger())
	require.NoError(t, err)

	res, err := s.PutBatch(context.Background(), "image_vectors", []domain.ImageDocument{doc("ok"), doc("bad")})
	assert.ErrorContains(t, err, "bad vector")
	assert.Equal(t, domain.BatchResult{Indexed: 1, Failed: 1}, res)
}

func TestPutBatchRequestFailure(t *testing.T) {
	f := newFakeCluster()
	f.bulkStatus = http.StatusServiceUnavailable
	s, err := NewStorage(context.Background(), startCluster(t, f), arbor.NewLogger())
	require.NoError(t, err)

	res, err := s.PutBatch(context.Background(), "image_vectors", []domain.ImageDocument{doc("a"), doc("b")})
	assert.ErrorContains(t, err, "cluster unavailable")
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 1, f.bulkCalls, "failed batches are not retried")
}

func TestPutBatchEmptyIsNoop(t *testing.T) {
	f := newFakeCluster()
	s, err := NewStorage(context.Background(), startCluster(t, f), arbor.NewLogger())
	require.NoError(t, err)

	res, err := s.PutBatch(context.Background(), "image_vectors", nil)
	require.NoError(t, err)
	assert.Zero(t, res)
	assert.Zero(t, f.bulkCalls)
}

func TestParseBulkResponseCountMismatch(t *testing.T) {
	_, err := parseBulkResponse([]byte(`{"errors":false,"items":[{"index":{"status":201}}]}`), 2)
	assert.Error(t, err)

	res, err := parseBulkResponse(bytes.TrimSpace([]byte(`{"items":[{"create":{"status":201}}]}`)), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Indexed)
}
