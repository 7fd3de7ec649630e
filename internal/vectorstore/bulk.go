package vectorstore

import (
	"bytes"
	"encoding/json"
	"fmt"

	"imgvec/internal/domain"
)

type bulkAction struct {
	Index bulkTarget `json:"index"`
}

type bulkTarget struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

// EncodeBulk renders docs as newline-delimited index actions keyed by image hash.
// The same bytes feed the _bulk endpoint and the replayable bulk_index.ndjson file.
func EncodeBulk(collection string, docs []domain.ImageDocument) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range docs {
		if d.ImageHash == "" {
			return nil, fmt.Errorf("bulk: document %q has no image hash", d.ImageName)
		}
		if err := enc.Encode(bulkAction{Index: bulkTarget{Index: collection, ID: d.ImageHash}}); err != nil {
			return nil, err
		}
		if err := enc.Encode(d); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
