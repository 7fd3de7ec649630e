package vectorstore

// EFSearch is the HNSW query-time candidate list size set on new indices.
const EFSearch = 100

// IndexMapping returns the fixed settings and mappings body for an image
// vector index. The vector field is an HNSW graph on the lucene engine with
// cosine similarity.
func IndexMapping(dimension int) map[string]any {
	return map[string]any{
		"settings": map[string]any{
			"index": map[string]any{
				"knn":                      true,
				"knn.algo_param.ef_search": EFSearch,
			},
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"image_path": map[string]any{"type": "keyword"},
				"image_name": map[string]any{"type": "text"},
				"image_hash": map[string]any{"type": "keyword"},
				"vector": map[string]any{
					"type":      "knn_vector",
					"dimension": dimension,
					"method": map[string]any{
						"name":       "hnsw",
						"space_type": "cosinesimil",
						"engine":     "lucene",
					},
				},
				"metadata": map[string]any{
					"properties": map[string]any{
						"file_size":    map[string]any{"type": "long"},
						"created_at":   map[string]any{"type": "date"},
						"processed_at": map[string]any{"type": "date"},
					},
				},
			},
		},
	}
}
