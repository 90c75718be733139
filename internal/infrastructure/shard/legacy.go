package shard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rialtolabs/ragcore/internal/core/domain"
)

const (
	legacyIndexFile    = "index.npy"
	legacyDocstoreFile = "docstore.json"
	legacyIDsFile      = "ids.json"
)

type legacyDoc struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// LoadLegacy reads a pre-shard corpus export: one flat embedding matrix
// (index.npy), a row-ordered id list (ids.json) and a docstore keyed by id
// (docstore.json). The result is a single synthetic shard. Ids absent from
// the docstore keep their embedding row and get a placeholder text, so row
// indices stay aligned with the matrix.
func LoadLegacy(dir string) (*Shard, error) {
	embeddings, dim, err := readNpyMatrix(filepath.Join(dir, legacyIndexFile))
	if err != nil {
		return nil, domain.WrapError(domain.ErrShardCorrupt, "read legacy index", err)
	}

	idsRaw, err := os.ReadFile(filepath.Join(dir, legacyIDsFile))
	if err != nil {
		return nil, domain.WrapError(domain.ErrShardCorrupt, "read legacy ids", err)
	}
	var ids []string
	if err := json.Unmarshal(idsRaw, &ids); err != nil {
		return nil, domain.WrapError(domain.ErrShardCorrupt, "parse legacy ids", err)
	}

	rows := 0
	if dim > 0 {
		rows = len(embeddings) / dim
	}
	if rows != len(ids) {
		return nil, domain.WrapError(domain.ErrShardCorrupt, "load legacy corpus",
			fmt.Errorf("index rows %d != ids %d", rows, len(ids)))
	}

	docRaw, err := os.ReadFile(filepath.Join(dir, legacyDocstoreFile))
	if err != nil {
		return nil, domain.WrapError(domain.ErrShardCorrupt, "read legacy docstore", err)
	}
	var docs map[string]legacyDoc
	if err := json.Unmarshal(docRaw, &docs); err != nil {
		return nil, domain.WrapError(domain.ErrShardCorrupt, "parse legacy docstore", err)
	}

	sh := &Shard{
		ID:         "legacy",
		Chunks:     make([]string, len(ids)),
		Metadata:   make([]map[string]string, len(ids)),
		Embeddings: embeddings,
		Dim:        dim,
	}
	for i, id := range ids {
		doc, ok := docs[id]
		if !ok {
			sh.Chunks[i] = "[missing chunk " + id + "]"
			sh.Metadata[i] = map[string]string{"id": id}
			continue
		}
		sh.Chunks[i] = doc.Text
		meta := make(map[string]string, len(doc.Metadata)+1)
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		meta["id"] = id
		sh.Metadata[i] = meta
	}
	return sh, nil
}
