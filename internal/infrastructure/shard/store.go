// Package shard reads the on-disk corpus layout: one folder per shard under
// <root>/<profile>, each holding parallel arrays of chunk texts
// (chunks.txt, blank-line separated), chunk metadata (metadata.json) and
// chunk embeddings (embeddings.npy). Shards are read-only at query time and
// independently loadable: a corrupt shard is skipped, never fatal.
package shard

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rialtolabs/ragcore/internal/core/domain"
)

const (
	chunksFile     = "chunks.txt"
	metadataFile   = "metadata.json"
	embeddingsFile = "embeddings.npy"
)

var chunkSeparator = regexp.MustCompile(`\n\s*\n`)

// Shard is one loaded sub-corpus. Embeddings are row-major, Dim columns per
// chunk; Embeddings is nil when loaded text-only.
type Shard struct {
	ID         string
	Chunks     []string
	Metadata   []map[string]string
	Embeddings []float32
	Dim        int
}

func (s *Shard) Row(i int) []float32 {
	return s.Embeddings[i*s.Dim : (i+1)*s.Dim]
}

// Store discovers and loads shards under a corpus root and profile.
type Store struct {
	root    string
	profile string
	logger  *slog.Logger
}

func NewStore(root, profile string, logger *slog.Logger) *Store {
	return &Store{root: root, profile: profile, logger: logger}
}

// List walks the profile folder recursively and returns every directory that
// carries all three shard files. The shard id is the path relative to the
// profile root.
func (s *Store) List() ([]string, error) {
	base := filepath.Join(s.root, s.profile)
	var ids []string
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		for _, name := range []string{chunksFile, metadataFile, embeddingsFile} {
			if _, statErr := os.Stat(filepath.Join(path, name)); statErr != nil {
				return nil
			}
		}
		rel, relErr := filepath.Rel(base, path)
		if relErr != nil {
			return relErr
		}
		ids = append(ids, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk corpus %s: %w", base, err)
	}
	return ids, nil
}

// Load reads one shard and enforces the parallel-array invariant.
func (s *Store) Load(id string) (*Shard, error) {
	sh, err := s.loadText(id)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(s.root, s.profile, id)
	embeddings, dim, err := readNpyMatrix(filepath.Join(dir, embeddingsFile))
	if err != nil {
		return nil, domain.WrapError(domain.ErrShardCorrupt, "read embeddings "+id, err)
	}
	rows := 0
	if dim > 0 {
		rows = len(embeddings) / dim
	}
	if rows != len(sh.Chunks) {
		return nil, domain.WrapError(domain.ErrShardCorrupt, "load shard "+id,
			fmt.Errorf("embeddings rows %d != chunks %d", rows, len(sh.Chunks)))
	}

	sh.Embeddings = embeddings
	sh.Dim = dim
	s.logger.Debug("shard_loaded", "shard", id, "chunks", len(sh.Chunks), "dim", dim)
	return sh, nil
}

// LoadText reads chunk texts and metadata only, for the lexical side.
func (s *Store) LoadText(id string) (*Shard, error) {
	return s.loadText(id)
}

func (s *Store) loadText(id string) (*Shard, error) {
	dir := filepath.Join(s.root, s.profile, id)

	raw, err := os.ReadFile(filepath.Join(dir, chunksFile))
	if err != nil {
		return nil, domain.WrapError(domain.ErrShardCorrupt, "read chunks "+id, err)
	}
	chunks := SplitChunks(string(raw))

	metaRaw, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, domain.WrapError(domain.ErrShardCorrupt, "read metadata "+id, err)
	}
	metadata, err := decodeMetadata(metaRaw)
	if err != nil {
		return nil, domain.WrapError(domain.ErrShardCorrupt, "parse metadata "+id, err)
	}

	if len(chunks) != len(metadata) {
		return nil, domain.WrapError(domain.ErrShardCorrupt, "load shard "+id,
			fmt.Errorf("chunks %d != metadata %d", len(chunks), len(metadata)))
	}

	return &Shard{ID: id, Chunks: chunks, Metadata: metadata}, nil
}

// SplitChunks splits raw chunk text on blank lines and trims empties.
func SplitChunks(raw string) []string {
	parts := chunkSeparator.Split(raw, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func decodeMetadata(raw []byte) ([]map[string]string, error) {
	var entries []map[string]any
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	out := make([]map[string]string, len(entries))
	for i, entry := range entries {
		m := make(map[string]string, len(entry))
		for k, v := range entry {
			switch typed := v.(type) {
			case string:
				m[k] = typed
			case nil:
				m[k] = ""
			default:
				m[k] = fmt.Sprint(typed)
			}
		}
		out[i] = m
	}
	return out, nil
}
