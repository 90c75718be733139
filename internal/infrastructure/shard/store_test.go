package shard

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/rialtolabs/ragcore/internal/core/domain"
)

// writeNpy writes a minimal NPY v1.0 file with float32 payload.
func writeNpy(t *testing.T, path string, rows, cols int, vals []float32) {
	t.Helper()
	if len(vals) != rows*cols {
		t.Fatalf("fixture: %d values for %dx%d", len(vals), rows, cols)
	}

	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d, %d), }", rows, cols)
	pad := 64 - (10+len(header)+1)%64
	if pad == 64 {
		pad = 0
	}
	header += string(bytes.Repeat([]byte{' '}, pad)) + "\n"

	var buf bytes.Buffer
	buf.Write([]byte{0x93, 'N', 'U', 'M', 'P', 'Y', 1, 0})
	if err := binary.Write(&buf, binary.LittleEndian, uint16(len(header))); err != nil {
		t.Fatalf("fixture header: %v", err)
	}
	buf.WriteString(header)
	if err := binary.Write(&buf, binary.LittleEndian, vals); err != nil {
		t.Fatalf("fixture payload: %v", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func writeShardDir(t *testing.T, dir string, chunks string, metadata string, rows, cols int, vals []float32) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, chunksFile), []byte(chunks), 0o644); err != nil {
		t.Fatalf("write chunks: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), []byte(metadata), 0o644); err != nil {
		t.Fatalf("write metadata: %v", err)
	}
	writeNpy(t, filepath.Join(dir, embeddingsFile), rows, cols, vals)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStoreListFindsNestedShards(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "support")

	writeShardDir(t, filepath.Join(base, "faq"),
		"alpha\n\nbeta\n",
		`[{"source":"faq.md"},{"source":"faq.md"}]`,
		2, 2, []float32{1, 0, 0, 1})
	writeShardDir(t, filepath.Join(base, "policies", "refunds"),
		"gamma\n",
		`[{"source":"refunds.md"}]`,
		1, 2, []float32{0.5, 0.5})
	// a folder missing embeddings must not be listed
	partial := filepath.Join(base, "broken")
	if err := os.MkdirAll(partial, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(partial, chunksFile), []byte("x\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	store := NewStore(root, "support", testLogger())
	ids, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("want 2 shards, got %v", ids)
	}
	want := map[string]bool{"faq": true, filepath.Join("policies", "refunds"): true}
	for _, id := range ids {
		if !want[id] {
			t.Fatalf("unexpected shard id %q", id)
		}
	}
}

func TestStoreLoadParsesParallelArrays(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "support", "faq")
	writeShardDir(t, dir,
		"first chunk line one\nline two\n\nsecond chunk\n\n\nthird chunk\n",
		`[{"source":"a.md","page":3},{"source":"b.md","page":null},{"source":"c.md"}]`,
		3, 2, []float32{1, 0, 0, 1, 0.5, 0.5})

	store := NewStore(root, "support", testLogger())
	sh, err := store.Load("faq")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(sh.Chunks) != 3 {
		t.Fatalf("want 3 chunks, got %d", len(sh.Chunks))
	}
	if sh.Chunks[0] != "first chunk line one\nline two" {
		t.Fatalf("chunk 0 = %q", sh.Chunks[0])
	}
	if sh.Metadata[0]["page"] != "3" {
		t.Fatalf("numeric metadata not stringified: %q", sh.Metadata[0]["page"])
	}
	if sh.Metadata[1]["page"] != "" {
		t.Fatalf("null metadata should be empty, got %q", sh.Metadata[1]["page"])
	}
	if sh.Dim != 2 {
		t.Fatalf("dim = %d", sh.Dim)
	}
	row := sh.Row(2)
	if row[0] != 0.5 || row[1] != 0.5 {
		t.Fatalf("row 2 = %v", row)
	}
}

func TestStoreLoadRejectsRowMismatch(t *testing.T) {
	root := t.TempDir()
	writeShardDir(t, filepath.Join(root, "support", "faq"),
		"only one chunk\n",
		`[{"source":"a.md"}]`,
		2, 2, []float32{1, 0, 0, 1})

	store := NewStore(root, "support", testLogger())
	if _, err := store.Load("faq"); !errors.Is(err, domain.ErrShardCorrupt) {
		t.Fatalf("want ErrShardCorrupt, got %v", err)
	}
}

func TestStoreLoadRejectsMetadataMismatch(t *testing.T) {
	root := t.TempDir()
	writeShardDir(t, filepath.Join(root, "support", "faq"),
		"one\n\ntwo\n",
		`[{"source":"a.md"}]`,
		2, 2, []float32{1, 0, 0, 1})

	store := NewStore(root, "support", testLogger())
	if _, err := store.LoadText("faq"); !errors.Is(err, domain.ErrShardCorrupt) {
		t.Fatalf("want ErrShardCorrupt, got %v", err)
	}
}

func TestSplitChunksDropsEmpties(t *testing.T) {
	got := SplitChunks("a\n\n\n\nb\n\n  \n\nc")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("got %v", got)
	}
	if got := SplitChunks("   \n\n \n"); len(got) != 0 {
		t.Fatalf("blank input should yield no chunks, got %v", got)
	}
}

func TestLoadLegacyPlaceholdersForMissingDocs(t *testing.T) {
	dir := t.TempDir()
	writeNpy(t, filepath.Join(dir, legacyIndexFile), 2, 3, []float32{1, 0, 0, 0, 1, 0})
	if err := os.WriteFile(filepath.Join(dir, legacyIDsFile), []byte(`["doc-1","doc-2"]`), 0o644); err != nil {
		t.Fatalf("write ids: %v", err)
	}
	docstore := `{"doc-1":{"text":"known text","metadata":{"source":"old.md"}}}`
	if err := os.WriteFile(filepath.Join(dir, legacyDocstoreFile), []byte(docstore), 0o644); err != nil {
		t.Fatalf("write docstore: %v", err)
	}

	sh, err := LoadLegacy(dir)
	if err != nil {
		t.Fatalf("LoadLegacy: %v", err)
	}
	if sh.Chunks[0] != "known text" || sh.Metadata[0]["source"] != "old.md" {
		t.Fatalf("doc-1 = %q %v", sh.Chunks[0], sh.Metadata[0])
	}
	if sh.Chunks[1] != "[missing chunk doc-2]" {
		t.Fatalf("placeholder = %q", sh.Chunks[1])
	}
	if sh.Metadata[1]["id"] != "doc-2" {
		t.Fatalf("placeholder metadata = %v", sh.Metadata[1])
	}
}

func TestLoadLegacyRejectsIDCountMismatch(t *testing.T) {
	dir := t.TempDir()
	writeNpy(t, filepath.Join(dir, legacyIndexFile), 2, 2, []float32{1, 0, 0, 1})
	if err := os.WriteFile(filepath.Join(dir, legacyIDsFile), []byte(`["doc-1"]`), 0o644); err != nil {
		t.Fatalf("write ids: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, legacyDocstoreFile), []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write docstore: %v", err)
	}
	if _, err := LoadLegacy(dir); !errors.Is(err, domain.ErrShardCorrupt) {
		t.Fatalf("want ErrShardCorrupt, got %v", err)
	}
}
