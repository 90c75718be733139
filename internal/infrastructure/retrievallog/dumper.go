// Package retrievallog writes the optional human-readable retrieval dump.
// Each pipeline stage appends a section showing which chunks survived, so an
// operator can replay why an answer cited what it cited.
package retrievallog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rialtolabs/ragcore/internal/core/domain"
)

const previewChars = 120

// Dumper appends retrieval sections to a single log file. A disabled dumper
// is a no-op, so callers never branch.
type Dumper struct {
	enabled bool
	folder  string
	logger  *slog.Logger

	mu sync.Mutex
}

func NewDumper(enabled bool, folder string, logger *slog.Logger) *Dumper {
	return &Dumper{enabled: enabled, folder: folder, logger: logger}
}

// DumpSection records the query and the kept chunks for one source stage.
// Failures are logged and swallowed; dumping never fails a turn.
func (d *Dumper) DumpSection(source, query string, chunks []domain.Chunk) {
	if d == nil || !d.enabled {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== APPENDING %s SECTION ===\n", strings.ToUpper(source))
	b.WriteString("=== QUERY USED ===\n")
	b.WriteString(query)
	b.WriteString("\n")
	for i, c := range chunks {
		fmt.Fprintf(&b, "[KEEP] %s | %s | rank=%d | %s\n", source, c.ShardID, i+1, preview(c.Text))
	}
	b.WriteString("\n")

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(d.folder, 0o755); err != nil {
		d.logger.Warn("retrieval_dump_failed", "error", err)
		return
	}
	path := filepath.Join(d.folder, "retrieval_dump.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		d.logger.Warn("retrieval_dump_failed", "error", err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(b.String()); err != nil {
		d.logger.Warn("retrieval_dump_failed", "error", err)
	}
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= previewChars {
		return text
	}
	return string(runes[:previewChars])
}
