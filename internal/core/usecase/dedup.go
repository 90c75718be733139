package usecase

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/rialtolabs/ragcore/internal/config"
	"github.com/rialtolabs/ragcore/internal/core/domain"
)

// Deduper removes near-duplicate candidates by a fingerprint over the
// normalized text core plus selected metadata. How much of the text enters
// the fingerprint depends on the aggressiveness preset resolved per intent.
type Deduper struct {
	cfg      config.DedupConfig
	preserve map[string]struct{}
	logger   *slog.Logger
}

func NewDeduper(cfg config.DedupConfig, logger *slog.Logger) *Deduper {
	preserve := make(map[string]struct{}, len(cfg.PreserveKeywords))
	for _, kw := range cfg.PreserveKeywords {
		preserve[strings.ToLower(kw)] = struct{}{}
	}
	return &Deduper{cfg: cfg, preserve: preserve, logger: logger}
}

// Run keeps the first occurrence of every fingerprint. It is idempotent: the
// fingerprint depends only on chunk content, so a second pass removes
// nothing.
func (d *Deduper) Run(chunks []domain.Chunk, intent domain.Intent) ([]domain.Chunk, int) {
	if len(chunks) == 0 {
		return chunks, 0
	}

	shortThreshold, coreImportant, coreLong := d.cfg.PresetFor(string(intent))

	seen := make(map[uint64]struct{}, len(chunks))
	out := make([]domain.Chunk, 0, len(chunks))
	for _, c := range chunks {
		fp := d.fingerprint(c, shortThreshold, coreImportant, coreLong)
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, c)
	}

	removed := len(chunks) - len(out)
	d.logger.Info("dedup_done", "in", len(chunks), "out", len(out), "removed", removed)
	return out, removed
}

var dedupStrip = regexp.MustCompile(`[^\p{L}\p{N}\s.%$-]`)

func (d *Deduper) fingerprint(c domain.Chunk, shortThreshold, coreImportant, coreLong int) uint64 {
	n := normalizeForDedup(c.Text)

	important := len(n) < shortThreshold
	if !important {
		for _, word := range strings.Fields(n) {
			if _, ok := d.preserve[word]; ok {
				important = true
				break
			}
		}
	}

	coreLen := coreLong
	if important {
		coreLen = coreImportant
	}
	core := n
	if coreLen > 0 && len(core) > coreLen {
		core = core[:coreLen]
	}

	var metaParts []string
	for _, key := range d.cfg.MetadataKeysToInclude {
		if v, ok := c.Metadata[key]; ok {
			metaParts = append(metaParts, v)
		}
	}

	h := xxhash.New()
	_, _ = h.WriteString(core)
	_, _ = h.WriteString(strings.Join(metaParts, "|"))
	return h.Sum64()
}

func normalizeForDedup(text string) string {
	t := strings.ToLower(text)
	t = dedupStrip.ReplaceAllString(t, " ")
	return strings.Join(strings.Fields(t), " ")
}
