package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rialtolabs/ragcore/internal/core/domain"
)

// The JSON config files are strict: every key below is mandatory and absence
// is a construction error, not a silent default. A missing key here is a
// deployment mistake and must fail before the first query is served.

type CompressionConfig struct {
	Enabled        bool    `json:"enabled"`
	Model          string  `json:"model"`
	TopK           int     `json:"top_k"`
	MMRLambda      float64 `json:"mmr_lambda"`
	Device         string  `json:"device"`
	MaxCharsToComp int     `json:"max_chars_to_comp"`
}

type SelfGatingConfig struct {
	Enabled                   bool     `json:"enabled"`
	LiteralExtractionTriggers []string `json:"literal_extraction_triggers"`
	NumericExtractionKeywords []string `json:"numeric_extraction_keywords"`
	FactualQAIndicators       []string `json:"factual_qa_indicators"`
}

type SSIConfig struct {
	Enabled                 bool             `json:"enabled"`
	ModelName               string           `json:"model_name"`
	Device                  string           `json:"device"`
	WindowSize              int              `json:"window_size"`
	Stride                  int              `json:"stride"`
	TopKPerDoc              int              `json:"top_k_per_doc"`
	MinScoreThreshold       float64          `json:"min_score_threshold"`
	GlobalTopK              int              `json:"global_top_k"`
	MaxAnswerLength         int              `json:"max_answer_length"`
	HandleImpossibleAnswer  bool             `json:"handle_impossible_answer"`
	PreferLongestWhenActive bool             `json:"prefer_longest_when_active"`
	SelfGating              SelfGatingConfig `json:"self_gating"`
}

type RerankersConfig struct {
	TopKFaiss        int    `json:"top_k_faiss"`
	TopKBM25         int    `json:"top_k_bm25"`
	TopKFusion       int    `json:"top_k_fusion"`
	FusionTopFaiss   int    `json:"fusion_top_faiss"`
	FusionTopBM25    int    `json:"fusion_top_bm25"`
	TopChunks        int    `json:"top_chunks"`
	ChunkFilterModel string `json:"chunk_filter_model"`
}

type DenseConfig struct {
	EmbeddingModel         string `json:"embedding_model"`
	Dimensions             int    `json:"dimensions"`
	IndexType              string `json:"index_type"`
	NormalizeL2            bool   `json:"normalize_l2"`
	BuiltWithNormalization bool   `json:"built_with_normalization"`
}

type DedupConfig struct {
	ShortThresholdChars     int                    `json:"short_threshold_chars"`
	CoreLengthWhenImportant int                    `json:"core_length_when_important"`
	CoreLengthWhenLong      int                    `json:"core_length_when_long"`
	PreserveKeywords        []string               `json:"preserve_keywords"`
	MetadataKeysToInclude   []string               `json:"metadata_keys_to_include"`
	DefaultAggressiveness   string                 `json:"default_aggressiveness"`
	AggressivenessByIntent  map[string]string      `json:"aggressiveness_by_intent"`
	AggressivenessPresets   map[string]DedupPreset `json:"aggressiveness_presets"`
}

type DedupPreset struct {
	ShortThresholdChars     int `json:"short_threshold_chars"`
	CoreLengthWhenImportant int `json:"core_length_when_important"`
	CoreLengthWhenLong      int `json:"core_length_when_long"`
}

// PresetFor resolves the aggressiveness preset for an intent label and
// returns the effective limits. Unknown labels fall back to the default
// preset; an unknown default keeps the top-level limits.
func (c DedupConfig) PresetFor(intent string) (int, int, int) {
	name, ok := c.AggressivenessByIntent[intent]
	if !ok {
		name = c.DefaultAggressiveness
	}
	preset, ok := c.AggressivenessPresets[name]
	if !ok {
		return c.ShortThresholdChars, c.CoreLengthWhenImportant, c.CoreLengthWhenLong
	}
	return preset.ShortThresholdChars, preset.CoreLengthWhenImportant, preset.CoreLengthWhenLong
}

func LoadCompression(path string) (CompressionConfig, error) {
	var cfg CompressionConfig
	err := loadSection(path, "compression", []string{
		"enabled", "model", "top_k", "mmr_lambda", "device", "max_chars_to_comp",
	}, &cfg)
	return cfg, err
}

func LoadSSI(path string) (SSIConfig, error) {
	var cfg SSIConfig
	err := loadSection(path, "ssi", []string{
		"enabled", "model_name", "device", "window_size", "stride",
		"top_k_per_doc", "min_score_threshold", "global_top_k",
		"max_answer_length", "handle_impossible_answer",
		"prefer_longest_when_active", "self_gating",
	}, &cfg)
	if err != nil {
		return cfg, err
	}
	if cfg.WindowSize <= 0 || cfg.Stride <= 0 {
		return cfg, domain.WrapError(domain.ErrConfig, "load ssi config",
			fmt.Errorf("window_size and stride must be positive"))
	}
	return cfg, nil
}

func LoadRerankers(path string) (RerankersConfig, error) {
	var cfg RerankersConfig
	err := loadSection(path, "rerankers", []string{
		"top_k_faiss", "top_k_bm25", "top_k_fusion",
		"fusion_top_faiss", "fusion_top_bm25", "top_chunks", "chunk_filter_model",
	}, &cfg)
	return cfg, err
}

func LoadDense(path string) (DenseConfig, error) {
	var cfg DenseConfig
	err := loadSection(path, "dense", []string{
		"embedding_model", "dimensions", "index_type",
		"normalize_l2", "built_with_normalization",
	}, &cfg)
	if err != nil {
		return cfg, err
	}
	if cfg.Dimensions <= 0 {
		return cfg, domain.WrapError(domain.ErrConfig, "load dense config",
			fmt.Errorf("dimensions must be positive, got %d", cfg.Dimensions))
	}
	return cfg, nil
}

func LoadDedup(path string) (DedupConfig, error) {
	var cfg DedupConfig
	err := loadSection(path, "dedup", []string{
		"short_threshold_chars", "core_length_when_important",
		"core_length_when_long", "preserve_keywords", "metadata_keys_to_include",
	}, &cfg)
	return cfg, err
}

func loadSection(path, section string, required []string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.WrapError(domain.ErrConfig, "read config file", err)
	}

	var root map[string]json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil {
		return domain.WrapError(domain.ErrConfig, "parse config file "+path, err)
	}

	raw, ok := root[section]
	if !ok {
		return domain.WrapError(domain.ErrConfig, "load config "+path,
			fmt.Errorf("missing section %q", section))
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return domain.WrapError(domain.ErrConfig, "parse section "+section, err)
	}
	for _, key := range required {
		if _, ok := keys[key]; !ok {
			return domain.WrapError(domain.ErrConfig, "load config "+path,
				fmt.Errorf("section %q missing mandatory key %q", section, key))
		}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return domain.WrapError(domain.ErrConfig, "decode section "+section, err)
	}
	return nil
}
