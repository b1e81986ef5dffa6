package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// validEmbeddingProviders lists the recognised embedding provider names.
// Used by [Validate] to warn about likely typos.
var validEmbeddingProviders = []string{"openai", "ollama"}

// validNamingProviders lists the recognised naming backends.
var validNamingProviders = []string{"openai", "anthropic", "gemini", "ollama"}

// Default embedding dimensions per vector space.
const (
	defaultNodeDimensions     = 768
	defaultRelationDimensions = 3072
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills unset fields with the documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LevelInfo
	}
	if cfg.Providers.NodeEmbeddings.Dimensions == 0 {
		cfg.Providers.NodeEmbeddings.Dimensions = defaultNodeDimensions
	}
	if cfg.Providers.RelationEmbeddings.Dimensions == 0 {
		cfg.Providers.RelationEmbeddings.Dimensions = defaultRelationDimensions
	}
	if cfg.Retrieval.RNEThreshold == 0 {
		cfg.Retrieval.RNEThreshold = 0.75
	}
	if cfg.Retrieval.InitialK == 0 {
		cfg.Retrieval.InitialK = 10
	}
	if cfg.Retrieval.Algorithm == "" {
		cfg.Retrieval.Algorithm = "rne"
	}
	if cfg.Retrieval.ResultLimit == 0 {
		cfg.Retrieval.ResultLimit = 10
	}
	if cfg.Retrieval.RouteDomains == 0 {
		cfg.Retrieval.RouteDomains = 3
	}
	if cfg.Retrieval.CollabQualityThreshold == 0 {
		cfg.Retrieval.CollabQualityThreshold = 0.6
	}
	if cfg.Retrieval.MaxNeighborsConsulted == 0 {
		cfg.Retrieval.MaxNeighborsConsulted = 3
	}
	if cfg.Cluster.DomainSimilarityThreshold == 0 {
		cfg.Cluster.DomainSimilarityThreshold = 0.85
	}
	if cfg.Cluster.MinAgentSize == 0 {
		cfg.Cluster.MinAgentSize = 50
	}
	if cfg.Cluster.MaxAgentSize == 0 {
		cfg.Cluster.MaxAgentSize = 500
	}
	if cfg.Cluster.NeighborThreshold == 0 {
		cfg.Cluster.NeighborThreshold = 10
	}
	if cfg.Cluster.BootstrapKMin == 0 {
		cfg.Cluster.BootstrapKMin = 3
	}
	if cfg.Cluster.BootstrapKMax == 0 {
		cfg.Cluster.BootstrapKMax = 10
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry.Attempts = 3
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Store.PostgresDSN == "" {
		errs = append(errs, errors.New("store.postgres_dsn is required"))
	}

	errs = append(errs, validateEmbedding("providers.node_embeddings", cfg.Providers.NodeEmbeddings)...)
	errs = append(errs, validateEmbedding("providers.relation_embeddings", cfg.Providers.RelationEmbeddings)...)

	if cfg.Providers.Naming.Name != "" {
		if !slices.Contains(validNamingProviders, cfg.Providers.Naming.Name) {
			slog.Warn("unknown naming provider — may be a typo",
				"name", cfg.Providers.Naming.Name, "known", validNamingProviders)
		}
		if cfg.Providers.Naming.Model == "" {
			errs = append(errs, errors.New("providers.naming.model is required when providers.naming.name is set"))
		}
	}

	if t := cfg.Retrieval.RNEThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("retrieval.rne_default_threshold %.2f is out of range [0, 1]", t))
	}
	if a := cfg.Retrieval.Algorithm; a != "rne" && a != "ine" {
		errs = append(errs, fmt.Errorf("retrieval.algorithm %q is invalid; valid values: rne, ine", a))
	}
	if t := cfg.Retrieval.CollabQualityThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("retrieval.collab_quality_threshold %.2f is out of range [0, 1]", t))
	}

	if t := cfg.Cluster.DomainSimilarityThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("cluster.domain_similarity_threshold %.2f is out of range [0, 1]", t))
	}
	if cfg.Cluster.MinAgentSize >= cfg.Cluster.MaxAgentSize {
		errs = append(errs, fmt.Errorf("cluster.min_agent_size %d must be below cluster.max_agent_size %d",
			cfg.Cluster.MinAgentSize, cfg.Cluster.MaxAgentSize))
	}
	if cfg.Cluster.BootstrapKMin > cfg.Cluster.BootstrapKMax {
		errs = append(errs, fmt.Errorf("cluster.bootstrap_k_min %d must not exceed cluster.bootstrap_k_max %d",
			cfg.Cluster.BootstrapKMin, cfg.Cluster.BootstrapKMax))
	}

	return errors.Join(errs...)
}

// validateEmbedding checks one embedding entry and its optional fallback.
func validateEmbedding(prefix string, e EmbeddingEntry) []error {
	var errs []error
	if e.Name == "" {
		errs = append(errs, fmt.Errorf("%s.name is required", prefix))
	} else if !slices.Contains(validEmbeddingProviders, e.Name) {
		slog.Warn("unknown embedding provider — may be a typo",
			"entry", prefix, "name", e.Name, "known", validEmbeddingProviders)
	}
	if e.Name == "openai" && e.APIKey == "" {
		errs = append(errs, fmt.Errorf("%s.api_key is required for the openai provider", prefix))
	}
	if e.Dimensions <= 0 {
		errs = append(errs, fmt.Errorf("%s.dimensions must be positive", prefix))
	}
	if e.Fallback != nil {
		if e.Fallback.Fallback != nil {
			errs = append(errs, fmt.Errorf("%s.fallback must not nest further fallbacks", prefix))
		}
		fb := *e.Fallback
		fb.Fallback = nil
		if fb.Dimensions == 0 {
			fb.Dimensions = e.Dimensions
		}
		if fb.Dimensions != e.Dimensions {
			errs = append(errs, fmt.Errorf("%s.fallback.dimensions %d must match primary dimensions %d",
				prefix, fb.Dimensions, e.Dimensions))
		}
		errs = append(errs, validateEmbedding(prefix+".fallback", fb)...)
	}
	return errs
}
