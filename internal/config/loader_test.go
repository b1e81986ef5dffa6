package config

import (
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
store:
  postgres_dsn: "postgres://localhost/lawgraph"
providers:
  node_embeddings:
    name: "ollama"
    model: "nomic-embed-text"
  relation_embeddings:
    name: "ollama"
    model: "nomic-embed-text"
    dimensions: 3072
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr default = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != LevelInfo {
		t.Errorf("log_level default = %q", cfg.Server.LogLevel)
	}
	if cfg.Providers.NodeEmbeddings.Dimensions != 768 {
		t.Errorf("node dimensions default = %d, want 768", cfg.Providers.NodeEmbeddings.Dimensions)
	}
	if cfg.Retrieval.RNEThreshold != 0.75 {
		t.Errorf("rne threshold default = %v, want 0.75", cfg.Retrieval.RNEThreshold)
	}
	if cfg.Retrieval.InitialK != 10 {
		t.Errorf("initial_k default = %d, want 10", cfg.Retrieval.InitialK)
	}
	if cfg.Retrieval.CollabQualityThreshold != 0.6 {
		t.Errorf("collab threshold default = %v, want 0.6", cfg.Retrieval.CollabQualityThreshold)
	}
	if cfg.Retrieval.MaxNeighborsConsulted != 3 {
		t.Errorf("max neighbors default = %d, want 3", cfg.Retrieval.MaxNeighborsConsulted)
	}
	if cfg.Cluster.DomainSimilarityThreshold != 0.85 {
		t.Errorf("similarity threshold default = %v, want 0.85", cfg.Cluster.DomainSimilarityThreshold)
	}
	if cfg.Cluster.MinAgentSize != 50 || cfg.Cluster.MaxAgentSize != 500 {
		t.Errorf("size bounds default = %d/%d, want 50/500", cfg.Cluster.MinAgentSize, cfg.Cluster.MaxAgentSize)
	}
	if cfg.Cluster.NeighborThreshold != 10 {
		t.Errorf("neighbor threshold default = %d, want 10", cfg.Cluster.NeighborThreshold)
	}
	if cfg.Retry.Attempts != 3 {
		t.Errorf("retry attempts default = %d, want 3", cfg.Retry.Attempts)
	}
}

func TestLoadParsesFullConfig(t *testing.T) {
	yaml := `
server:
  listen_addr: ":9090"
  log_level: "debug"
store:
  postgres_dsn: "postgres://localhost/lawgraph"
providers:
  node_embeddings:
    name: "openai"
    api_key: "sk-test"
    model: "text-embedding-3-large"
    dimensions: 768
    fallback:
      name: "ollama"
      model: "nomic-embed-text"
  relation_embeddings:
    name: "openai"
    api_key: "sk-test"
    model: "text-embedding-3-large"
    dimensions: 3072
  naming:
    name: "openai"
    api_key: "sk-test"
    model: "gpt-4o-mini"
retrieval:
  rne_default_threshold: 0.8
  algorithm: "ine"
  collab_timeout: 5s
cluster:
  min_agent_size: 10
  max_agent_size: 40
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Retrieval.RNEThreshold != 0.8 {
		t.Errorf("rne threshold = %v", cfg.Retrieval.RNEThreshold)
	}
	if cfg.Retrieval.Algorithm != "ine" {
		t.Errorf("algorithm = %q", cfg.Retrieval.Algorithm)
	}
	if cfg.Retrieval.CollabTimeout != 5*time.Second {
		t.Errorf("collab timeout = %v", cfg.Retrieval.CollabTimeout)
	}
	if cfg.Providers.NodeEmbeddings.Fallback == nil || cfg.Providers.NodeEmbeddings.Fallback.Name != "ollama" {
		t.Error("fallback provider not parsed")
	}
	if cfg.Cluster.MinAgentSize != 10 || cfg.Cluster.MaxAgentSize != 40 {
		t.Errorf("size bounds = %d/%d", cfg.Cluster.MinAgentSize, cfg.Cluster.MaxAgentSize)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	yaml := minimalYAML + "\nunknown_section:\n  key: 1\n"
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("unknown top-level section must fail decoding")
	}
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "missing dsn",
			mutate:  func(c *Config) { c.Store.PostgresDSN = "" },
			wantSub: "postgres_dsn",
		},
		{
			name:    "missing embedding provider name",
			mutate:  func(c *Config) { c.Providers.NodeEmbeddings.Name = "" },
			wantSub: "node_embeddings.name",
		},
		{
			name:    "openai without api key",
			mutate:  func(c *Config) { c.Providers.NodeEmbeddings = EmbeddingEntry{Name: "openai", Dimensions: 768} },
			wantSub: "api_key",
		},
		{
			name:    "negative dimensions",
			mutate:  func(c *Config) { c.Providers.RelationEmbeddings.Dimensions = -1 },
			wantSub: "dimensions",
		},
		{
			name:    "bad algorithm",
			mutate:  func(c *Config) { c.Retrieval.Algorithm = "bfs" },
			wantSub: "algorithm",
		},
		{
			name:    "threshold out of range",
			mutate:  func(c *Config) { c.Retrieval.RNEThreshold = 1.5 },
			wantSub: "rne_default_threshold",
		},
		{
			name:    "inverted size bounds",
			mutate:  func(c *Config) { c.Cluster.MinAgentSize = 600 },
			wantSub: "min_agent_size",
		},
		{
			name: "fallback dimension mismatch",
			mutate: func(c *Config) {
				c.Providers.NodeEmbeddings.Fallback = &EmbeddingEntry{Name: "ollama", Model: "bge-m3", Dimensions: 1024}
			},
			wantSub: "fallback.dimensions",
		},
		{
			name:    "naming without model",
			mutate:  func(c *Config) { c.Providers.Naming = NamingEntry{Name: "openai"} },
			wantSub: "naming.model",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFromReader(strings.NewReader(minimalYAML))
			if err != nil {
				t.Fatalf("baseline config invalid: %v", err)
			}
			tt.mutate(cfg)
			err = Validate(cfg)
			if err == nil {
				t.Fatal("expected validation failure")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}
