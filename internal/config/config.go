// Package config provides hierarchical configuration loading for Memory Palace.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the Memory Palace core service.
type Config struct {
	Server    Server    `yaml:"server"`
	Store     Store     `yaml:"store"`
	Logging   Logging   `yaml:"logging"`
	Auth      Auth      `yaml:"auth"`
	Resolver  Resolver  `yaml:"resolver"`
	Lane      Lane      `yaml:"lane"`
	Index     Index     `yaml:"index"`
	Retrieval Retrieval `yaml:"retrieval"`
	Embedding Embedding `yaml:"embedding"`
	Reranker  Reranker  `yaml:"reranker"`
	Guard     Guard     `yaml:"guard"`
	Compact   Compact   `yaml:"compact"`
	Vitality  Vitality  `yaml:"vitality"`
	Sleep     Sleep     `yaml:"sleep"`
	Breaker   Breaker   `yaml:"breaker"`
}

// Server holds the listen ports for the control plane and the MCP
// tool endpoint.
type Server struct {
	Port       string `yaml:"port"`
	MCPPort    string `yaml:"mcp_port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Store holds the embedded store file and migration lock configuration.
type Store struct {
	Path                 string        `yaml:"path"`
	MigrationLockFile    string        `yaml:"migration_lock_file"`
	MigrationLockTimeout time.Duration `yaml:"migration_lock_timeout"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// Auth holds maintenance API authentication configuration.
type Auth struct {
	APIKey             string `yaml:"api_key"`
	AllowInsecureLocal bool   `yaml:"allow_insecure_local"`
}

// Resolver holds address resolution configuration.
type Resolver struct {
	ValidDomains   []string `yaml:"valid_domains"`
	CoreMemoryURIs []string `yaml:"core_memory_uris"`
}

// Lane holds write-lane admission configuration.
type Lane struct {
	GlobalConcurrency int           `yaml:"global_concurrency"`
	WaitTimeout       time.Duration `yaml:"wait_timeout"`
}

// Index holds index worker configuration.
type Index struct {
	Enabled        bool `yaml:"enabled"`
	QueueCapacity  int  `yaml:"queue_capacity"`
	RecentJobsRing int  `yaml:"recent_jobs_ring"`
	DeferOnWrite   bool `yaml:"defer_on_write"`
}

// Retrieval holds the search pipeline configuration.
type Retrieval struct {
	DefaultMode                string  `yaml:"default_mode"`
	DefaultMaxResults          int     `yaml:"default_max_results"`
	DefaultCandidateMultiplier int     `yaml:"default_candidate_multiplier"`
	HybridKeywordWeight        float64 `yaml:"hybrid_keyword_weight"`
	HybridSemanticWeight       float64 `yaml:"hybrid_semantic_weight"`
	RerankerWeight             float64 `yaml:"reranker_weight"`
	RerankerEnabled            bool    `yaml:"reranker_enabled"`
	ChunkSize                  int     `yaml:"chunk_size"`
	ChunkOverlap               int     `yaml:"chunk_overlap"`
	RecencyHalfLifeDays        float64 `yaml:"recency_half_life_days"`
	SessionFirstSearch         bool    `yaml:"session_first_search"`
}

// Embedding holds the embedding adapter configuration.
// Backend is one of: none, hash, router, api.
type Embedding struct {
	Backend string `yaml:"backend"`
	APIBase string `yaml:"api_base"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Dim     int    `yaml:"dim"`
}

// Reranker holds the remote rerank adapter configuration.
type Reranker struct {
	APIBase string `yaml:"api_base"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// Guard holds write-guard thresholds and optional LLM arbitration settings.
type Guard struct {
	SemanticNoopThreshold   float64 `yaml:"semantic_noop_threshold"`
	SemanticUpdateThreshold float64 `yaml:"semantic_update_threshold"`
	KeywordNoopThreshold    float64 `yaml:"keyword_noop_threshold"`
	KeywordUpdateThreshold  float64 `yaml:"keyword_update_threshold"`
	LLMConsultThreshold     float64 `yaml:"llm_consult_threshold"`
	LLMEnabled              bool    `yaml:"llm_enabled"`
	LLMAPIBase              string  `yaml:"llm_api_base"`
	LLMAPIKey               string  `yaml:"llm_api_key"`
	LLMModel                string  `yaml:"llm_model"`
}

// Compact holds compact_context gist generation settings. Empty LLM fields
// fall back to the write-guard LLM configuration at load time.
type Compact struct {
	LLMEnabled bool   `yaml:"llm_enabled"`
	LLMAPIBase string `yaml:"llm_api_base"`
	LLMAPIKey  string `yaml:"llm_api_key"`
	LLMModel   string `yaml:"llm_model"`
	MaxPoints  int    `yaml:"max_points"`
	MaxChars   int    `yaml:"max_chars"`
}

// Vitality holds decay and cleanup-review governance configuration.
type Vitality struct {
	Max                 float64       `yaml:"max"`
	Floor               float64       `yaml:"floor"`
	ReinforceDelta      float64       `yaml:"reinforce_delta"`
	DecayHalfLifeDays   float64       `yaml:"decay_half_life_days"`
	DecayInterval       time.Duration `yaml:"decay_interval"`
	CleanupThreshold    float64       `yaml:"cleanup_threshold"`
	CleanupInactiveDays float64       `yaml:"cleanup_inactive_days"`
	ReviewTTL           time.Duration `yaml:"review_ttl"`
	MaxPendingReviews   int           `yaml:"max_pending_reviews"`
}

// Sleep holds sleep-consolidation configuration. The apply flags gate the only
// write paths; everything else is preview-only.
type Sleep struct {
	DedupThreshold float64 `yaml:"dedup_threshold"`
	RollupMaxChars int     `yaml:"rollup_max_chars"`
	DedupApply     bool    `yaml:"dedup_apply"`
	RollupApply    bool    `yaml:"rollup_apply"`
}

// Breaker holds circuit breaker and retry configuration for remote
// embedding/rerank/LLM calls.
type Breaker struct {
	MaxFailures   int           `yaml:"max_failures"`
	Timeout       time.Duration `yaml:"timeout"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
	MaxRetries    int           `yaml:"max_retries"`
	BaseBackoff   time.Duration `yaml:"base_backoff"`
	MaxBackoff    time.Duration `yaml:"max_backoff"`
	MaxConcurrent int           `yaml:"max_concurrent"`
}

// Defaults returns a Config with sensible default values for local use.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8701",
			MCPPort:    "8700",
			CORSOrigin: "http://localhost:3000",
		},
		Store: Store{
			Path:                 "palace.db",
			MigrationLockFile:    "",
			MigrationLockTimeout: 10 * time.Second,
		},
		Logging: Logging{
			Level:   "info",
			Service: "palace-core",
		},
		Auth: Auth{},
		Resolver: Resolver{
			ValidDomains: []string{"core", "writer", "game", "notes", "system"},
		},
		Lane: Lane{
			GlobalConcurrency: 1,
			WaitTimeout:       10 * time.Second,
		},
		Index: Index{
			Enabled:        true,
			QueueCapacity:  256,
			RecentJobsRing: 30,
			DeferOnWrite:   true,
		},
		Retrieval: Retrieval{
			DefaultMode:                "keyword",
			DefaultMaxResults:          10,
			DefaultCandidateMultiplier: 4,
			HybridKeywordWeight:        0.15,
			HybridSemanticWeight:       0.70,
			RerankerWeight:             0.30,
			RerankerEnabled:            false,
			ChunkSize:                  1000,
			ChunkOverlap:               200,
			RecencyHalfLifeDays:        30,
			SessionFirstSearch:         true,
		},
		Embedding: Embedding{
			Backend: "hash",
			Model:   "hash-v1",
			Dim:     256,
		},
		Guard: Guard{
			SemanticNoopThreshold:   0.92,
			SemanticUpdateThreshold: 0.78,
			KeywordNoopThreshold:    0.82,
			KeywordUpdateThreshold:  0.55,
			LLMConsultThreshold:     0.40,
		},
		Compact: Compact{
			MaxPoints: 3,
			MaxChars:  280,
		},
		Vitality: Vitality{
			Max:                 5.0,
			Floor:               0.05,
			ReinforceDelta:      0.6,
			DecayHalfLifeDays:   14,
			DecayInterval:       time.Hour,
			CleanupThreshold:    0.35,
			CleanupInactiveDays: 14,
			ReviewTTL:           15 * time.Minute,
			MaxPendingReviews:   64,
		},
		Sleep: Sleep{
			DedupThreshold: 0.92,
			RollupMaxChars: 1200,
		},
		Breaker: Breaker{
			MaxFailures:   5,
			Timeout:       30 * time.Second,
			CallTimeout:   15 * time.Second,
			MaxRetries:    2,
			BaseBackoff:   250 * time.Millisecond,
			MaxBackoff:    5 * time.Second,
			MaxConcurrent: 4,
		},
	}
}
