package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "palace.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)
	applyFallbacks(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PALACE_PORT")
	setString(&cfg.Server.MCPPort, "PALACE_MCP_PORT")
	setString(&cfg.Server.CORSOrigin, "PALACE_CORS_ORIGIN")
	setString(&cfg.Store.Path, "PALACE_DB_PATH")
	setString(&cfg.Store.MigrationLockFile, "DB_MIGRATION_LOCK_FILE")
	setDuration(&cfg.Store.MigrationLockTimeout, "DB_MIGRATION_LOCK_TIMEOUT")
	setString(&cfg.Logging.Level, "PALACE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "PALACE_LOG_SERVICE")

	setString(&cfg.Auth.APIKey, "MCP_API_KEY")
	setBool(&cfg.Auth.AllowInsecureLocal, "MCP_API_KEY_ALLOW_INSECURE_LOCAL")

	setList(&cfg.Resolver.ValidDomains, "VALID_DOMAINS")
	setList(&cfg.Resolver.CoreMemoryURIs, "CORE_MEMORY_URIS")

	setInt(&cfg.Lane.GlobalConcurrency, "GLOBAL_CONCURRENCY")
	setDuration(&cfg.Lane.WaitTimeout, "LANE_WAIT_TIMEOUT")

	setInt(&cfg.Index.QueueCapacity, "INDEX_QUEUE_CAPACITY")
	setInt(&cfg.Index.RecentJobsRing, "INDEX_RECENT_JOBS_RING")
	setBool(&cfg.Index.DeferOnWrite, "INDEX_DEFER_ON_WRITE")

	setString(&cfg.Retrieval.DefaultMode, "SEARCH_DEFAULT_MODE")
	setFloat64(&cfg.Retrieval.HybridKeywordWeight, "RETRIEVAL_HYBRID_KEYWORD_WEIGHT")
	setFloat64(&cfg.Retrieval.HybridSemanticWeight, "RETRIEVAL_HYBRID_SEMANTIC_WEIGHT")
	setFloat64(&cfg.Retrieval.RerankerWeight, "RETRIEVAL_RERANKER_WEIGHT")
	setBool(&cfg.Retrieval.RerankerEnabled, "RETRIEVAL_RERANKER_ENABLED")
	setInt(&cfg.Retrieval.ChunkSize, "RETRIEVAL_CHUNK_SIZE")

	setString(&cfg.Embedding.Backend, "RETRIEVAL_EMBEDDING_BACKEND")
	setString(&cfg.Embedding.APIBase, "RETRIEVAL_EMBEDDING_API_BASE")
	setString(&cfg.Embedding.APIKey, "RETRIEVAL_EMBEDDING_API_KEY")
	setString(&cfg.Embedding.Model, "RETRIEVAL_EMBEDDING_MODEL")
	setInt(&cfg.Embedding.Dim, "RETRIEVAL_EMBEDDING_DIM")

	setString(&cfg.Reranker.APIBase, "RETRIEVAL_RERANKER_API_BASE")
	setString(&cfg.Reranker.APIKey, "RETRIEVAL_RERANKER_API_KEY")
	setString(&cfg.Reranker.Model, "RETRIEVAL_RERANKER_MODEL")

	setBool(&cfg.Guard.LLMEnabled, "WRITE_GUARD_LLM_ENABLED")
	setString(&cfg.Guard.LLMAPIBase, "WRITE_GUARD_LLM_API_BASE")
	setString(&cfg.Guard.LLMAPIKey, "WRITE_GUARD_LLM_API_KEY")
	setString(&cfg.Guard.LLMModel, "WRITE_GUARD_LLM_MODEL")

	setBool(&cfg.Compact.LLMEnabled, "COMPACT_GIST_LLM_ENABLED")
	setString(&cfg.Compact.LLMAPIBase, "COMPACT_GIST_LLM_API_BASE")
	setString(&cfg.Compact.LLMAPIKey, "COMPACT_GIST_LLM_API_KEY")
	setString(&cfg.Compact.LLMModel, "COMPACT_GIST_LLM_MODEL")

	setFloat64(&cfg.Vitality.Max, "VITALITY_MAX")
	setFloat64(&cfg.Vitality.Floor, "VITALITY_FLOOR")
	setFloat64(&cfg.Vitality.ReinforceDelta, "REINFORCE_DELTA")
	setFloat64(&cfg.Vitality.DecayHalfLifeDays, "DECAY_HALF_LIFE_DAYS")
	setFloat64(&cfg.Vitality.CleanupThreshold, "CLEANUP_THRESHOLD")
	setFloat64(&cfg.Vitality.CleanupInactiveDays, "CLEANUP_INACTIVE_DAYS")
	setSeconds(&cfg.Vitality.ReviewTTL, "CLEANUP_REVIEW_TTL_SECONDS")
	setInt(&cfg.Vitality.MaxPendingReviews, "MAX_PENDING_REVIEWS")

	setFloat64(&cfg.Sleep.DedupThreshold, "SLEEP_DEDUP_THRESHOLD")
	setInt(&cfg.Sleep.RollupMaxChars, "SLEEP_ROLLUP_MAX_CHARS")
	setBool(&cfg.Sleep.DedupApply, "SLEEP_DEDUP_APPLY")
	setBool(&cfg.Sleep.RollupApply, "SLEEP_ROLLUP_APPLY")

	setInt(&cfg.Breaker.MaxFailures, "PALACE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "PALACE_BREAKER_TIMEOUT")
	setDuration(&cfg.Breaker.CallTimeout, "PALACE_REMOTE_CALL_TIMEOUT")
	setInt(&cfg.Breaker.MaxRetries, "MAX_REMOTE_RETRIES")
	setDuration(&cfg.Breaker.BaseBackoff, "PALACE_REMOTE_BASE_BACKOFF")
	setDuration(&cfg.Breaker.MaxBackoff, "PALACE_REMOTE_MAX_BACKOFF")
	setInt(&cfg.Breaker.MaxConcurrent, "PALACE_REMOTE_MAX_CONCURRENT")
}

// applyFallbacks fills derived defaults that depend on other fields.
func applyFallbacks(cfg *Config) {
	if cfg.Store.MigrationLockFile == "" {
		cfg.Store.MigrationLockFile = cfg.Store.Path + ".migrate.lock"
	}
	if cfg.Compact.LLMAPIBase == "" {
		cfg.Compact.LLMAPIBase = cfg.Guard.LLMAPIBase
	}
	if cfg.Compact.LLMAPIKey == "" {
		cfg.Compact.LLMAPIKey = cfg.Guard.LLMAPIKey
	}
	if cfg.Compact.LLMModel == "" {
		cfg.Compact.LLMModel = cfg.Guard.LLMModel
	}
}

// validate checks that required fields are set and thresholds are ordered.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Server.MCPPort == "" {
		return errors.New("server.mcp_port is required")
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path is required")
	}
	if cfg.Lane.GlobalConcurrency < 1 {
		return errors.New("lane.global_concurrency must be >= 1")
	}
	if cfg.Index.QueueCapacity < 1 {
		return errors.New("index.queue_capacity must be >= 1")
	}
	switch cfg.Embedding.Backend {
	case "none", "hash", "router", "api":
	default:
		return fmt.Errorf("embedding.backend %q must be one of none, hash, router, api", cfg.Embedding.Backend)
	}
	switch cfg.Retrieval.DefaultMode {
	case "keyword", "semantic", "hybrid":
	default:
		return fmt.Errorf("retrieval.default_mode %q must be one of keyword, semantic, hybrid", cfg.Retrieval.DefaultMode)
	}
	if cfg.Embedding.Backend != "none" && cfg.Embedding.Dim < 1 {
		return errors.New("embedding.dim must be >= 1")
	}
	if cfg.Guard.SemanticUpdateThreshold > cfg.Guard.SemanticNoopThreshold {
		return errors.New("guard.semantic_update_threshold must not exceed guard.semantic_noop_threshold")
	}
	if cfg.Guard.KeywordUpdateThreshold > cfg.Guard.KeywordNoopThreshold {
		return errors.New("guard.keyword_update_threshold must not exceed guard.keyword_noop_threshold")
	}
	if cfg.Vitality.Floor < 0 || cfg.Vitality.Floor > cfg.Vitality.Max {
		return errors.New("vitality.floor must be within [0, vitality.max]")
	}
	if cfg.Vitality.MaxPendingReviews < 1 {
		return errors.New("vitality.max_pending_reviews must be >= 1")
	}
	if len(cfg.Resolver.ValidDomains) == 0 {
		return errors.New("resolver.valid_domains must not be empty")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// setSeconds reads an integer number of seconds.
func setSeconds(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = time.Duration(n) * time.Second
		}
	}
}

// setList reads a comma-separated list, trimming whitespace around entries.
func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
