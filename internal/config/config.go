// Package config defines the single typed configuration tree the
// process loads at startup, validates, and optionally hot-reloads.
// Shapes follow the teacher's config.DatabaseConfig / config.LLMConfig
// / config.EmbeddingConfig / config.VectorDBConfig fields pinned down
// by test/unit/datastorage/server_test.go, test/unit/ai/llm/
// llm_client_builder_test.go, and test/integration/vector/
// deployment_testing_test.go, generalized to this domain's sections.
package config

import (
	"fmt"
	"time"
)

// Config is the root of the configuration tree, unmarshalled from YAML.
type Config struct {
	ConnectionPools ConnectionPoolsConfig `yaml:"connectionPools" validate:"required"`
	Embeddings      EmbeddingsConfig      `yaml:"embeddings" validate:"required"`
	EmbeddingCache  EmbeddingCacheConfig  `yaml:"embeddingCache"`
	Resilience      ResilienceConfig      `yaml:"resilience"`
	LLM             LLMConfig             `yaml:"llm" validate:"required"`
	StrictJSON      StrictJSONConfig      `yaml:"strictJson"`
	Ensemble        EnsembleConfig        `yaml:"ensemble"`
	HybridSearch    HybridSearchConfig    `yaml:"hybridSearch"`
	VectorDB        VectorDBConfig        `yaml:"vectorDB" validate:"required"`
	Correlation     CorrelationConfig     `yaml:"correlation"`
	IgnorePatterns  []IgnorePattern       `yaml:"ignorePatterns"`
	Pipeline        PipelineConfig        `yaml:"pipeline" validate:"required"`
	Source          SourceConfig          `yaml:"source" validate:"required"`

	// Database is the SecurityEventStore's (C7) own Postgres connection,
	// named and shaped like the teacher's config.DatabaseConfig so the
	// same sqlx/lib-pq wiring applies verbatim.
	Database DatabaseConfig `yaml:"database" validate:"required"`

	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Server  ServerConfig  `yaml:"server"`
}

// ServerConfig controls the ambient process HTTP/websocket surface
// (health, readiness, /metrics, the broadcast fabric's upgrade
// endpoint) spec §6's Broadcast API is exposed through.
type ServerConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	// BearerToken, when non-empty, is required on the websocket
	// upgrade request unless AllowAnonymousReadOnly admits the
	// connection to read-only topics (spec §6: "bearer token passed
	// at connection time; anonymous viewers may subscribe to
	// read-only topics, configuration controlled").
	BearerToken            string `yaml:"bearerToken"`
	AllowAnonymousReadOnly bool   `yaml:"allowAnonymousReadOnly"`
}

// DatabaseConfig mirrors the teacher's config.DatabaseConfig fields
// exactly (test/unit/datastorage/server_test.go:63-74), reused here for
// C7's event store.
type DatabaseConfig struct {
	Host            string `yaml:"host" validate:"required"`
	Port            int    `yaml:"port" validate:"required"`
	Name            string `yaml:"name" validate:"required"`
	User            string `yaml:"user" validate:"required"`
	Password        string `yaml:"password"`
	SSLMode         string `yaml:"sslMode" validate:"oneof=disable require verify-ca verify-full"`
	MaxOpenConns    int    `yaml:"maxOpenConns" validate:"gt=0"`
	MaxIdleConns    int    `yaml:"maxIdleConns" validate:"gte=0"`
	ConnMaxLifetime string `yaml:"connMaxLifetime"`
	ConnMaxIdleTime string `yaml:"connMaxIdleTime"`
}

// DSN builds the libpq/pgx connection string for d.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode)
}

// HTTPClientPoolConfig is one entry of ConnectionPoolsConfig.HTTPClientPools.
type HTTPClientPoolConfig struct {
	MaxPoolSize           int `yaml:"maxPoolSize" validate:"gt=0"`
	MaxIdleConnections    int `yaml:"maxIdleConnections" validate:"gte=0"`
	ConnectionTimeoutMs   int `yaml:"connectionTimeoutMs" validate:"gt=0"`
}

// VectorPoolConfig is one entry of ConnectionPoolsConfig.VectorPools —
// the Postgres/pgvector-flavored replacement for the spec's qdrantPools
// map: same shape (host/port/credential/pool sizing), different backend.
type VectorPoolConfig struct {
	Host                string `yaml:"host" validate:"required"`
	Port                int    `yaml:"port" validate:"required"`
	APIKey              string `yaml:"apiKey"`
	MaxPoolSize         int    `yaml:"maxPoolSize" validate:"gt=0"`
	MaxIdleConnections  int    `yaml:"maxIdleConnections" validate:"gte=0"`
	ConnectionTimeoutMs int    `yaml:"connectionTimeoutMs" validate:"gt=0"`
}

// HealthCheckConfig configures C1's background health-check loop.
type HealthCheckConfig struct {
	EnableHealthChecks    bool `yaml:"enableHealthChecks"`
	HealthCheckIntervalMs int  `yaml:"healthCheckIntervalMs" validate:"gt=0"`
	HealthCheckTimeoutMs  int  `yaml:"healthCheckTimeoutMs" validate:"gt=0"`
}

// LoadBalancingConfig selects and tunes C1's strategy.
type LoadBalancingConfig struct {
	Strategy                string  `yaml:"strategy" validate:"oneof=RoundRobin WeightedRoundRobin LeastConnections HealthAware Random"`
	WeightAdjustmentFactor  float64 `yaml:"weightAdjustmentFactor" validate:"gte=0.1,lte=2.0"`
	StickySessionTimeoutMs  int     `yaml:"stickySessionTimeoutMs" validate:"gte=0"`
}

// PoolMetricsConfig configures how long C1 retains per-instance metrics.
type PoolMetricsConfig struct {
	MetricsRetentionMinutes int `yaml:"metricsRetentionMinutes" validate:"gt=0"`
}

// ConnectionPoolsConfig is C1's configuration section.
type ConnectionPoolsConfig struct {
	DefaultMaxPoolSize              int                             `yaml:"defaultMaxPoolSize" validate:"gt=0"`
	RequestTimeoutMs                int                             `yaml:"requestTimeoutMs" validate:"gt=0"`
	MaxRetryAttempts                int                             `yaml:"maxRetryAttempts" validate:"gte=0"`
	RetryDelayMs                    int                             `yaml:"retryDelayMs" validate:"gte=0"`
	CircuitBreakerFailureThreshold  int                             `yaml:"circuitBreakerFailureThreshold" validate:"gt=0"`
	CircuitBreakerTimeoutMs         int                             `yaml:"circuitBreakerTimeoutMs" validate:"gt=0"`
	CircuitBreakerRetryTimeoutMs    int                             `yaml:"circuitBreakerRetryTimeoutMs" validate:"gt=0"`
	HTTPClientPools                 map[string]HTTPClientPoolConfig `yaml:"httpClientPools"`
	VectorPools                     map[string]VectorPoolConfig     `yaml:"vectorPools"`
	HealthCheck                     HealthCheckConfig               `yaml:"healthCheck"`
	LoadBalancing                   LoadBalancingConfig             `yaml:"loadBalancing"`
	Metrics                         PoolMetricsConfig               `yaml:"metrics"`
}

// CircuitBreakerConfig shapes the per-instance breaker exactly like the
// teacher's infrahttp.CircuitBreakerConfig
// (test/unit/infrastructure/circuit_breaker_test.go:79-90).
type CircuitBreakerConfig struct {
	FailureThreshold    int           `yaml:"failureThreshold" validate:"gt=0"`
	RecoveryTimeout     time.Duration `yaml:"recoveryTimeout" validate:"gt=0"`
	SuccessThreshold    int           `yaml:"successThreshold" validate:"gt=0"`
	RequestTimeout      time.Duration `yaml:"requestTimeout" validate:"gt=0"`
	RequestsPerSecond   float64       `yaml:"requestsPerSecond" validate:"gt=0"`
	BurstLimit          int           `yaml:"burstLimit" validate:"gt=0"`
	HealthCheckInterval time.Duration `yaml:"healthCheckInterval"`
	HealthCheckPath     string        `yaml:"healthCheckPath"`
	EnableMetrics       bool          `yaml:"enableMetrics"`
	MetricsInterval     time.Duration `yaml:"metricsInterval"`
}

// EmbeddingProvider enumerates C2's base providers.
type EmbeddingProvider string

const (
	EmbeddingProviderOllama EmbeddingProvider = "Ollama"
	EmbeddingProviderOpenAI EmbeddingProvider = "OpenAI"
	EmbeddingProviderMock   EmbeddingProvider = "Mock"
)

// EmbeddingsConfig is C2's base-provider configuration.
type EmbeddingsConfig struct {
	Provider   EmbeddingProvider `yaml:"provider" validate:"required,oneof=Ollama OpenAI Mock"`
	Model      string            `yaml:"model"`
	VectorSize int               `yaml:"vectorSize" validate:"gt=0"`
	Endpoint   string            `yaml:"endpoint"`
}

// EmbeddingCacheConfig is C2's Caching-decorator configuration.
type EmbeddingCacheConfig struct {
	Enabled    bool `yaml:"enabled"`
	TTLMinutes int  `yaml:"ttlMinutes" validate:"gt=0"`
	MaxEntries int  `yaml:"maxEntries" validate:"gt=0"`

	// RedisAddr is ambient wiring not named by spec.md's EmbeddingCache
	// section: when set, the Caching decorator backs itself with
	// go-redis; when empty it falls back to the in-process LRU.
	RedisAddr string `yaml:"redisAddr"`
}

// EmbeddingResilienceConfig is C2's Resilience-decorator configuration
// (spec.md's "Resilience.Embedding" section).
type EmbeddingResilienceConfig struct {
	Enabled                      bool `yaml:"enabled"`
	RetryCount                   int  `yaml:"retryCount" validate:"gte=0"`
	RetryBaseDelayMs              int  `yaml:"retryBaseDelayMs" validate:"gte=0"`
	TimeoutSeconds                int  `yaml:"timeoutSeconds" validate:"gt=0"`
	CircuitBreakerThreshold        int  `yaml:"circuitBreakerThreshold" validate:"gt=0"`
	CircuitBreakerDurationMinutes int  `yaml:"circuitBreakerDurationMinutes" validate:"gt=0"`
}

// ResilienceConfig groups all decorator-level resilience knobs.
type ResilienceConfig struct {
	Embedding EmbeddingResilienceConfig `yaml:"embedding"`
}

// LLMConfig is C3's base-client configuration, field names matching
// the teacher's config.LLMConfig (test/unit/ai/llm/
// llm_client_builder_test.go:35-39, :54-60).
type LLMConfig struct {
	Provider       string        `yaml:"provider" validate:"required"`
	Model          string        `yaml:"model" validate:"required"`
	Endpoint       string        `yaml:"endpoint"`
	Temperature    float64       `yaml:"temperature" validate:"gte=0,lte=2"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxContextSize int           `yaml:"maxContextSize"`
	APIKey         string        `yaml:"apiKey"`
}

// StrictJSONConfig is C3's StrictJSON decorator configuration.
type StrictJSONConfig struct {
	Enabled              bool `yaml:"enabled"`
	EnableRetryOnFailure bool `yaml:"enableRetryOnFailure"`
}

// EnsembleModel is one member of an EnsembleConfig's model list.
type EnsembleModel struct {
	Name     string  `yaml:"name" validate:"required"`
	Provider string  `yaml:"provider" validate:"required"`
	Weight   float64 `yaml:"weight" validate:"gt=0"`
}

// EnsembleConfig is C3's optional Ensemble decorator configuration.
type EnsembleConfig struct {
	Enabled    bool            `yaml:"enabled"`
	MinQuorum  int             `yaml:"minQuorum" validate:"gte=0"`
	DeadlineMs int             `yaml:"deadlineMs" validate:"gt=0"`
	Models     []EnsembleModel `yaml:"models"`
}

// HybridSearchConfig is C4's Hybrid decorator configuration. Validated
// so VectorWeight+MetadataWeight sum to 1 by Config.Validate.
type HybridSearchConfig struct {
	Enabled             bool    `yaml:"enabled"`
	VectorWeight        float64 `yaml:"vectorWeight" validate:"gte=0,lte=1"`
	MetadataWeight      float64 `yaml:"metadataWeight" validate:"gte=0,lte=1"`
	RecencyWeight       float64 `yaml:"recencyWeight" validate:"gte=0"`
	RecencyDecayHours   float64 `yaml:"recencyDecayHours" validate:"gt=0"`
	OverFetchMultiplier float64 `yaml:"overFetchMultiplier" validate:"gte=1"`
}

// PostgreSQLVectorConfig mirrors the teacher's
// config.PostgreSQLVectorConfig (test/integration/vector/
// deployment_testing_test.go:88-91) — this repo's only vector backend.
type PostgreSQLVectorConfig struct {
	UseMainDB  bool `yaml:"useMainDB"`
	IndexLists int  `yaml:"indexLists" validate:"gt=0"`
}

// VectorDBConfig is C4's base-store configuration — the
// Postgres/pgvector-flavored replacement for spec.md's `Qdrant`
// section, shaped after the teacher's config.VectorDBConfig
// (test/integration/vector/deployment_testing_test.go:79-92).
type VectorDBConfig struct {
	Enabled          bool                   `yaml:"enabled"`
	Backend          string                 `yaml:"backend" validate:"eq=postgresql"`
	Collection       string                 `yaml:"collection" validate:"required"`
	EmbeddingService EmbeddingConfig        `yaml:"embeddingService"`
	PostgreSQL       PostgreSQLVectorConfig `yaml:"postgresql"`
}

// EmbeddingConfig names the embedding service a VectorStore expects
// its points to be shaped for (dimension must match EmbeddingsConfig.VectorSize).
type EmbeddingConfig struct {
	Service   string `yaml:"service" validate:"required"`
	Dimension int    `yaml:"dimension" validate:"gt=0"`
}

// CorrelationConfig is C6's configuration.
type CorrelationConfig struct {
	AnalysisIntervalSeconds int `yaml:"analysisIntervalSeconds" validate:"gt=0"`
	LookbackMinutes         int `yaml:"lookbackMinutes" validate:"gt=0"`
	BurstThreshold          int `yaml:"burstThreshold" validate:"gt=0"`
	BurstWindowSeconds      int `yaml:"burstWindowSeconds" validate:"gt=0"`
	ChainWindowMinutes      int `yaml:"chainWindowMinutes" validate:"gt=0"`
	LateralThreshold        int `yaml:"lateralThreshold" validate:"gt=0"`
	LateralWindowMinutes    int `yaml:"lateralWindowMinutes" validate:"gt=0"`
}

// IgnorePattern excludes matching LogEvents from the pipeline before
// any processing. At least one of Channel/EventID/MessagePattern
// should be set; zero values mean "don't filter on this field."
type IgnorePattern struct {
	Channel        string `yaml:"channel"`
	EventID        *int   `yaml:"eventId"`
	MessagePattern string `yaml:"messagePattern"`
}

// PipelineConfig is C9's configuration.
type PipelineConfig struct {
	MaxInFlight        int    `yaml:"maxInFlight" validate:"gt=0"`
	NeighborK           int    `yaml:"neighborK" validate:"gt=0"`
	MinRiskToPersist    string `yaml:"minRiskToPersist" validate:"oneof=low medium high critical"`
	PerEventDeadlineMs  int    `yaml:"perEventDeadlineMs" validate:"gt=0"`
}

// SourceConfig configures the event source the pipeline consumes —
// spec §5's "cursor-style source that yields LogEvents in time order
// and supports a persisted bookmark" — concretely the NDJSON-tailing
// source that polls Path for newly-appended lines.
type SourceConfig struct {
	Path           string `yaml:"path" validate:"required"`
	BookmarkPath   string `yaml:"bookmarkPath" validate:"required"`
	PollIntervalMs int    `yaml:"pollIntervalMs" validate:"gt=0"`
}

// LoggingConfig controls the ambient logrus logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error fatal panic"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// TracingConfig controls the otel/sdk tracer provider wired in main.
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	ServiceName    string  `yaml:"serviceName"`
	SamplingRatio  float64 `yaml:"samplingRatio" validate:"gte=0,lte=1"`
}
