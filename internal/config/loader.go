package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	sderrors "github.com/sentineld/sentineld/internal/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and parses the YAML file at path into a Config, then
// validates it with struct tags plus the cross-field checks Validate
// performs. A validation failure is a KindValidation OperationError —
// per spec §7, bad configuration is surfaced and the process refuses
// to start.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &sderrors.OperationError{
			Operation: "read configuration file",
			Component: "config",
			Resource:  path,
			Kind:      sderrors.KindValidation,
			Cause:     err,
		}
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &sderrors.OperationError{
			Operation: "parse configuration file",
			Component: "config",
			Resource:  path,
			Kind:      sderrors.KindValidation,
			Cause:     err,
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, &sderrors.OperationError{
			Operation: "validate configuration",
			Component: "config",
			Resource:  path,
			Kind:      sderrors.KindValidation,
			Cause:     err,
		}
	}

	return &cfg, nil
}

// Validate runs struct-tag validation plus the cross-field invariants
// struct tags can't express (HybridSearch weight sum, ignore-pattern
// shape).
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.HybridSearch.Enabled {
		sum := c.HybridSearch.VectorWeight + c.HybridSearch.MetadataWeight
		if sum < 0.999 || sum > 1.001 {
			return fmt.Errorf("hybridSearch.vectorWeight + metadataWeight must equal 1, got %v", sum)
		}
	}

	for i, p := range c.IgnorePatterns {
		if p.Channel == "" && p.EventID == nil && p.MessagePattern == "" {
			return fmt.Errorf("ignorePatterns[%d]: at least one of channel, eventId, messagePattern must be set", i)
		}
	}

	if c.VectorDB.EmbeddingService.Dimension != 0 && c.Embeddings.VectorSize != 0 &&
		c.VectorDB.EmbeddingService.Dimension != c.Embeddings.VectorSize {
		return fmt.Errorf("vectorDB.embeddingService.dimension (%d) must match embeddings.vectorSize (%d)",
			c.VectorDB.EmbeddingService.Dimension, c.Embeddings.VectorSize)
	}

	return nil
}

// Redacted returns a copy of c with every credential field blanked,
// safe to serve from the /debug/config endpoint.
func (c *Config) Redacted() *Config {
	cp := *c
	cp.Database.Password = "REDACTED"
	cp.LLM.APIKey = "REDACTED"
	cp.Server.BearerToken = "REDACTED"

	vectorPools := make(map[string]VectorPoolConfig, len(cp.ConnectionPools.VectorPools))
	for name, pool := range cp.ConnectionPools.VectorPools {
		pool.APIKey = "REDACTED"
		vectorPools[name] = pool
	}
	cp.ConnectionPools.VectorPools = vectorPools

	return &cp
}
