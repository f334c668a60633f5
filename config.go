package mongolite

import (
	"encoding/json"
	"time"

	"github.com/mongolite/mongolite/errors"
	"github.com/mongolite/mongolite/util"
)

// CollectionConfig declares a collection and its optional json schema
type CollectionConfig struct {
	// Name is the name of the collection
	Name string `json:"name" validate:"required"`
	// Schema is an optional json schema enforced on every insert and update
	Schema map[string]any `json:"schema,omitempty"`
}

// Config configures a database instance
type Config struct {
	// Name is the database name, used in event namespaces and resume tokens
	Name string `json:"name" validate:"required"`
	// Provider is the registered key value provider (default: badger)
	Provider string `json:"provider,omitempty"`
	// Params are provider specific parameters. An empty storage_path opens
	// the badger provider in memory.
	Params map[string]any `json:"params,omitempty"`
	// LogLevel is the minimum log level (default: info)
	LogLevel string `json:"logLevel,omitempty"`
	// PollInterval is the fixed delay between change stream polls
	PollInterval time.Duration `json:"pollInterval,omitempty"`
	// MaxAwaitTime caps how long a change stream Next call blocks
	MaxAwaitTime time.Duration `json:"maxAwaitTime,omitempty"`
	// Collections are created when the database opens
	Collections []CollectionConfig `json:"collections,omitempty"`
}

// SetDefaults fills in unset fields with sensible defaults
func (c *Config) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "badger"
	}
	if c.Params == nil {
		c.Params = map[string]any{}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 50 * time.Millisecond
	}
	if c.MaxAwaitTime <= 0 {
		c.MaxAwaitTime = time.Second
	}
}

// NewConfigFromBytes parses a yaml or json encoded config
func NewConfigFromBytes(bits []byte) (Config, error) {
	var config Config
	jsonBits, err := util.YAMLToJSON(bits)
	if err != nil {
		return config, errors.Wrap(err, errors.Validation, "failed to parse config")
	}
	if err := json.Unmarshal(jsonBits, &config); err != nil {
		return config, errors.Wrap(err, errors.Validation, "failed to parse config")
	}
	return config, nil
}
