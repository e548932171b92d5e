package rangeserver

import "github.com/hypertable-go/rangeserver/internal/config"

// Config is the public alias of the typed configuration struct client
// code and cmd/rangeserverd load from YAML.
type Config = config.Config

// DefaultConfig returns the configuration a standalone instance runs with
// absent a config file, mirroring the teacher's DefaultParams(backend).
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}
