// Package config provides configuration types and defaults for the item
// registry tooling.
package config

import (
	"fmt"

	"github.com/commonforge/itemregistry/internal/item"
	"github.com/commonforge/itemregistry/internal/redirect"
	"github.com/commonforge/itemregistry/internal/tracing"
)

// RedirectEntry is one rename rule as written in configuration.
type RedirectEntry struct {
	Old string `mapstructure:"old"`
	New string `mapstructure:"new"`
}

// LogConfig controls the structured log sink.
type LogConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Level   string `mapstructure:"level"` // "debug", "info", "warn", "error"
}

// Config holds all configuration options for the registry tooling.
type Config struct {
	// DataSource selects the record source kind: "yaml-directory".
	DataSource string `mapstructure:"data_source"`

	// DefinitionDir is the root of the YAML definition tree.
	DefinitionDir string `mapstructure:"definition_dir"`

	// RegistryFile is the shipped, cooked registry file.
	RegistryFile string `mapstructure:"registry_file"`

	// DevelopmentRegistryFile is the local cache written on shutdown.
	DevelopmentRegistryFile string `mapstructure:"development_registry_file"`

	// ValidateReplicationChecksums enables per-record checksum validation
	// when resolving peer-sent replication indices.
	ValidateReplicationChecksums bool `mapstructure:"validate_replication_checksums"`

	// NameRedirects and ArchetypeRedirects are the raw rename lists.
	NameRedirects      []RedirectEntry `mapstructure:"name_redirects"`
	ArchetypeRedirects []RedirectEntry `mapstructure:"archetype_redirects"`

	Log     LogConfig      `mapstructure:"log"`
	Tracing tracing.Config `mapstructure:"tracing"`
}

// Defaults returns the configuration used when no config file exists.
func Defaults() Config {
	return Config{
		DataSource:              "yaml-directory",
		DefinitionDir:           "definitions",
		RegistryFile:            "registry.bin",
		DevelopmentRegistryFile: "registry_dev.bin",
		Log:                     LogConfig{Level: "info"},
		Tracing:                 tracing.DefaultConfig(),
	}
}

// Validate rejects configurations the registry cannot start with.
func (c Config) Validate() error {
	switch c.DataSource {
	case "yaml-directory":
		if c.DefinitionDir == "" {
			return fmt.Errorf("definition_dir required for data_source %q", c.DataSource)
		}
	default:
		return fmt.Errorf("unknown data_source %q", c.DataSource)
	}

	for _, entry := range c.NameRedirects {
		if entry.Old == "" || entry.New == "" {
			return fmt.Errorf("name redirect %q -> %q: empty component", entry.Old, entry.New)
		}
	}
	for _, entry := range c.ArchetypeRedirects {
		if entry.Old == "" || entry.New == "" {
			return fmt.Errorf("archetype redirect %q -> %q: empty component", entry.Old, entry.New)
		}
	}
	return nil
}

// NameRedirectors converts the raw name entries to typed redirectors.
func (c Config) NameRedirectors() []redirect.Redirector[item.Name] {
	out := make([]redirect.Redirector[item.Name], 0, len(c.NameRedirects))
	for _, entry := range c.NameRedirects {
		out = append(out, redirect.Redirector[item.Name]{
			Old: item.Name(entry.Old),
			New: item.Name(entry.New),
		})
	}
	return out
}

// ArchetypeRedirectors converts the raw archetype entries to typed
// redirectors.
func (c Config) ArchetypeRedirectors() []redirect.Redirector[item.Archetype] {
	out := make([]redirect.Redirector[item.Archetype], 0, len(c.ArchetypeRedirects))
	for _, entry := range c.ArchetypeRedirects {
		out = append(out, redirect.Redirector[item.Archetype]{
			Old: item.Archetype(entry.Old),
			New: item.Archetype(entry.New),
		})
	}
	return out
}
