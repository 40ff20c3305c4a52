// Package cmd implements the itemreg command line tooling around the
// registry: inspecting definitions, verifying integrity and producing
// cook output.
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/commonforge/itemregistry/internal/config"
	"github.com/commonforge/itemregistry/internal/datasource"
	"github.com/commonforge/itemregistry/internal/item"
	"github.com/commonforge/itemregistry/internal/log"
	"github.com/commonforge/itemregistry/internal/registry"
	"github.com/commonforge/itemregistry/internal/tracing"
)

var (
	version = "dev"
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:     "itemreg",
	Short:   "Item registry tooling",
	Long:    `Tooling around the item archetype registry: inspect definition directories, verify registry files and produce cooked output for shipping.`,
	Version: version,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/itemreg/config.yaml)")
	rootCmd.PersistentFlags().StringP("definitions", "d", "",
		"definition directory (overrides config)")

	_ = viper.BindPFlag("definition_dir", rootCmd.PersistentFlags().Lookup("definitions"))
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("data_source", defaults.DataSource)
	viper.SetDefault("definition_dir", defaults.DefinitionDir)
	viper.SetDefault("registry_file", defaults.RegistryFile)
	viper.SetDefault("development_registry_file", defaults.DevelopmentRegistryFile)
	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .itemreg/config.yaml (current directory)
		// 2. ~/.config/itemreg/config.yaml (user config)
		if _, err := os.Stat(".itemreg/config.yaml"); err == nil {
			viper.SetConfigFile(".itemreg/config.yaml")
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "itemreg"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		// Missing config is fine, defaults apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "reading config: %v\n", err)
		}
	}

	_ = viper.Unmarshal(&cfg)
	initLogging()
}

func initLogging() {
	if !cfg.Log.Enabled {
		return
	}
	if cfg.Log.Path == "" {
		log.InitWithWriter(os.Stderr)
	} else if cleanup, err := log.Init(cfg.Log.Path); err == nil {
		cobra.OnFinalize(cleanup)
	}

	switch cfg.Log.Level {
	case "debug":
		log.SetMinLevel(log.LevelDebug)
	case "warn":
		log.SetMinLevel(log.LevelWarn)
	case "error":
		log.SetMinLevel(log.LevelError)
	default:
		log.SetMinLevel(log.LevelInfo)
	}
}

// buildRegistry constructs and initializes a registry from the loaded
// configuration. The returned cleanup closes the registry and flushes
// traces.
func buildRegistry(ctx context.Context) (*registry.Registry, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return nil, nil, fmt.Errorf("tracing: %w", err)
	}

	schemas := item.NewSchemaRegistry()
	source := datasource.NewYAMLSource(cfg.DefinitionDir, schemas)

	r, err := registry.New(registry.Options{
		Source:                       source,
		Schemas:                      schemas,
		NameRedirects:                cfg.NameRedirectors(),
		ArchetypeRedirects:           cfg.ArchetypeRedirectors(),
		RegistryFile:                 cfg.RegistryFile,
		DevelopmentRegistryFile:      cfg.DevelopmentRegistryFile,
		ValidateReplicationChecksums: cfg.ValidateReplicationChecksums,
		Tracer:                       provider.Tracer(),
	})
	if err != nil {
		provider.Shutdown(ctx)
		return nil, nil, err
	}

	if err := r.Initialize(ctx); err != nil {
		provider.Shutdown(ctx)
		return nil, nil, fmt.Errorf("initialize registry: %w", err)
	}

	cleanup := func() {
		if err := r.Close(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "closing registry: %v\n", err)
		}
		_ = provider.Shutdown(ctx)
	}
	return r, cleanup, nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
