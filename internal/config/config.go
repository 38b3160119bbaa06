// Package config loads docstore's open-time configuration from a
// YAML file via viper, the same way novasql's internal config loader
// does, and turns it into an engine.Config.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/nainya/docstore/internal/engine"
)

// FileConfig mirrors the on-disk YAML shape (spec.md §6 "Limits" and
// the open-time configuration record).
type FileConfig struct {
	PageSize        int    `mapstructure:"page_size"`
	UseCompression  bool   `mapstructure:"use_compression"`
	QuickMode       bool   `mapstructure:"quick_mode"`
	MaxDocumentSize int64  `mapstructure:"max_document_size"`
	MaxPages        int64  `mapstructure:"max_pages"`
	PageCacheSize   int    `mapstructure:"page_cache_size"`
	PathCacheSize   int    `mapstructure:"path_cache_size"`
	VersionsToKeep  int    `mapstructure:"versions_to_keep"`
	LogLevel        string `mapstructure:"log_level"`
}

// Load reads path as YAML and returns both the raw file shape (for
// logging/diagnostics) and the engine.Config it produces. A missing
// file is not an error: the zero FileConfig normalizes to
// engine.DefaultConfig() via engine.Config.normalize at Open.
func Load(path string) (FileConfig, engine.Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	var fc FileConfig
	if err := v.ReadInConfig(); err != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		notFound := errors.As(err, &notFoundErr) || os.IsNotExist(err)
		if !notFound {
			return fc, engine.Config{}, fmt.Errorf("read config: %w", err)
		}
	} else if err := v.Unmarshal(&fc); err != nil {
		return fc, engine.Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	return fc, toEngineConfig(fc), nil
}

func toEngineConfig(fc FileConfig) engine.Config {
	return engine.Config{
		PageSize:        fc.PageSize,
		UseCompression:  fc.UseCompression,
		QuickMode:       fc.QuickMode,
		MaxDocumentSize: fc.MaxDocumentSize,
		MaxPages:        fc.MaxPages,
		PageCacheSize:   fc.PageCacheSize,
		PathCacheSize:   fc.PathCacheSize,
		VersionsToKeep:  fc.VersionsToKeep,
	}
}
