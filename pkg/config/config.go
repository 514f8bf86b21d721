package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/h4ckmm3/save-backup/pkg/archiver"
	"github.com/h4ckmm3/save-backup/pkg/buildinfo"
	"github.com/h4ckmm3/save-backup/pkg/manifest"
	"github.com/h4ckmm3/save-backup/pkg/plog"
	"github.com/h4ckmm3/save-backup/pkg/util"
)

// ConfigFileName is the name of the configuration file inside the backup root.
const ConfigFileName = "save-backup.config.json"

// systemExcludeFilePatterns is a slice of file patterns that should always
// be excluded from backups for the system to function correctly.
var systemExcludeFilePatterns = []string{manifest.FileName, ConfigFileName}

type ArchiveConfig struct {
	Format string `json:"format"`
}

type WatchConfig struct {
	DebounceMS int `json:"debounceMs"`
}

type Config struct {
	Version  string `json:"version"`
	Root     string `json:"-"` // Never added to config file
	LogLevel string `json:"logLevel"`
	// Note: omitempty is intentionally not used for user-configurable slices
	// so that they appear in the generated config file for better discoverability.
	// Exclusion patterns match case-insensitively.
	UserExcludeFiles []string      `json:"userExcludeFiles"`
	SiteMarkers      []string      `json:"siteMarkers"`
	Archive          ArchiveConfig `json:"archive"`
	Watch            WatchConfig   `json:"watch"`
}

// NewDefault creates and returns a Config struct with sensible default
// values.
func NewDefault() Config {
	return Config{
		Version:          buildinfo.Version,
		Root:             "", // Intentionally empty to force user configuration.
		LogLevel:         "info",
		UserExcludeFiles: []string{}, // User-defined list of file patterns to exclude.
		SiteMarkers:      []string{}, // User-defined web-root folder names for path resolution.
		Archive: ArchiveConfig{
			Format: "zip",
		},
		Watch: WatchConfig{
			DebounceMS: 500,
		},
	}
}

// Load attempts to load a configuration from "save-backup.config.json" in
// the backup root. If the file doesn't exist, it returns the default config
// without an error. If the file exists but fails to parse, it returns an
// error and a zero-value config.
func Load(root string) (Config, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return Config{}, fmt.Errorf("could not determine absolute path for load directory %s: %w", root, err)
	}

	configPath := filepath.Join(absRoot, ConfigFileName)

	file, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := NewDefault()
			cfg.Root = absRoot
			return cfg, nil // Config file doesn't exist, which is a normal case.
		}
		return Config{}, fmt.Errorf("error opening config file %s: %w", configPath, err)
	}
	defer file.Close()

	plog.Info("Loading configuration", "path", configPath)
	// Start with default values, then overwrite with the file's content.
	// This makes the config loading resilient to missing fields in the JSON file.
	config := NewDefault()
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&config); err != nil {
		return Config{}, fmt.Errorf("error parsing config file %s: %w", configPath, err)
	}
	config.Root = absRoot

	// The version in the file reflects whichever build wrote it; the running
	// build owns the struct from here on.
	if config.Version != buildinfo.Version {
		config.Version = buildinfo.Version
	}
	return config, nil
}

// Generate creates or overwrites a default save-backup.config.json file in
// the configured backup root.
func Generate(configToGenerate Config) error {
	configPath := filepath.Join(configToGenerate.Root, ConfigFileName)
	jsonData, err := json.MarshalIndent(configToGenerate, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal default config to JSON: %w", err)
	}

	if err := os.WriteFile(configPath, jsonData, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	plog.Info("Successfully saved config file", "path", configPath)
	return nil
}

// Validate checks the configuration for logical errors and inconsistencies.
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("backup root cannot be empty")
	}

	var err error
	c.Root, err = util.ExpandPath(c.Root)
	if err != nil {
		return fmt.Errorf("could not expand backup root: %w", err)
	}
	c.Root = filepath.Clean(c.Root)

	if _, err := archiver.FormatFromString(c.Archive.Format); err != nil {
		return fmt.Errorf("archive.format: %w", err)
	}
	if c.Watch.DebounceMS < 0 {
		return fmt.Errorf("watch.debounceMs cannot be negative")
	}

	if err := validateGlobPatterns("userExcludeFiles", c.UserExcludeFiles); err != nil {
		return err
	}
	for _, marker := range c.SiteMarkers {
		if strings.TrimSpace(marker) == "" {
			return fmt.Errorf("siteMarkers cannot contain empty entries")
		}
	}
	return nil
}

// LogSummary prints a user-friendly summary of the configuration.
func (c *Config) LogSummary() {
	logArgs := []interface{}{
		"root", c.Root,
		"log_level", c.LogLevel,
		"archive_format", c.Archive.Format,
		"watch_debounce_ms", c.Watch.DebounceMS,
	}
	if excludes := c.ExcludeFiles(); len(excludes) > 0 {
		logArgs = append(logArgs, "exclude_files", strings.Join(excludes, ", "))
	}
	if len(c.SiteMarkers) > 0 {
		logArgs = append(logArgs, "site_markers", strings.Join(c.SiteMarkers, ", "))
	}
	plog.Info("Configuration loaded", logArgs...)
}

// ExcludeFiles returns the final, combined slice of file exclusion patterns,
// including non-overridable system patterns and user-configured patterns.
// It automatically handles deduplication.
func (c *Config) ExcludeFiles() []string {
	return util.MergeAndDeduplicate(systemExcludeFilePatterns, c.UserExcludeFiles)
}

// MergeWithFlags overlays the configuration values from flags on top of a
// base configuration. It iterates over the setFlags map, which contains only
// the flags explicitly provided by the user on the command line.
func MergeWithFlags(base Config, setFlags map[string]any) Config {
	merged := base

	for name, value := range setFlags {
		switch name {
		case "root":
			merged.Root = value.(string)
		case "log-level":
			merged.LogLevel = value.(string)
		case "exclude":
			merged.UserExcludeFiles = value.([]string)
		case "markers":
			merged.SiteMarkers = value.([]string)
		case "format":
			merged.Archive.Format = value.(string)
		case "debounce-ms":
			merged.Watch.DebounceMS = value.(int)
		default:
			plog.Debug("unhandled flag in MergeWithFlags", "flag", name)
		}
	}
	return merged
}

// validateGlobPatterns checks if a list of strings are valid glob patterns.
func validateGlobPatterns(fieldName string, patterns []string) error {
	for _, pattern := range patterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("invalid glob pattern for %s: %q - %w", fieldName, pattern, err)
		}
	}
	return nil
}
