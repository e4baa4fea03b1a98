package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a YAML file, applies defaults and
// validates the result. The returned Config is immutable by convention: it is
// built once at process start and passed explicitly to components.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	// Apply environment variable interpolation before parsing.
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Discover finds a config file by checking standard locations.
// Priority order: $LATEX_SERVER_CONFIG, ./config.yaml. An empty string means
// no file was found and the caller should run on Defaults().
func Discover() string {
	if path := os.Getenv("LATEX_SERVER_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	legacyConfigPath := "./config.yaml"
	if _, err := os.Stat(legacyConfigPath); err == nil {
		return legacyConfigPath
	}

	return ""
}

// applyDefaults merges default values into config where not explicitly set.
func applyDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = defaults.Server.Listen
	}
	if cfg.Server.MaxConcurrentSync == 0 {
		cfg.Server.MaxConcurrentSync = defaults.Server.MaxConcurrentSync
	}

	if cfg.Compiler.LatexCommand == "" {
		cfg.Compiler.LatexCommand = defaults.Compiler.LatexCommand
	}
	if cfg.Compiler.LatexArgs == nil {
		cfg.Compiler.LatexArgs = defaults.Compiler.LatexArgs
	}
	if cfg.Compiler.BibtexCommand == "" {
		cfg.Compiler.BibtexCommand = defaults.Compiler.BibtexCommand
	}
	if cfg.Compiler.MaxPasses == 0 {
		cfg.Compiler.MaxPasses = defaults.Compiler.MaxPasses
	}
	if cfg.Compiler.CommandTimeout == 0 {
		cfg.Compiler.CommandTimeout = defaults.Compiler.CommandTimeout
	}
	if cfg.Compiler.WorkspaceDir == "" {
		cfg.Compiler.WorkspaceDir = defaults.Compiler.WorkspaceDir
	}

	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}

	if cfg.Workers.Count == 0 {
		cfg.Workers.Count = defaults.Workers.Count
	}
	if cfg.Workers.PollInterval == 0 {
		cfg.Workers.PollInterval = defaults.Workers.PollInterval
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}

		// If not found, leave the placeholder (will fail validation if required).
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if cfg.Server.MaxConcurrentSync <= 0 {
		return fmt.Errorf("server.max_concurrent_sync must be positive")
	}
	if envVarPattern.MatchString(cfg.Server.Auth.APIKey) {
		matches := envVarPattern.FindStringSubmatch(cfg.Server.Auth.APIKey)
		if len(matches) > 1 {
			return fmt.Errorf("server.auth.api_key: environment variable ${%s} is not set", matches[1])
		}
		return fmt.Errorf("server.auth.api_key: unresolved environment variable")
	}

	if cfg.Compiler.LatexCommand == "" {
		return fmt.Errorf("compiler.latex_command is required")
	}
	if cfg.Compiler.BibtexCommand == "" {
		return fmt.Errorf("compiler.bibtex_command is required")
	}
	if cfg.Compiler.MaxPasses <= 0 {
		return fmt.Errorf("compiler.max_passes must be positive")
	}
	if cfg.Compiler.CommandTimeout <= 0 {
		return fmt.Errorf("compiler.command_timeout must be positive")
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	if cfg.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be positive")
	}
	if cfg.Workers.PollInterval <= 0 {
		return fmt.Errorf("workers.poll_interval must be positive")
	}

	return nil
}
