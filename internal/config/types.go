package config

import "time"

// Config represents the complete latex-server configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Server   ServerConfig   `yaml:"server"`
	Compiler CompilerConfig `yaml:"compiler"`
	State    StateConfig    `yaml:"state"`
	Workers  WorkersConfig  `yaml:"workers"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// ServerConfig defines HTTP server settings.
type ServerConfig struct {
	Listen string `yaml:"listen"`
	// MaxConcurrentSync caps simultaneous POST /compile requests; excess
	// requests get 503.
	MaxConcurrentSync int              `yaml:"max_concurrent_sync"`
	Auth              ServerAuthConfig `yaml:"auth"`
}

// ServerAuthConfig defines API authentication settings. An empty key leaves
// the API unauthenticated, matching the original service.
type ServerAuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// CompilerConfig defines how the typesetting engine and the bibliography
// tool are invoked. The values are loaded once at startup and passed into
// the compiler by value; nothing reads them after that.
type CompilerConfig struct {
	LatexCommand   string        `yaml:"latex_command"`
	LatexArgs      []string      `yaml:"latex_args"`
	BibtexCommand  string        `yaml:"bibtex_command"`
	MaxPasses      int           `yaml:"max_passes"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	WorkspaceDir   string        `yaml:"workspace_dir"`
}

// StateConfig defines job store settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// WorkersConfig defines the async compilation worker pool.
type WorkersConfig struct {
	Count        int           `yaml:"count"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// MetricsConfig defines Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Defaults returns a Config matching the original server's defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "latex-server",
			LogLevel: "info",
		},
		Server: ServerConfig{
			Listen:            "0.0.0.0:9080",
			MaxConcurrentSync: 4,
		},
		Compiler: CompilerConfig{
			LatexCommand:   "pdflatex",
			LatexArgs:      []string{"-interaction=nonstopmode", "-halt-on-error"},
			BibtexCommand:  "bibtex",
			MaxPasses:      5,
			CommandTimeout: 60 * time.Second,
			WorkspaceDir:   "./data/workspaces",
		},
		State: StateConfig{
			Path: "./data/latex-server.db",
		},
		Workers: WorkersConfig{
			Count:        2,
			PollInterval: time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
