// Package config provides configuration management for the leapmetrics CLI.
package config

import "time"

// Config holds all CLI configuration options.
type Config struct {
	// Home anchors every relative path below
	Home         string         `koanf:"home"`
	LayerDir     string         `koanf:"layer_dir"`
	TransientDir string         `koanf:"transient_dir"`
	Database     string         `koanf:"database"`
	StatePath    string         `koanf:"state_path"`
	Cutoff       int            `koanf:"low_cardinality_cutoff"`
	Verbose      bool           `koanf:"verbose"`
	OutputFormat string         `koanf:"output"`
	Oracle       OracleConfig   `koanf:"oracle"`
	GitHub       GitHubConfig   `koanf:"github"`
	Pipeline     PipelineConfig `koanf:"pipeline"`
	Server       ServerConfig   `koanf:"server"`
	DuckDB       DuckDBConfig   `koanf:"duckdb"`
}

// OracleConfig configures the language-model client.
type OracleConfig struct {
	Endpoint    string        `koanf:"endpoint"`
	Model       string        `koanf:"model"`
	APIKey      string        `koanf:"api_key"`
	Timeout     time.Duration `koanf:"timeout"`
	Temperature float64       `koanf:"temperature"`
}

// Enabled reports whether an oracle is configured.
func (o OracleConfig) Enabled() bool {
	return o.APIKey != "" || o.Endpoint != ""
}

// GitHubConfig configures publication of refined metrics.
type GitHubConfig struct {
	Token      string `koanf:"token"`
	Repo       string `koanf:"repo"`
	BaseBranch string `koanf:"base_branch"`
	Dir        string `koanf:"dir"`
}

// Enabled reports whether publication is configured.
func (g GitHubConfig) Enabled() bool {
	return g.Token != "" && g.Repo != ""
}

// PipelineConfig holds query pipeline defaults.
type PipelineConfig struct {
	Retries  int `koanf:"retries"`
	RowLimit int `koanf:"row_limit"`
}

// ServerConfig configures `serve`.
type ServerConfig struct {
	Addr        string   `koanf:"addr"`
	Watch       bool     `koanf:"watch"`
	AutoRefine  bool     `koanf:"auto_refine"`
	CORSOrigins []string `koanf:"cors_origins"`
}

// DuckDBConfig is passed to the deployment engine.
type DuckDBConfig struct {
	Extensions []string          `koanf:"extensions"`
	Settings   map[string]string `koanf:"settings"`
}

// Default configuration values.
const (
	DefaultHome         = ".leapmetrics"
	DefaultLayerDir     = "layers"
	DefaultTransientDir = "transient"
	DefaultDatabase     = "governed.duckdb"
	DefaultStateFile    = "state.db"
	DefaultCutoff       = 100
	DefaultOutput       = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultTimeout      = 60 * time.Second
	DefaultRetries      = 1
	DefaultRowLimit     = 1000
	DefaultAddr         = ":8080"
	DefaultGitHubBranch = "main"
	DefaultGitHubDir    = "metrics"
)
