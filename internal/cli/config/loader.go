package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable read by the loader.
const EnvPrefix = "LEAPMETRICS_"

// loggerKey is used to store logger in context.
type loggerKey struct{}

// sections are the nested config blocks; LEAPMETRICS_ORACLE_API_KEY maps to oracle.api_key.
var sections = []string{"oracle", "github", "pipeline", "server", "duckdb"}

// flagKeys maps flag names whose config key differs from the kebab-to-snake rule.
var flagKeys = map[string]string{
	"state":  "state_path",
	"cutoff": "low_cardinality_cutoff",
	"addr":   "server.addr",
	"watch":  "server.watch",
}

var (
	configFileUsed string
	currentConfig  *Config // Stores the loaded config for access by commands
)

// ResetConfig clears the loaded configuration (used by tests).
func ResetConfig() {
	configFileUsed = ""
	currentConfig = nil
}

// findConfigFile finds the config file to use.
// Priority: explicit path > leapmetrics.yaml > leapmetrics.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{"leapmetrics.yaml", "leapmetrics.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// envKey transforms LEAPMETRICS_ORACLE_API_KEY into oracle.api_key.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, section := range sections {
		if rest, ok := strings.CutPrefix(key, section+"_"); ok {
			return section + "." + rest
		}
	}
	return key
}

// flagKey transforms a flag name into its config key.
func flagKey(name string) string {
	if key, ok := flagKeys[name]; ok {
		return key
	}
	return strings.ReplaceAll(name, "-", "_")
}

func defaults() map[string]any {
	return map[string]any{
		"home":                   DefaultHome,
		"layer_dir":              DefaultLayerDir,
		"transient_dir":          DefaultTransientDir,
		"database":               DefaultDatabase,
		"state_path":             DefaultStateFile,
		"low_cardinality_cutoff": DefaultCutoff,
		"verbose":                false,
		"output":                 DefaultOutput,
		"oracle.timeout":         DefaultTimeout.String(),
		"pipeline.retries":       DefaultRetries,
		"pipeline.row_limit":     DefaultRowLimit,
		"server.addr":            DefaultAddr,
		"github.base_branch":     DefaultGitHubBranch,
		"github.dir":             DefaultGitHubDir,
	}
}

// LoadConfig loads configuration from defaults, file, environment variables and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Load defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Load config file
	configFileUsed = findConfigFile(cfgFile)
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	}

	// 3. Load environment variables
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Load flags that were explicitly set
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			return flagKey(f.Name), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal with duration and comma-list hooks
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			WeaklyTypedInput: true,
			TagName:          "koanf",
			Result:           &cfg,
		},
	}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// 6. Resolve paths against home
	cfg.Home = expandEnvVars(cfg.Home)
	if !filepath.IsAbs(cfg.Home) {
		if abs, err := filepath.Abs(cfg.Home); err == nil {
			cfg.Home = abs
		}
	}
	cfg.LayerDir = resolvePathRelativeTo(cfg.LayerDir, cfg.Home)
	cfg.TransientDir = resolvePathRelativeTo(cfg.TransientDir, cfg.Home)
	cfg.StatePath = resolvePathRelativeTo(cfg.StatePath, cfg.Home)
	if cfg.Database != ":memory:" {
		cfg.Database = resolvePathRelativeTo(cfg.Database, cfg.Home)
	} else {
		cfg.Database = ""
	}

	// Secrets may reference the environment; unresolved references count as unset
	cfg.Oracle.APIKey = expandSecret(cfg.Oracle.APIKey)
	cfg.GitHub.Token = expandSecret(cfg.GitHub.Token)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	currentConfig = &cfg
	return &cfg, nil
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// GetConfigFileUsed returns the path to the config file being used, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// GetCurrentConfig returns the last successfully loaded configuration, or nil.
func GetCurrentConfig() *Config {
	return currentConfig
}

// LoggerKey returns the context key used for storing the logger.
func LoggerKey() interface{} {
	return loggerKey{}
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

// expandSecret expands s and drops it if a reference is left unresolved.
func expandSecret(s string) string {
	s = expandEnvVars(s)
	if envVarPattern.MatchString(s) {
		return ""
	}
	return s
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if val := os.Getenv(match[2 : len(match)-1]); val != "" {
			return val
		}
		return match
	})
}
