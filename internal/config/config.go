package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	GitHub   GitHubConfig   `yaml:"github"`
	Provider ProviderConfig `yaml:"provider"`
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Defaults DefaultsConfig `yaml:"defaults"`
	Repos    []RepoConfig   `yaml:"repos"`
}

// GitHubConfig holds GitHub authentication settings. Auth selects between a
// personal access token ("token") and a GitHub App installation ("app").
type GitHubConfig struct {
	Auth           string `yaml:"auth"`
	Token          string `yaml:"token"`
	AppID          string `yaml:"app_id"`
	InstallationID string `yaml:"installation_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
	PrivateKey     string `yaml:"private_key"`
}

// ProviderConfig holds embedding provider settings.
type ProviderConfig struct {
	Type       string `yaml:"type"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	URL        string `yaml:"url"`
	Dimensions int    `yaml:"dimensions"`
}

// ServerConfig holds HTTP server settings. APIKey, when set, is required in
// the Token header of every request.
type ServerConfig struct {
	Addr   string `yaml:"addr"`
	APIKey string `yaml:"api_key"`
}

// StoreConfig holds storage settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// DefaultsConfig holds default operational parameters.
type DefaultsConfig struct {
	Workers           int    `yaml:"workers"`
	MaxChars          int    `yaml:"max_chars"`
	PageSize          int    `yaml:"page_size"`
	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// RepoConfig names a repository tracked by default.
type RepoConfig struct {
	Name string `yaml:"name"`
}

// RequestTimeout returns the parsed per-issue request timeout.
func (d DefaultsConfig) RequestTimeout() (time.Duration, error) {
	if d.RequestTimeoutRaw == "" {
		return 30 * time.Second, nil
	}
	return time.ParseDuration(d.RequestTimeoutRaw)
}

// envVarPattern matches ${VAR} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} placeholders with environment variable values.
// Returns an error if any referenced variable is not set.
func expandEnvVars(data []byte) ([]byte, error) {
	var missing []string

	result := envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		val, ok := os.LookupEnv(string(varName))
		if !ok {
			missing = append(missing, string(varName))
			return match
		}
		return []byte(val)
	})

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return result, nil
}

// Load reads and parses a config file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses config from raw YAML bytes, expanding env vars and validating.
func Parse(data []byte) (*Config, error) {
	expanded, err := expandEnvVars(data)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.GitHub.Auth == "" {
		cfg.GitHub.Auth = "token"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "~/.embedsrv/embedsrv.db"
	}
	if cfg.Defaults.Workers == 0 {
		cfg.Defaults.Workers = 4
	}
	if cfg.Defaults.MaxChars == 0 {
		cfg.Defaults.MaxChars = 8000
	}
	if cfg.Defaults.PageSize == 0 {
		cfg.Defaults.PageSize = 100
	}
	if cfg.Defaults.RequestTimeoutRaw == "" {
		cfg.Defaults.RequestTimeoutRaw = "30s"
	}
}

func validate(cfg *Config) error {
	switch cfg.GitHub.Auth {
	case "token", "app":
	default:
		return fmt.Errorf("github.auth must be \"token\" or \"app\", got %q", cfg.GitHub.Auth)
	}

	if _, err := time.ParseDuration(cfg.Defaults.RequestTimeoutRaw); err != nil {
		return fmt.Errorf("invalid request_timeout %q: %w", cfg.Defaults.RequestTimeoutRaw, err)
	}

	if cfg.Defaults.Workers < 0 {
		return fmt.Errorf("workers must be positive, got %d", cfg.Defaults.Workers)
	}
	if cfg.Defaults.PageSize < 0 || cfg.Defaults.PageSize > 100 {
		return fmt.Errorf("page_size must be between 1 and 100, got %d", cfg.Defaults.PageSize)
	}
	if cfg.Provider.Dimensions < 0 {
		return fmt.Errorf("provider dimensions must be positive, got %d", cfg.Provider.Dimensions)
	}

	validTypes := map[string]bool{"openai": true, "ollama": true, "": true}
	if !validTypes[cfg.Provider.Type] {
		return fmt.Errorf("unsupported embedding provider type: %s", cfg.Provider.Type)
	}

	for _, repo := range cfg.Repos {
		if !strings.Contains(repo.Name, "/") {
			return fmt.Errorf("repo %q must be in owner/repo form", repo.Name)
		}
	}

	return nil
}
