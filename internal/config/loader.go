package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so keys and tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Server.Auth.Token = expandEnvVars(cfg.Server.Auth.Token)
	cfg.Server.Auth.Users = expandEnvVars(cfg.Server.Auth.Users)
	cfg.Server.Upload.SigningKey = expandEnvVars(cfg.Server.Upload.SigningKey)
	cfg.Client.Token = expandEnvVars(cfg.Client.Token)
	cfg.Producer.APIKey = expandEnvVars(cfg.Producer.APIKey)
	cfg.Store.DSN = expandEnvVars(cfg.Store.DSN)
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			expandSensitiveFields(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8790
	}
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = "loopback"
	}
	if cfg.Server.Upload.UploadTTLMinutes == 0 {
		cfg.Server.Upload.UploadTTLMinutes = 15
	}
	if cfg.Server.Upload.DownloadTTLMinutes == 0 {
		cfg.Server.Upload.DownloadTTLMinutes = 60
	}
	if cfg.Server.Upload.MaxUploadMB == 0 {
		cfg.Server.Upload.MaxUploadMB = 512
	}
	if cfg.Client.ServerURL == "" {
		cfg.Client.ServerURL = "http://localhost:8790"
	}
	if cfg.Producer.Backend == "" {
		cfg.Producer.Backend = "scripted"
	}
	if cfg.Producer.MaxTokens == 0 {
		cfg.Producer.MaxTokens = 4096
	}
	if cfg.Coach.ReconnectBaseMS == 0 {
		cfg.Coach.ReconnectBaseMS = 2000
	}
	if cfg.Coach.ReconnectMaxAttempts == 0 {
		cfg.Coach.ReconnectMaxAttempts = 5
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "sqlite"
	}
	if cfg.Capture.Role == "" {
		cfg.Capture.Role = "practice"
	}
	if cfg.Capture.SettleMS == 0 {
		cfg.Capture.SettleMS = 750
	}
	if len(cfg.Capture.Extensions) == 0 {
		cfg.Capture.Extensions = []string{".webm", ".mp4", ".mov"}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleLevel == "" {
		cfg.Logging.ConsoleLevel = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}
}

// applyEnvOverrides reads FERMATA_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FERMATA_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FERMATA_SERVER_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("FERMATA_SERVER_URL"); v != "" {
		cfg.Client.ServerURL = v
	}
	if v := os.Getenv("FERMATA_PRODUCER_BACKEND"); v != "" {
		cfg.Producer.Backend = v
	}
	if v := os.Getenv("FERMATA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}
