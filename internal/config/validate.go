package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	// Server validation
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "server.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Server.Port),
		})
	}

	validBinds := []string{"auto", "lan", "loopback", "custom"}
	if cfg.Server.Bind != "" && !slices.Contains(validBinds, cfg.Server.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "server.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Server.Bind),
		})
	}

	if cfg.Server.Bind == "custom" && cfg.Server.CustomBindHost == "" {
		issues = append(issues, ValidationIssue{
			Path:    "server.customBindHost",
			Message: "required when bind: custom",
		})
	}

	if cfg.Server.Upload.UploadTTLMinutes < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "server.upload.uploadTtlMinutes",
			Message: "must not be negative",
		})
	}
	if cfg.Server.Upload.DownloadTTLMinutes < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "server.upload.downloadTtlMinutes",
			Message: "must not be negative",
		})
	}

	// Login credentials: "user:pass" pairs separated by commas
	if cfg.Server.Auth.Users != "" {
		for _, pair := range strings.Split(cfg.Server.Auth.Users, ",") {
			if !strings.Contains(pair, ":") {
				issues = append(issues, ValidationIssue{
					Path:    "server.auth.users",
					Message: fmt.Sprintf("entry %q is not user:pass", strings.TrimSpace(pair)),
				})
			}
		}
	}

	// Producer validation
	validBackends := []string{"gemini", "anthropic", "scripted"}
	if cfg.Producer.Backend != "" && !slices.Contains(validBackends, cfg.Producer.Backend) {
		issues = append(issues, ValidationIssue{
			Path:    "producer.backend",
			Message: fmt.Sprintf("must be one of %v, got %q", validBackends, cfg.Producer.Backend),
		})
	}
	if (cfg.Producer.Backend == "gemini" || cfg.Producer.Backend == "anthropic") && cfg.Producer.APIKey == "" {
		issues = append(issues, ValidationIssue{
			Path:    "producer.apiKey",
			Message: fmt.Sprintf("required for backend %q", cfg.Producer.Backend),
		})
	}

	// Coach validation
	if cfg.Coach.ReconnectBaseMS < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "coach.reconnectBaseMs",
			Message: "must not be negative",
		})
	}
	if cfg.Coach.ReconnectMaxAttempts < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "coach.reconnectMaxAttempts",
			Message: "must not be negative",
		})
	}

	// Store validation
	validStores := []string{"sqlite", "postgres", "memory"}
	if cfg.Store.Backend != "" && !slices.Contains(validStores, cfg.Store.Backend) {
		issues = append(issues, ValidationIssue{
			Path:    "store.backend",
			Message: fmt.Sprintf("must be one of %v, got %q", validStores, cfg.Store.Backend),
		})
	}
	if cfg.Store.Backend == "postgres" && cfg.Store.DSN == "" {
		issues = append(issues, ValidationIssue{
			Path:    "store.dsn",
			Message: "required when backend: postgres",
		})
	}

	// Capture validation
	validRoles := []string{"original", "practice", "final"}
	if cfg.Capture.Role != "" && !slices.Contains(validRoles, cfg.Capture.Role) {
		issues = append(issues, ValidationIssue{
			Path:    "capture.role",
			Message: fmt.Sprintf("must be one of %v, got %q", validRoles, cfg.Capture.Role),
		})
	}
	if cfg.Capture.SettleMS < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "capture.settleMs",
			Message: "must not be negative",
		})
	}

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}
	if cfg.Logging.ConsoleLevel != "" && !slices.Contains(validLogLevels, cfg.Logging.ConsoleLevel) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.consoleLevel",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.ConsoleLevel),
		})
	}

	validConsoleStyles := []string{"pretty", "compact", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.consoleStyle",
			Message: fmt.Sprintf("must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle),
		})
	}

	return issues
}
