package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8790,
			Bind: "loopback",
			Upload: UploadConfig{
				UploadTTLMinutes:   15,
				DownloadTTLMinutes: 60,
				MaxUploadMB:        512,
			},
		},
		Client: ClientConfig{
			ServerURL: "http://localhost:8790",
		},
		Producer: ProducerConfig{
			Backend:   "scripted",
			MaxTokens: 4096,
		},
		Coach: CoachConfig{
			ReconnectBaseMS:      2000,
			ReconnectMaxAttempts: 5,
		},
		Store: StoreConfig{
			Backend: "sqlite",
		},
		Capture: CaptureConfig{
			Role:       "practice",
			SettleMS:   750,
			Extensions: []string{".webm", ".mp4", ".mov"},
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleLevel: "info",
			ConsoleStyle: "pretty",
		},
	}
}

// GreetingEnabled reports whether the coach should send its kickoff turn.
func (c CoachConfig) GreetingEnabled() bool {
	if c.Greeting == nil {
		return true
	}
	return *c.Greeting
}
