package config

// Config is the root configuration for Fermata.
type Config struct {
	Server   ServerConfig   `yaml:"server,omitempty"`
	Client   ClientConfig   `yaml:"client,omitempty"`
	Producer ProducerConfig `yaml:"producer,omitempty"`
	Coach    CoachConfig    `yaml:"coach,omitempty"`
	Store    StoreConfig    `yaml:"store,omitempty"`
	Capture  CaptureConfig  `yaml:"capture,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty"`
}

// ServerConfig controls the HTTP/WebSocket serving side.
type ServerConfig struct {
	Port           int          `yaml:"port,omitempty"`
	Bind           string       `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string       `yaml:"customBindHost,omitempty"`
	BaseURL        string       `yaml:"baseUrl,omitempty"` // public URL for signed links; defaults to http://localhost:<port>
	AllowedOrigins []string     `yaml:"allowedOrigins,omitempty"`
	Auth           ServerAuth   `yaml:"auth,omitempty"`
	Upload         UploadConfig `yaml:"upload,omitempty"`
}

// ServerAuth configures the serving side's token auth.
type ServerAuth struct {
	Token string `yaml:"token,omitempty"` // bearer token; supports ${VAR}
	Users string `yaml:"users,omitempty"` // login credentials, "user1:pass1,user2:pass2"
}

// UploadConfig controls the blob store behind the signed-URL exchange.
type UploadConfig struct {
	Dir                string `yaml:"dir,omitempty"`        // blob directory; defaults under the data dir
	SigningKey         string `yaml:"signingKey,omitempty"` // HMAC key for signed URLs; supports ${VAR}
	UploadTTLMinutes   int    `yaml:"uploadTtlMinutes,omitempty"`
	DownloadTTLMinutes int    `yaml:"downloadTtlMinutes,omitempty"`
	MaxUploadMB        int    `yaml:"maxUploadMb,omitempty"`
}

// ClientConfig configures the client commands talking to a Fermata server.
type ClientConfig struct {
	ServerURL string `yaml:"serverUrl,omitempty"`
	Token     string `yaml:"token,omitempty"` // supports ${VAR}; the login command persists one under credentials/
}

// ProducerConfig selects and configures the analysis/coach model backend.
type ProducerConfig struct {
	Backend     string   `yaml:"backend,omitempty"` // "gemini" | "anthropic" | "scripted"
	APIKey      string   `yaml:"apiKey,omitempty"`  // supports ${VAR}
	Model       string   `yaml:"model,omitempty"`
	BaseURL     string   `yaml:"baseUrl,omitempty"` // Gemini endpoint override
	MaxTokens   int      `yaml:"maxTokens,omitempty"`
	Temperature *float32 `yaml:"temperature,omitempty"`
}

// CoachConfig controls the tool-call channel on both ends.
type CoachConfig struct {
	ReconnectBaseMS      int    `yaml:"reconnectBaseMs,omitempty"`      // linear backoff base delay
	ReconnectMaxAttempts int    `yaml:"reconnectMaxAttempts,omitempty"` // attempts before terminal disconnect
	Greeting             *bool  `yaml:"greeting,omitempty"`             // server sends a kickoff turn after connect; default true
	SystemPrompt         string `yaml:"systemPrompt,omitempty"`         // override the coach persona
}

// StoreConfig selects the session persistence backend.
type StoreConfig struct {
	Backend string `yaml:"backend,omitempty"` // "sqlite" | "postgres" | "memory"
	Path    string `yaml:"path,omitempty"`    // sqlite file override
	DSN     string `yaml:"dsn,omitempty"`     // postgres connection string; supports ${VAR}
}

// CaptureConfig controls the recordings watcher.
type CaptureConfig struct {
	Dir        string   `yaml:"dir,omitempty"`  // watched directory; defaults under the base dir
	Role       string   `yaml:"role,omitempty"` // default video role for new files: "practice" | "original" | "final"
	SettleMS   int      `yaml:"settleMs,omitempty"`
	Extensions []string `yaml:"extensions,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleLevel string `yaml:"consoleLevel,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}
