package version

import (
	"fmt"
	"runtime"
)

// Set via ldflags at build time:
//
//	go build -ldflags "-X github.com/fermata-app/fermata/internal/version.Version=1.0.0
//	  -X github.com/fermata-app/fermata/internal/version.Commit=abc123
//	  -X github.com/fermata-app/fermata/internal/version.Date=2026-01-01"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns a formatted version string.
func Info() string {
	return fmt.Sprintf("fermata %s (commit: %s, built: %s, %s/%s)",
		Version, short(Commit), Date, runtime.GOOS, runtime.GOARCH)
}

// UserAgent returns the User-Agent value sent by HTTP clients.
func UserAgent() string {
	return "fermata/" + Version
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
