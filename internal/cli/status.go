package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fermata-app/fermata/internal/config"
	"github.com/fermata-app/fermata/internal/model"
	"github.com/fermata-app/fermata/internal/version"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show Fermata status and configuration summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("%s\n\n", version.Info())

			fmt.Printf("Config:   %s\n", paths.Config)
			fmt.Printf("Data:     %s\n", paths.Data)
			fmt.Printf("Logs:     %s\n", paths.Logs)
			fmt.Println()

			cfg, err := loadClientConfig()
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("Config:   not found (using defaults)")
					return nil
				}
				fmt.Printf("Config:   error loading: %v\n", err)
				return nil
			}

			auth := "off"
			if cfg.Server.Auth.Token != "" || cfg.Server.Auth.Users != "" {
				auth = "on"
			}
			fmt.Printf("Server:   port=%d bind=%s auth=%s\n", cfg.Server.Port, cfg.Server.Bind, auth)
			fmt.Printf("Store:    backend=%s\n", cfg.Store.Backend)

			registry, err := model.NewRegistryFromConfig(cfg.Producer, log)
			if err != nil {
				fmt.Printf("Producer: %v\n", err)
			} else {
				fmt.Printf("Producer: active=%s available=%s\n",
					cfg.Producer.Backend, strings.Join(registry.List(), ", "))
			}

			token := "absent"
			if cfg.Client.Token != "" {
				token = "present"
			}
			fmt.Printf("Client:   server=%s token=%s\n", cfg.Client.ServerURL, token)

			greeting := "on"
			if !cfg.Coach.GreetingEnabled() {
				greeting = "off"
			}
			fmt.Printf("Coach:    greeting=%s reconnect=%dms x %d\n",
				greeting, cfg.Coach.ReconnectBaseMS, cfg.Coach.ReconnectMaxAttempts)

			captureDir := cfg.Capture.Dir
			if captureDir == "" {
				captureDir = paths.Recordings
			}
			fmt.Printf("Capture:  dir=%s role=%s\n", captureDir, cfg.Capture.Role)

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Printf("\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	return cmd
}
