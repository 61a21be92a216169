package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fermata-app/fermata/internal/api"
	"github.com/fermata-app/fermata/internal/config"
)

func newLoginCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Log in to a Fermata server and store the bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			if serverURL == "" {
				serverURL = cfg.Client.ServerURL
			}

			fmt.Fprint(cmd.OutOrStdout(), "Password: ")
			reader := bufio.NewReader(cmd.InOrStdin())
			password, err := reader.ReadString('\n')
			if err != nil {
				return err
			}
			password = strings.TrimRight(password, "\r\n")

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client := api.NewClient(serverURL, "", log)
			token, err := client.Login(ctx, args[0], password)
			if err != nil {
				return err
			}

			if err := paths.EnsureDirs(); err != nil {
				return err
			}
			if err := os.WriteFile(paths.TokenFile(), []byte(token+"\n"), 0o600); err != nil {
				return fmt.Errorf("storing token: %w", err)
			}

			fmt.Printf("Logged in to %s\nToken stored in %s\n", serverURL, paths.TokenFile())
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "server URL (default from config)")
	return cmd
}
