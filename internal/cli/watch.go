package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fermata-app/fermata/internal/capture"
	"github.com/fermata-app/fermata/internal/domain"
	"github.com/fermata-app/fermata/internal/orchestrator"
)

func newWatchCmd() *cobra.Command {
	var (
		dir       string
		role      string
		sessionID string
		fresh     bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the recordings directory and analyze new takes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig()
			if err != nil {
				return err
			}
			if dir != "" {
				cfg.Capture.Dir = dir
			}
			if cfg.Capture.Dir == "" {
				cfg.Capture.Dir = paths.Recordings
			}
			if role != "" {
				if !domain.VideoRole(role).Valid() {
					return fmt.Errorf("unknown role %q (original, practice, final)", role)
				}
				cfg.Capture.Role = role
			}
			if err := paths.EnsureDirs(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			handlers := orchestrator.Handlers{
				OnProgress: progressPrinter(),
				OnOutcome:  printOutcome,
			}
			orch := buildOrchestrator(cfg, handlers, orchestrator.WithAutoOpenCoach(false))
			defer orch.Close()

			id, err := activateSession(ctx, orch, sessionID, fresh)
			if err != nil {
				return err
			}
			if id != "" {
				fmt.Printf("Session %s\n", id)
			}

			watcher, err := capture.NewWatcher(cfg.Capture, log)
			if err != nil {
				return err
			}
			watcher.OnRecording(func(rec capture.Recording) {
				fmt.Printf("New recording: %s (%s, %d bytes)\n", rec.Path, rec.Role, rec.Size)
				if _, err := runTake(ctx, orch, rec.Path, rec.Role); err != nil {
					fmt.Fprintf(os.Stderr, "analysis start failed: %v\n", err)
				}
			})
			if err := watcher.Start(); err != nil {
				return err
			}
			defer watcher.Stop()

			fmt.Printf("Watching %s (role=%s). Ctrl-C to stop.\n", cfg.Capture.Dir, cfg.Capture.Role)
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "directory to watch (default ~/.fermata/recordings)")
	cmd.Flags().StringVar(&role, "role", "", "role for new recordings (default from config)")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: most recent)")
	cmd.Flags().BoolVar(&fresh, "new", false, "start a fresh session first")

	return cmd
}
