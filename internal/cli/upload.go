package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fermata-app/fermata/internal/domain"
	"github.com/fermata-app/fermata/internal/ingest"
	"github.com/fermata-app/fermata/internal/orchestrator"
)

func newUploadCmd() *cobra.Command {
	var (
		role      string
		sessionID string
		fresh     bool
		noAnalyze bool
	)

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a take and stream its analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			videoRole := domain.VideoRole(role)
			if !videoRole.Valid() {
				return fmt.Errorf("unknown role %q (original, practice, final)", role)
			}

			cfg, err := loadClientConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			outcomes := make(chan ingest.Outcome, 4)
			handlers := orchestrator.Handlers{
				OnProgress: progressPrinter(),
				OnOutcome:  func(out ingest.Outcome) { outcomes <- out },
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

			if noAnalyze {
				signed, err := orch.UploadVideo(ctx, args[0], videoRole)
				if err != nil {
					return err
				}
				fmt.Printf("Uploaded %s as %s\n", args[0], signed.Filename)
				return nil
			}

			target, err := runTake(ctx, orch, args[0], videoRole)
			if err != nil {
				return err
			}
			out, err := waitOutcome(ctx, outcomes, target)
			if err != nil {
				return err
			}
			printOutcome(out)
			if out.Err != "" {
				return fmt.Errorf("analysis failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", "original", "video role (original, practice, final)")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: most recent)")
	cmd.Flags().BoolVar(&fresh, "new", false, "start a fresh session first")
	cmd.Flags().BoolVar(&noAnalyze, "no-analyze", false, "upload only, skip the analysis")

	return cmd
}
