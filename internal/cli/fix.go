package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fermata-app/fermata/internal/ingest"
	"github.com/fermata-app/fermata/internal/orchestrator"
)

func newFixCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "fix <index> <clip-file>",
		Short: "Judge a fix clip against one feedback item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("index must be a number, got %q", args[0])
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

			id, err := activateSession(ctx, orch, sessionID, false)
			if err != nil {
				return err
			}
			if id != "" {
				fmt.Printf("Session %s\n", id)
			}

			target, err := orch.EvaluateFix(ctx, args[1], index)
			if err != nil {
				return err
			}
			out, err := waitOutcome(ctx, outcomes, target)
			if err != nil {
				return err
			}
			printOutcome(out)
			if out.Err != "" {
				return fmt.Errorf("fix evaluation failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: most recent)")
	return cmd
}
