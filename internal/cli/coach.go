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

	"github.com/fermata-app/fermata/internal/coach"
	"github.com/fermata-app/fermata/internal/orchestrator"
)

func newCoachCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "coach",
		Short: "Chat with the coach about the active session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			handlers := orchestrator.Handlers{
				OnProgress: progressPrinter(),
				OnCoachText: func(chunk string) {
					fmt.Print(chunk)
				},
				OnCoachTurn: func(string) {
					fmt.Println()
				},
				OnCoachError: func(msg string) {
					fmt.Fprintf(os.Stderr, "coach error: %s\n", msg)
				},
				OnCoachState: func(s coach.State) {
					switch s {
					case coach.StateConnecting:
						fmt.Fprintln(os.Stderr, "[connecting...]")
					case coach.StateTerminal:
						fmt.Fprintln(os.Stderr, "[connection lost; reconnects exhausted]")
					}
				},
			}
			orch := buildOrchestrator(cfg, handlers, orchestrator.WithAutoOpenCoach(false))
			defer orch.Close()

			id, err := activateSession(ctx, orch, sessionID, false)
			if err != nil {
				return err
			}
			if id == "" {
				fmt.Println("No persisted session; the coach will start without history.")
			} else {
				fmt.Printf("Session %s\n", id)
			}

			if err := orch.ConnectCoach(ctx); err != nil {
				return fmt.Errorf("connecting coach: %w", err)
			}
			fmt.Println(`Connected. Type a message; "/ui" shows display state, "/quit" exits.`)

			lines := make(chan string)
			go func() {
				defer close(lines)
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					lines <- scanner.Text()
				}
			}()

			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					line = strings.TrimSpace(line)
					switch {
					case line == "":
					case line == "/quit", line == "/exit":
						return nil
					case line == "/ui":
						printUIState(orch.UI().Snapshot())
					case line == "/status":
						st := orch.CoachStatus()
						fmt.Printf("coach %s (session %s)\n", st.State, st.SessionID)
					default:
						if err := orch.SendChat(line); err != nil {
							fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
						}
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: most recent)")
	return cmd
}

// printUIState renders the advisory state the coach's tools have steered.
func printUIState(s orchestrator.UISnapshot) {
	line := "tab=" + s.Tab
	if s.Playback.Video != "" || s.Playback.Position > 0 {
		line += fmt.Sprintf(" playback=%s@%.1fs", s.Playback.Video, s.Playback.Position)
	}
	if s.Recorder.Open {
		line += " recorder=" + s.Recorder.Kind
		if s.Recorder.FocusHint != "" {
			line += fmt.Sprintf(" focus=%q", s.Recorder.FocusHint)
		}
	}
	if s.Countdown.Seconds > 0 {
		line += fmt.Sprintf(" countdown=%ds", s.Countdown.Seconds)
	}
	if s.FixModal.Open {
		line += fmt.Sprintf(" fix-modal=%d", s.FixModal.Index)
	}
	fmt.Println(line)
}
