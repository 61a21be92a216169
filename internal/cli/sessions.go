package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fermata-app/fermata/internal/domain"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage coaching sessions",
	}

	cmd.AddCommand(newSessionsNewCmd())
	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsShowCmd())
	cmd.AddCommand(newSessionsSearchCmd())
	cmd.AddCommand(newSessionsDeleteCmd())
	return cmd
}

func newSessionsNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Create a session and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			id, err := newAPIClient(cfg).CreateSession(ctx)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			summaries, err := newAPIClient(cfg).ListSessions(ctx)
			if err != nil {
				return err
			}
			printSummaries(summaries)
			return nil
		},
	}
}

func newSessionsSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search sessions by feedback text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			summaries, err := newAPIClient(cfg).SearchSessions(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			printSummaries(summaries)
			return nil
		},
	}
}

func newSessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a session's takes and feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sess, err := newAPIClient(cfg).GetSession(ctx, args[0])
			if err != nil {
				return err
			}
			printSession(sess)
			return nil
		},
	}
}

func newSessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := newAPIClient(cfg).DeleteSession(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		},
	}
}

func printSummaries(summaries []domain.SessionSummary) {
	if len(summaries) == 0 {
		fmt.Println("No sessions.")
		return
	}
	for _, s := range summaries {
		line := fmt.Sprintf("  %-38s original=%-4s final=%-4s clips=%d",
			s.SessionID, scoreOrDash(s.OriginalScore), scoreOrDash(s.FinalScore), s.PracticeClipCount)
		if s.Improvement != nil {
			line += fmt.Sprintf(" improvement=%+d", *s.Improvement)
		}
		if !s.UpdatedAt.IsZero() {
			line += "  " + s.UpdatedAt.Format("2006-01-02 15:04")
		}
		fmt.Println(line)
	}
}

func printSession(sess *domain.Session) {
	fmt.Printf("Session %s\n", sess.ID)
	if !sess.CreatedAt.IsZero() {
		fmt.Printf("Created %s\n", sess.CreatedAt.Format("2006-01-02 15:04"))
	}

	printSlot("Original", sess.Original)
	for i := range sess.PracticeClips {
		clip := &sess.PracticeClips[i]
		fmt.Printf("\nPractice clip %d: score=%s", clip.ClipNumber, scoreOrDash(clip.Score))
		if clip.FocusHint != "" {
			fmt.Printf(" focus=%q", clip.FocusHint)
		}
		fmt.Println()
		if clip.Summary != "" {
			fmt.Printf("  %s\n", clip.Summary)
		}
	}
	printSlot("Final", sess.Final)

	if imp := sess.Improvement(); imp != nil {
		fmt.Printf("\nImprovement: %+d\n", *imp)
	}
	if total := sess.FeedbackTotal(); total > 0 {
		fmt.Printf("Feedback addressed: %d/%d\n", sess.FeedbackAddressed(), total)
	}
}

func printSlot(label string, slot *domain.VideoSlot) {
	if slot == nil {
		return
	}
	fmt.Printf("\n%s: score=%s", label, scoreOrDash(slot.Score))
	if slot.SongName != "" {
		fmt.Printf(" song=%q", slot.SongName)
	}
	fmt.Println()
	if slot.Summary != "" {
		fmt.Printf("  %s\n", slot.Summary)
	}
	for i, item := range slot.Feedback {
		status := string(item.FixStatus)
		if status == "" {
			status = string(domain.FixUnfixed)
		}
		fmt.Printf("  [%d] %-11s %-10s %-9s %s\n", i, item.Severity, item.Category, status, item.Title)
	}
	if slot.ComparisonSummary != "" {
		fmt.Printf("  Comparison: %s\n", slot.ComparisonSummary)
	}
}

func scoreOrDash(score *int) string {
	if score == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *score)
}
