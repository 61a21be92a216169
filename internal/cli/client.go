package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fermata-app/fermata/internal/api"
	"github.com/fermata-app/fermata/internal/config"
	"github.com/fermata-app/fermata/internal/domain"
	"github.com/fermata-app/fermata/internal/ingest"
	"github.com/fermata-app/fermata/internal/orchestrator"
	"github.com/fermata-app/fermata/internal/session"
)

// loadClientConfig loads the config and resolves the client token: the
// config value wins, else the token the login command persisted.
func loadClientConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if cfg.Client.Token == "" {
		if data, err := os.ReadFile(paths.TokenFile()); err == nil {
			cfg.Client.Token = strings.TrimSpace(string(data))
		}
	}
	return cfg, nil
}

func newAPIClient(cfg config.Config) *api.Client {
	return api.NewClient(cfg.Client.ServerURL, cfg.Client.Token, log)
}

// buildOrchestrator assembles the client-side stack for one command: API
// client, session model, ingestion tracker, and the orchestrator over them.
func buildOrchestrator(cfg config.Config, handlers orchestrator.Handlers, opts ...orchestrator.Option) *orchestrator.Orchestrator {
	client := newAPIClient(cfg)
	sess := session.NewModel(log)
	streamer := ingest.NewClient(cfg.Client.ServerURL, cfg.Client.Token, log)
	tracker := ingest.NewTracker(streamer, sess, log)
	return orchestrator.New(cfg, client, sess, tracker, handlers, log, opts...)
}

// activateSession picks the session a command works against: an explicit id,
// a fresh one, or the most recent persisted session.
func activateSession(ctx context.Context, orch *orchestrator.Orchestrator, sessionID string, fresh bool) (string, error) {
	switch {
	case sessionID != "":
		if err := orch.SwitchSession(ctx, sessionID); err != nil {
			return "", err
		}
		return sessionID, nil
	case fresh:
		return orch.NewSession(ctx)
	default:
		return orch.Bootstrap(ctx), nil
	}
}

// runTake uploads one local take and starts its analysis. Practice takes
// append a clip; original and final takes fill their slot.
func runTake(ctx context.Context, orch *orchestrator.Orchestrator, path string, role domain.VideoRole) (ingest.Target, error) {
	if role == domain.RolePractice {
		return orch.CaptureClip(ctx, path, "")
	}
	signed, err := orch.UploadVideo(ctx, path, role)
	if err != nil {
		return ingest.Target{}, err
	}
	return orch.AnalyzeVideo(ctx, signed.Filename, role, 0)
}

// progressPrinter renders ingestion status lines to stderr, deduplicated so
// each stage prints once.
func progressPrinter() func(ingest.Progress) {
	var last string
	return func(p ingest.Progress) {
		if p.Status != "" && p.Status != last {
			fmt.Fprintf(os.Stderr, "  %s\n", p.Status)
			last = p.Status
		}
	}
}

// waitOutcome blocks until the target's terminal outcome arrives.
func waitOutcome(ctx context.Context, outcomes <-chan ingest.Outcome, target ingest.Target) (ingest.Outcome, error) {
	for {
		select {
		case out := <-outcomes:
			if out.Target != target {
				continue
			}
			return out, nil
		case <-ctx.Done():
			return ingest.Outcome{}, ctx.Err()
		}
	}
}

// printAnalysis renders a completed analysis result.
func printAnalysis(res *domain.AnalysisResult) {
	fmt.Printf("\nScore: %d/100\n", res.OverallScore)
	if res.SongName != "" {
		if res.SongArtist != "" {
			fmt.Printf("Song:  %s — %s\n", res.SongName, res.SongArtist)
		} else {
			fmt.Printf("Song:  %s\n", res.SongName)
		}
	}
	if res.Summary != "" {
		fmt.Printf("\n%s\n", res.Summary)
	}
	if len(res.Strengths) > 0 {
		fmt.Println("\nStrengths:")
		for _, s := range res.Strengths {
			fmt.Printf("  + %s\n", s)
		}
	}
	if len(res.FeedbackItems) > 0 {
		fmt.Println("\nFeedback:")
		for i, item := range res.FeedbackItems {
			fmt.Printf("  [%d] %-11s %-10s %s\n", i, item.Severity, item.Category, item.Title)
			if item.Description != "" {
				fmt.Printf("      %s\n", item.Description)
			}
		}
	}
	if res.ComparisonSummary != "" {
		fmt.Printf("\nComparison: %s\n", res.ComparisonSummary)
	}
	if res.IGPostable != nil {
		verdict := "not ready to post"
		if *res.IGPostable {
			verdict = "ready to post"
		}
		if res.IGVerdict != "" {
			fmt.Printf("Verdict: %s — %s\n", verdict, res.IGVerdict)
		} else {
			fmt.Printf("Verdict: %s\n", verdict)
		}
	}
}

// printOutcome renders any terminal outcome, including failures.
func printOutcome(out ingest.Outcome) {
	switch {
	case out.Stale:
		fmt.Fprintf(os.Stderr, "%s discarded: session changed mid-flight\n", out.Target)
	case out.Superseded:
		fmt.Fprintf(os.Stderr, "%s superseded by a newer request\n", out.Target)
	case out.Err != "":
		fmt.Fprintf(os.Stderr, "%s failed: %s\n", out.Target, out.Err)
	case out.Analysis != nil:
		printAnalysis(out.Analysis)
	case out.Fix != nil:
		if out.Fixed {
			fmt.Println("\nFixed.")
		} else {
			fmt.Println("\nNot fixed yet.")
		}
		if out.Fix.Explanation != "" {
			fmt.Println(out.Fix.Explanation)
		}
		if out.Fix.Tips != "" {
			fmt.Printf("Tips: %s\n", out.Fix.Tips)
		}
	}
}
