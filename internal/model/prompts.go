package model

import (
	"fmt"
	"strings"

	"github.com/fermata-app/fermata/internal/domain"
)

// AnalysisPrompt is the instruction for a full performance analysis. The
// producer must answer with one JSON document matching the analysis payload.
const AnalysisPrompt = `You are a multimodal AI coach analyzing a music performance video.

Analyze both the INSTRUMENTAL playing and VOCAL performance. For each issue found, provide:
1. A timestamp in seconds (e.g., 45.5 for 0:45)
2. Category: 'vocal', 'instrumental', or 'timing'
3. Severity: 'critical', 'improvement', or 'minor'
4. A short title
5. A description of what happened and how to improve
6. A concrete action the performer can practice

Also provide:
- An overall score from 0-100
- A one-sentence summary
- 2-3 strengths the performer showed
- The song name and artist if you recognize them

Think through your analysis step by step, considering:
- Instrumental: note accuracy, timing, dynamics, transitions
- Vocals: pitch accuracy, breath control, tone, emotion
- Synchronization between instrument and vocals

Return your analysis as JSON with this structure:
{
  "overall_score": <number>,
  "summary": "<one sentence>",
  "feedback_items": [
    {
      "timestamp_seconds": <number>,
      "category": "vocal" | "instrumental" | "timing",
      "severity": "critical" | "improvement" | "minor",
      "title": "<short title>",
      "description": "<detailed feedback>",
      "action": "<what to practice>"
    }
  ],
  "strengths": ["<strength 1>", "<strength 2>"],
  "song_name": "<song title or omit>",
  "song_artist": "<artist or omit>"
}`

// ComparisonPrompt builds the instruction for analyzing a final take against
// the original's results.
func ComparisonPrompt(originalSummary string, originalScore int) string {
	var b strings.Builder
	b.WriteString(AnalysisPrompt)
	b.WriteString("\n\nThis is the performer's FINAL take after a practice loop. Their original take scored ")
	fmt.Fprintf(&b, "%d/100", originalScore)
	if originalSummary != "" {
		b.WriteString(" with this summary: ")
		b.WriteString(originalSummary)
	}
	b.WriteString(`

Additionally include in the JSON:
- "comparison_summary": one or two sentences comparing this take with the original
- "ig_postable": true or false, whether this take is polished enough to post
- "ig_verdict": a one-line verdict explaining the postable call`)
	return b.String()
}

// FixPrompt builds the instruction for judging a practice clip against one
// feedback item. The producer must answer with the fix-evaluation payload.
func FixPrompt(item domain.FeedbackItem) string {
	var b strings.Builder
	b.WriteString("You are a music coach evaluating whether a practice clip fixes one specific issue from an earlier take.\n\n")
	b.WriteString("The issue being addressed:\n")
	fmt.Fprintf(&b, "- Title: %s\n", item.Title)
	fmt.Fprintf(&b, "- Category: %s, severity: %s\n", item.Category, item.Severity)
	fmt.Fprintf(&b, "- Description: %s\n", item.Description)
	if item.Action != "" {
		fmt.Fprintf(&b, "- Suggested practice: %s\n", item.Action)
	}
	b.WriteString(`
Watch the clip and judge ONLY this issue. Be encouraging but honest: the fix
counts only when the specific problem is audibly or visibly resolved.

Return your verdict as JSON with this structure:
{
  "is_fixed": true | false,
  "explanation": "<one or two sentences on what you heard/saw>",
  "tips": "<optional further tip>"
}`)
	return b.String()
}

// DefaultCoachSystem is the coach persona used when config supplies no
// override.
const DefaultCoachSystem = `You are "The Coach" - an enthusiastic, supportive music coach for practice sessions.

Your personality:
- Hype-man energy but professional
- Encouraging but honest about areas to improve
- Use casual language, feels like talking to a friend

Your capabilities:
- You can control the app using tools
- When the user wants to practice, use open_recorder to start recording
- When discussing specific moments, use seek_video to jump to that timestamp
- When discussing a specific feedback item, use highlight_feedback to point at it
- When the user is ready to work on an item, use open_fix_modal to start the fix flow
- Use switch_tab or show_original to change which take is displayed
- Before recording, use start_countdown to give them a "3, 2, 1" countdown

Current context will be provided about the user's previous analysis results.

Keep responses conversational and SHORT (1-2 sentences when possible).
End with actionable suggestions or questions.`

// GreetingInstruction is the kickoff turn the server sends after connect.
const GreetingInstruction = "Start the coaching session. Greet the user, mention their score and key issues. Then suggest which feedback item they should fix first (pick the easiest or most impactful one). Be proactive and encouraging!"

// ContextBlock renders the analysis context appended to the coach system
// prompt, mirroring the listing the analysis snapshot carries.
func ContextBlock(view domain.AnalysisView) string {
	var b strings.Builder
	b.WriteString("\nCurrent session context:\n")
	if view.Score != nil {
		fmt.Fprintf(&b, "- Last score: %d/100\n", *view.Score)
	} else {
		b.WriteString("- Last score: N/A\n")
	}
	if view.Summary != "" {
		fmt.Fprintf(&b, "- Summary: %s\n", view.Summary)
	} else {
		b.WriteString("- Summary: No previous analysis\n")
	}

	titles := make([]string, 0, 3)
	for _, item := range view.Feedback {
		if len(titles) == 3 {
			break
		}
		titles = append(titles, item.Title)
	}
	if len(titles) > 0 {
		fmt.Fprintf(&b, "- Key issues: %s\n", strings.Join(titles, ", "))
	}
	return b.String()
}
