package coach

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/fermata-app/fermata/internal/model"
)

// Tool names the coach may invoke.
const (
	ToolOpenFixModal      = "open_fix_modal"
	ToolSeekVideo         = "seek_video"
	ToolSwitchTab         = "switch_tab"
	ToolHighlightFeedback = "highlight_feedback"
	ToolOpenRecorder      = "open_recorder"
	ToolStartCountdown    = "start_countdown"
	ToolShowOriginal      = "show_original"
)

// Spec describes one tool: its name, the description handed to the model,
// and the JSON Schema its arguments must satisfy.
type Spec struct {
	Name        string
	Description string
	Schema      string
}

var toolSpecs = []Spec{
	{
		Name:        ToolOpenFixModal,
		Description: "Opens the fix flow for one feedback item. Use this when the user is ready to work on a specific issue.",
		Schema: `{
			"type": "object",
			"properties": {
				"index": {"type": "integer", "minimum": 0, "description": "Zero-based feedback item index"}
			},
			"required": ["index"]
		}`,
	},
	{
		Name:        ToolSeekVideo,
		Description: "Jumps the video player to a specific timestamp. Use this when discussing a specific moment.",
		Schema: `{
			"type": "object",
			"properties": {
				"timestamp_seconds": {"type": "number", "minimum": 0, "description": "The timestamp in seconds to seek to"},
				"video": {"type": "string", "description": "Which take to seek in; defaults to the displayed one"}
			},
			"required": ["timestamp_seconds"]
		}`,
	},
	{
		Name:        ToolSwitchTab,
		Description: "Changes which take is displayed (original, practice, final, compare).",
		Schema: `{
			"type": "object",
			"properties": {
				"tab": {"type": "string", "minLength": 1, "description": "The tab to display"}
			},
			"required": ["tab"]
		}`,
	},
	{
		Name:        ToolHighlightFeedback,
		Description: "Points at one feedback item in the list, or clears the highlight with null.",
		Schema: `{
			"type": "object",
			"properties": {
				"index": {"type": ["integer", "null"], "minimum": 0, "description": "Zero-based feedback item index, or null to clear"}
			},
			"required": ["index"]
		}`,
	},
	{
		Name:        ToolOpenRecorder,
		Description: "Opens the recording modal so the user can record a new take. Use this when the user is ready to practice.",
		Schema: `{
			"type": "object",
			"properties": {
				"focus_hint": {"type": "string", "description": "A short hint about what to focus on, e.g., 'Keep tempo steady on the chorus'"},
				"kind": {"type": "string", "enum": ["practice", "final"], "description": "What the recording is for"}
			}
		}`,
	},
	{
		Name:        ToolStartCountdown,
		Description: "Starts a 3-2-1 countdown before recording. Use this right before recording starts.",
		Schema: `{
			"type": "object",
			"properties": {
				"seconds": {"type": "integer", "minimum": 1, "description": "Countdown duration (default: 3)"}
			}
		}`,
	},
	{
		Name:        ToolShowOriginal,
		Description: "Forces the view back to the original take.",
		Schema:      `{"type": "object", "properties": {}}`,
	},
}

var toolSpecIndex = func() map[string]Spec {
	idx := make(map[string]Spec, len(toolSpecs))
	for _, s := range toolSpecs {
		idx[s.Name] = s
	}
	return idx
}()

// AllSpecs returns the tool vocabulary in declaration order.
func AllSpecs() []Spec {
	out := make([]Spec, len(toolSpecs))
	copy(out, toolSpecs)
	return out
}

// SpecFor looks up one tool's spec.
func SpecFor(name string) (Spec, bool) {
	s, ok := toolSpecIndex[name]
	return s, ok
}

// ModelTools converts the vocabulary into producer tool definitions.
func ModelTools() []model.Tool {
	out := make([]model.Tool, 0, len(toolSpecs))
	for _, s := range toolSpecs {
		var schema map[string]any
		if err := json.Unmarshal([]byte(s.Schema), &schema); err != nil {
			continue
		}
		out = append(out, model.Tool{
			Name:        s.Name,
			Description: s.Description,
			InputSchema: schema,
		})
	}
	return out
}

// ValidationError reports schema violations in a tool call's arguments.
type ValidationError struct {
	Tool   string
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Issues, "; "))
}

// ValidateArgs checks a call's arguments against the tool's schema.
func ValidateArgs(name string, args map[string]any) error {
	spec, ok := toolSpecIndex[name]
	if !ok {
		return fmt.Errorf("unknown tool %q", name)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(spec.Schema),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		issues := make([]string, 0, len(result.Errors()))
		for _, issue := range result.Errors() {
			issues = append(issues, issue.String())
		}
		return &ValidationError{Tool: name, Issues: issues}
	}
	return nil
}

// Call is the decoded form of one tool invocation. Known tools decode to
// typed variants; anything else becomes UnknownTool.
type Call interface {
	Tool() string
}

type OpenFixModal struct {
	Index int
}

func (OpenFixModal) Tool() string { return ToolOpenFixModal }

type SeekVideo struct {
	TimestampSeconds float64
	Video            string
}

func (SeekVideo) Tool() string { return ToolSeekVideo }

type SwitchTab struct {
	Tab string
}

func (SwitchTab) Tool() string { return ToolSwitchTab }

// HighlightFeedback points at one feedback item; a nil index clears the
// highlight.
type HighlightFeedback struct {
	Index *int
}

func (HighlightFeedback) Tool() string { return ToolHighlightFeedback }

type OpenRecorder struct {
	FocusHint string
	Kind      string
}

func (OpenRecorder) Tool() string { return ToolOpenRecorder }

type StartCountdown struct {
	Seconds int
}

func (StartCountdown) Tool() string { return ToolStartCountdown }

type ShowOriginal struct{}

func (ShowOriginal) Tool() string { return ToolShowOriginal }

// UnknownTool carries a call naming no known tool.
type UnknownTool struct {
	Name string
	Args map[string]any
}

func (u UnknownTool) Tool() string { return u.Name }

// DecodeCall maps a named argument map onto the tool union. Arguments are
// read tolerantly: JSON numbers arrive as float64 regardless of schema type.
func DecodeCall(name string, args map[string]any) Call {
	switch name {
	case ToolOpenFixModal:
		idx, _ := intArg(args, "index")
		return OpenFixModal{Index: idx}
	case ToolSeekVideo:
		ts, _ := numArg(args, "timestamp_seconds")
		video, _ := strArg(args, "video")
		return SeekVideo{TimestampSeconds: ts, Video: video}
	case ToolSwitchTab:
		tab, _ := strArg(args, "tab")
		return SwitchTab{Tab: tab}
	case ToolHighlightFeedback:
		if raw, ok := args["index"]; !ok || raw == nil {
			return HighlightFeedback{}
		}
		idx, _ := intArg(args, "index")
		return HighlightFeedback{Index: &idx}
	case ToolOpenRecorder:
		hint, _ := strArg(args, "focus_hint")
		kind, _ := strArg(args, "kind")
		return OpenRecorder{FocusHint: hint, Kind: kind}
	case ToolStartCountdown:
		secs, ok := intArg(args, "seconds")
		if !ok || secs <= 0 {
			secs = 3
		}
		return StartCountdown{Seconds: secs}
	case ToolShowOriginal:
		return ShowOriginal{}
	default:
		return UnknownTool{Name: name, Args: args}
	}
}

func numArg(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func intArg(args map[string]any, key string) (int, bool) {
	f, ok := numArg(args, key)
	return int(f), ok
}

func strArg(args map[string]any, key string) (string, bool) {
	s, ok := args[key].(string)
	return s, ok
}
