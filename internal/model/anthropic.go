package model

import (
	"context"
	"encoding/json"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/fermata-app/fermata/internal/logging"
)

const defaultAnthropicModel = "claude-3-5-sonnet-latest"

// AnthropicOptions configures the Anthropic backend.
type AnthropicOptions struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature *float32
}

// Anthropic backs the coach channel with the Anthropic Messages API. It has
// no video ingestion, so analysis requests are rejected up front.
type Anthropic struct {
	client *anthropic.Client
	opts   AnthropicOptions
	log    *logging.Logger
}

// NewAnthropic creates an Anthropic backend.
func NewAnthropic(opts AnthropicOptions, log *logging.Logger) *Anthropic {
	if log == nil {
		log = logging.Nop()
	}
	if opts.Model == "" {
		opts.Model = defaultAnthropicModel
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 4096
	}
	return &Anthropic{
		client: anthropic.NewClient(opts.APIKey),
		opts:   opts,
		log:    log.Sub("model.anthropic"),
	}
}

// Name returns the backend name.
func (a *Anthropic) Name() string { return "anthropic" }

// AnalyzeVideo always fails: the Messages API cannot ingest video files.
func (a *Anthropic) AnalyzeVideo(ctx context.Context, req AnalysisRequest) (<-chan Event, error) {
	return nil, &ProviderError{Provider: "anthropic", Message: "video analysis requires the gemini backend"}
}

// CoachTurn streams one coaching turn through the Messages API, adapting the
// callback-based SDK stream to the event channel.
func (a *Anthropic) CoachTurn(ctx context.Context, req CoachRequest) (<-chan Event, error) {
	msgs, err := a.convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	ch := make(chan Event, 8)
	go func() {
		defer close(ch)

		emit := func(ev Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		maxTokens := a.opts.MaxTokens
		if req.MaxTokens > 0 {
			maxTokens = req.MaxTokens
		}
		temperature := a.opts.Temperature
		if req.Temperature != nil {
			temperature = req.Temperature
		}

		streamReq := anthropic.MessagesStreamRequest{
			MessagesRequest: anthropic.MessagesRequest{
				Model:       anthropic.Model(a.opts.Model),
				Messages:    msgs,
				MaxTokens:   maxTokens,
				Temperature: temperature,
			},
		}
		if req.System != "" {
			streamReq.MultiSystem = []anthropic.MessageSystemPart{{Type: "text", Text: req.System}}
		}
		if len(req.Tools) > 0 {
			defs := make([]anthropic.ToolDefinition, len(req.Tools))
			for i, t := range req.Tools {
				defs[i] = anthropic.ToolDefinition{
					Name:        t.Name,
					Description: t.Description,
					InputSchema: t.InputSchema,
				}
			}
			streamReq.Tools = defs
		}

		var streamFailed bool
		streamReq.OnError = func(errResp anthropic.ErrorResponse) {
			streamFailed = true
			msg := "anthropic stream error"
			if errResp.Error != nil {
				msg = errResp.Error.Message
			}
			emit(Event{Type: EventError, Err: &ProviderError{Provider: "anthropic", Message: msg}, Content: msg})
		}

		streamReq.OnContentBlockDelta = func(delta anthropic.MessagesEventContentBlockDeltaData) {
			if delta.Delta.Type == "text_delta" && delta.Delta.Text != nil {
				emit(Event{Type: EventDelta, Content: *delta.Delta.Text})
			}
		}

		streamReq.OnContentBlockStop = func(stop anthropic.MessagesEventContentBlockStopData, content anthropic.MessageContent) {
			if content.Type != "tool_use" || content.MessageContentToolUse == nil {
				return
			}
			tc := content.MessageContentToolUse
			args := make(map[string]any)
			if len(tc.Input) > 0 {
				if err := json.Unmarshal(tc.Input, &args); err != nil {
					args = make(map[string]any)
				}
			}
			emit(Event{Type: EventToolCall, ToolCall: &ToolCall{ID: tc.ID, Name: tc.Name, Args: args}})
		}

		if _, err := a.client.CreateMessagesStream(ctx, streamReq); err != nil && !streamFailed {
			perr := &ProviderError{Provider: "anthropic", Message: err.Error()}
			emit(Event{Type: EventError, Err: perr, Content: perr.Message})
		}
	}()
	return ch, nil
}

// convertMessages maps conversation history onto the Messages API shape.
// Tool results ride on user-role messages and must follow an assistant
// message that issued tool calls, so unmatched results are dropped.
func (a *Anthropic) convertMessages(messages []Message) ([]anthropic.Message, error) {
	var out []anthropic.Message
	var prevAssistantHadToolCalls bool

	for _, msg := range messages {
		switch msg.Role {
		case RoleUser:
			var content []anthropic.MessageContent
			if prevAssistantHadToolCalls {
				for _, tr := range msg.ToolResults {
					content = append(content, anthropic.NewToolResultMessageContent(tr.ID, toolResultJSON(tr.Result), false))
				}
			} else if len(msg.ToolResults) > 0 {
				a.log.Warn().Int("results", len(msg.ToolResults)).Msg("dropping tool results with no preceding tool call")
			}
			if msg.Content != "" {
				content = append(content, anthropic.NewTextMessageContent(msg.Content))
			}
			if len(content) == 0 {
				continue
			}
			out = append(out, anthropic.Message{Role: anthropic.RoleUser, Content: content})
			prevAssistantHadToolCalls = false

		case RoleAssistant:
			var content []anthropic.MessageContent
			if msg.Content != "" {
				content = append(content, anthropic.NewTextMessageContent(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Args)
				content = append(content, anthropic.NewToolUseMessageContent(tc.ID, tc.Name, json.RawMessage(argsJSON)))
			}
			if len(content) == 0 {
				continue
			}
			out = append(out, anthropic.Message{Role: anthropic.RoleAssistant, Content: content})
			prevAssistantHadToolCalls = len(msg.ToolCalls) > 0

		default:
			return nil, &ProviderError{Provider: "anthropic", Message: "unknown message role " + msg.Role}
		}
	}
	return out, nil
}

// toolResultJSON renders a tool result map for the API. Empty results become
// an empty JSON object, which the API accepts where an empty string fails.
func toolResultJSON(result map[string]any) string {
	if len(result) == 0 {
		return "{}"
	}
	data, err := json.Marshal(result)
	if err != nil {
		return "{}"
	}
	return string(data)
}
