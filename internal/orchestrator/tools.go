package orchestrator

import (
	"context"
	"fmt"

	"github.com/fermata-app/fermata/internal/coach"
)

// registerTools binds the coach tool vocabulary to the advisory state and the
// feedback list. The dispatcher has already schema-validated arguments and
// bounded seek timestamps by the time a handler runs; handlers add the
// semantic checks the schema cannot express (index within the current list).
func (o *Orchestrator) registerTools() {
	o.dispatch.Register(coach.ToolOpenFixModal, o.toolOpenFixModal)
	o.dispatch.Register(coach.ToolSeekVideo, o.toolSeekVideo)
	o.dispatch.Register(coach.ToolSwitchTab, o.toolSwitchTab)
	o.dispatch.Register(coach.ToolHighlightFeedback, o.toolHighlightFeedback)
	o.dispatch.Register(coach.ToolOpenRecorder, o.toolOpenRecorder)
	o.dispatch.Register(coach.ToolStartCountdown, o.toolStartCountdown)
	o.dispatch.Register(coach.ToolShowOriginal, o.toolShowOriginal)
}

func (o *Orchestrator) toolOpenFixModal(ctx context.Context, call coach.Call) (map[string]any, error) {
	c := call.(coach.OpenFixModal)
	item, ok := o.model.Feedback().Item(c.Index)
	if !ok {
		return nil, fmt.Errorf("no feedback item %d", c.Index)
	}
	o.ui.OpenFixModal(c.Index)
	o.model.Feedback().Highlight(c.Index)
	return map[string]any{"status": "ok", "index": c.Index, "title": item.Title}, nil
}

func (o *Orchestrator) toolSeekVideo(ctx context.Context, call coach.Call) (map[string]any, error) {
	c := call.(coach.SeekVideo)
	o.ui.Seek(c.Video, c.TimestampSeconds)
	return map[string]any{"status": "ok", "position": c.TimestampSeconds}, nil
}

func (o *Orchestrator) toolSwitchTab(ctx context.Context, call coach.Call) (map[string]any, error) {
	c := call.(coach.SwitchTab)
	o.ui.SetTab(c.Tab)
	return map[string]any{"status": "ok", "tab": c.Tab}, nil
}

func (o *Orchestrator) toolHighlightFeedback(ctx context.Context, call coach.Call) (map[string]any, error) {
	c := call.(coach.HighlightFeedback)
	if c.Index == nil {
		o.model.Feedback().ClearHighlight()
		return map[string]any{"status": "ok", "highlight": nil}, nil
	}
	if !o.model.Feedback().Highlight(*c.Index) {
		return nil, fmt.Errorf("no feedback item %d", *c.Index)
	}
	return map[string]any{"status": "ok", "highlight": *c.Index}, nil
}

func (o *Orchestrator) toolOpenRecorder(ctx context.Context, call coach.Call) (map[string]any, error) {
	c := call.(coach.OpenRecorder)
	kind := c.Kind
	if kind == "" {
		kind = TabPractice
	}
	o.ui.OpenRecorder(c.FocusHint, kind)
	return map[string]any{"status": "ok", "kind": kind}, nil
}

func (o *Orchestrator) toolStartCountdown(ctx context.Context, call coach.Call) (map[string]any, error) {
	c := call.(coach.StartCountdown)
	o.ui.StartCountdown(c.Seconds)
	return map[string]any{"status": "ok", "seconds": c.Seconds}, nil
}

func (o *Orchestrator) toolShowOriginal(ctx context.Context, call coach.Call) (map[string]any, error) {
	o.ui.SetTab(TabOriginal)
	return map[string]any{"status": "ok", "tab": TabOriginal}, nil
}
