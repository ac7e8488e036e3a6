package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"github.com/neurion-ai/seraph/internal/llm"
	"github.com/neurion-ai/seraph/internal/tools"
)

// finalAnswerTool is the synthetic tool the model calls to finish a run.
// It never reaches the registry; the engine turns it into a FinalAnswer
// event.
const finalAnswerTool = "final_answer"

// ToolEngine runs a bounded observe-act loop over the completion client.
type ToolEngine struct {
	llm          llm.Client
	tools        *tools.Registry
	instructions string
	maxSteps     int
}

// NewToolEngine creates an engine. A nil registry yields an agent that can
// only answer directly.
func NewToolEngine(client llm.Client, registry *tools.Registry, instructions string, maxSteps int) *ToolEngine {
	if registry == nil {
		registry = tools.NewRegistry()
	}
	if maxSteps <= 0 {
		maxSteps = 10
	}
	return &ToolEngine{
		llm:          client,
		tools:        registry,
		instructions: instructions,
		maxSteps:     maxSteps,
	}
}

type toolCall struct {
	Tool      string                     `json:"tool"`
	Arguments map[string]json.RawMessage `json:"arguments"`
}

// Run executes the loop for one message. The sequence is single-use.
func (e *ToolEngine) Run(ctx context.Context, message string) iter.Seq2[StepEvent, error] {
	return func(yield func(StepEvent, error) bool) {
		transcript := []string{"Task: " + message}

		for step := 0; step < e.maxSteps; step++ {
			out, err := e.llm.Complete(ctx, e.buildPrompt(transcript))
			if err != nil {
				yield(StepEvent{}, fmt.Errorf("model call failed: %w", err))
				return
			}

			call, ok := parseToolCall(out)
			if !ok || call.Tool == finalAnswerTool {
				yield(StepEvent{Kind: StepFinalAnswer, Text: finalText(call, out)}, nil)
				return
			}

			argsJSON, args := flattenArguments(call.Arguments)
			if !yield(StepEvent{Kind: StepToolCall, Tool: call.Tool, Arguments: argsJSON}, nil) {
				return
			}

			observation := e.invoke(ctx, call.Tool, args)
			if !yield(StepEvent{Kind: StepObservation, Text: observation}, nil) {
				return
			}

			transcript = append(transcript,
				fmt.Sprintf("Called %s with %s", call.Tool, argsJSON),
				"Observation: "+observation)
		}

		yield(StepEvent{}, fmt.Errorf("no final answer after %d steps", e.maxSteps))
	}
}

func (e *ToolEngine) buildPrompt(transcript []string) string {
	var sb strings.Builder
	sb.WriteString(e.instructions)
	sb.WriteString("\n\nAvailable tools:\n")
	sb.WriteString(e.tools.Describe())
	sb.WriteString("\n- " + finalAnswerTool + ": Finish with your answer. Arguments: answer.\n")
	sb.WriteString("\nRespond with exactly one JSON object: " +
		`{"tool": "<name>", "arguments": {...}}` +
		"\nUse " + finalAnswerTool + " when you are done.\n\n")
	sb.WriteString(strings.Join(transcript, "\n"))
	sb.WriteString("\n\nNext action:")
	return sb.String()
}

func (e *ToolEngine) invoke(ctx context.Context, name string, args map[string]string) string {
	tool, ok := e.tools.Get(name)
	if !ok {
		return fmt.Sprintf("error: unknown tool %q", name)
	}
	out, err := tool.Run(ctx, args)
	if err != nil {
		return "error: " + err.Error()
	}
	return out
}

// parseToolCall extracts a tool call from model output, tolerating markdown
// code fences and surrounding prose. Output with no parseable call is
// treated as a direct answer.
func parseToolCall(out string) (toolCall, bool) {
	text := strings.TrimSpace(out)
	if fenced := stripFences(text); fenced != "" {
		text = fenced
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return toolCall{}, false
	}

	var call toolCall
	if err := json.Unmarshal([]byte(text[start:end+1]), &call); err != nil || call.Tool == "" {
		return toolCall{}, false
	}
	return call, true
}

// stripFences unwraps a ```...``` block, with or without a language tag.
func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return ""
	}
	text = strings.TrimPrefix(text, "```")
	if idx := strings.Index(text, "\n"); idx >= 0 {
		text = text[idx+1:]
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// finalText picks the answer out of a final_answer call, falling back to
// the raw model output when the call carried none.
func finalText(call toolCall, raw string) string {
	if arg, ok := call.Arguments["answer"]; ok {
		var s string
		if err := json.Unmarshal(arg, &s); err == nil {
			return s
		}
		return string(arg)
	}
	return strings.TrimSpace(raw)
}

// flattenArguments renders arguments both as canonical JSON (for step
// frames) and as the string map tools consume.
func flattenArguments(raw map[string]json.RawMessage) (string, map[string]string) {
	args := make(map[string]string, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			args[k] = s
		} else {
			args[k] = string(v)
		}
	}
	rendered, err := json.Marshal(args)
	if err != nil {
		rendered = []byte("{}")
	}
	return string(rendered), args
}
