// Package agent defines the reasoning-engine boundary and an in-process
// tool-calling implementation of it.
package agent

import (
	"context"
	"iter"
)

// StepKind tags the variants of a step event.
type StepKind int

const (
	// StepToolCall is the engine deciding to invoke a named tool.
	StepToolCall StepKind = iota
	// StepObservation is the textual result of a tool invocation.
	StepObservation
	// StepFinalAnswer is the terminal event carrying the answer. The engine
	// emits it exactly once, as the last event of a successful run.
	StepFinalAnswer
)

// StepEvent is one event in an agent run. Which fields are meaningful
// depends on Kind: ToolCall uses Tool and Arguments, Observation and
// FinalAnswer use Text.
type StepEvent struct {
	Kind      StepKind
	Tool      string
	Arguments string
	Text      string
}

// Engine produces a lazy, finite, non-restartable sequence of step events
// for one message. A run ends with either a FinalAnswer event or a non-nil
// error; never both.
type Engine interface {
	Run(ctx context.Context, message string) iter.Seq2[StepEvent, error]
}

// BuildContext carries the per-turn context folded into an agent's
// instructions.
type BuildContext struct {
	History  string
	Soul     string
	Memories string
}

// Builder constructs an engine for one turn.
type Builder func(bctx BuildContext) Engine
