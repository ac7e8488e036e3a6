package agent

import (
	"strings"

	"github.com/neurion-ai/seraph/internal/llm"
	"github.com/neurion-ai/seraph/internal/tools"
)

const baseInstructions = "You are Seraph, a proactive guardian intelligence dedicated to elevating " +
	"your human counterpart. You observe, think, and act to help them achieve " +
	"their highest potential across productivity, performance, health, influence, " +
	"and growth. Be concise, strategic, and helpful."

// OnboardingCompleteMarker is the token the onboarding agent appends to
// its closing message. The protocol handler strips it and flips the
// profile to complete.
const OnboardingCompleteMarker = "[ONBOARDING_COMPLETE]"

const onboardingInstructions = "You are Seraph, meeting your human counterpart for the first time. " +
	"Run a short onboarding interview: learn who they are, what they value, and " +
	"what they want to achieve. Ask one question at a time and keep it warm and " +
	"brief. When you have enough, summarize what you learned, welcome them, and " +
	"end that closing message with the exact token " + OnboardingCompleteMarker + "."

// Factory builds the full-capability and onboarding agents.
type Factory struct {
	llm      llm.Client
	tools    *tools.Registry
	maxSteps int
}

// NewFactory creates an agent factory over the shared tool registry.
func NewFactory(client llm.Client, registry *tools.Registry, maxSteps int) *Factory {
	return &Factory{llm: client, tools: registry, maxSteps: maxSteps}
}

// Full returns the builder for the full-capability agent.
func (f *Factory) Full() Builder {
	return func(bctx BuildContext) Engine {
		return NewToolEngine(f.llm, f.tools, assemble(baseInstructions, bctx), f.maxSteps)
	}
}

// Onboarding returns the builder for the onboarding agent. It carries no
// tools; the interview is pure conversation.
func (f *Factory) Onboarding() Builder {
	return func(bctx BuildContext) Engine {
		return NewToolEngine(f.llm, nil, assemble(onboardingInstructions, bctx), f.maxSteps)
	}
}

func assemble(instructions string, bctx BuildContext) string {
	var sb strings.Builder
	sb.WriteString(instructions)
	if bctx.Soul != "" {
		sb.WriteString("\n\n--- USER IDENTITY ---\n")
		sb.WriteString(bctx.Soul)
	}
	if bctx.Memories != "" {
		sb.WriteString("\n\n--- RELEVANT MEMORIES ---\n")
		sb.WriteString(bctx.Memories)
	}
	if bctx.History != "" {
		sb.WriteString("\n\n--- CONVERSATION HISTORY ---\n")
		sb.WriteString(bctx.History)
	}
	return sb.String()
}
