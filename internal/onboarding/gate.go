// Package onboarding decides whether a connection talks to the onboarding
// agent or the full agent.
package onboarding

import (
	"context"
	"log/slog"

	"github.com/neurion-ai/seraph/internal/agent"
	"github.com/neurion-ai/seraph/internal/domain"
	"github.com/neurion-ai/seraph/internal/store"
)

// Gate routes turns based on the singleton onboarding profile. While the
// profile is incomplete the onboarding agent handles every turn; afterwards
// the full agent does.
type Gate struct {
	repo    store.Repository
	full    agent.Builder
	onboard agent.Builder
}

// NewGate creates a gate over the two agent builders.
func NewGate(repo store.Repository, full, onboard agent.Builder) *Gate {
	return &Gate{repo: repo, full: full, onboard: onboard}
}

// Profile returns the singleton profile, creating it on first access.
func (g *Gate) Profile(ctx context.Context) (*domain.Profile, error) {
	return g.repo.GetOrCreateProfile(ctx)
}

// Skip marks onboarding complete. Safe to call repeatedly; the flag simply
// stays set.
func (g *Gate) Skip(ctx context.Context) error {
	if err := g.repo.SetOnboardingCompleted(ctx, true); err != nil {
		return err
	}
	slog.Info("Onboarding skipped")
	return nil
}

// Complete marks onboarding finished, used when the onboarding agent
// signals it is done.
func (g *Gate) Complete(ctx context.Context) error {
	return g.repo.SetOnboardingCompleted(ctx, true)
}

// Restart flips the profile back to incomplete, re-enabling the onboarding
// flow.
func (g *Gate) Restart(ctx context.Context) error {
	if err := g.repo.SetOnboardingCompleted(ctx, false); err != nil {
		return err
	}
	slog.Info("Onboarding restarted")
	return nil
}

// SelectAgent builds the engine for one turn and reports whether it is the
// onboarding agent.
func (g *Gate) SelectAgent(ctx context.Context, bctx agent.BuildContext) (agent.Engine, bool, error) {
	profile, err := g.repo.GetOrCreateProfile(ctx)
	if err != nil {
		return nil, false, err
	}
	if !profile.OnboardingCompleted {
		return g.onboard(bctx), true, nil
	}
	return g.full(bctx), false, nil
}
