// Package insight implements the durable queue for proactive messages
// deferred by the delivery gate.
package insight

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/neurion-ai/seraph/internal/domain"
	"github.com/neurion-ai/seraph/internal/store"
)

// DefaultExpiry is how long an insight stays deliverable. Expired rows are
// only removed by the next Drain; there is no background sweeper.
const DefaultExpiry = 24 * time.Hour

// Queue is a priority-ordered, TTL-bound holding area for insights.
type Queue struct {
	repo   store.Repository
	expiry time.Duration
	now    func() time.Time
}

// NewQueue creates an insight queue. A non-positive expiry falls back to
// DefaultExpiry.
func NewQueue(repo store.Repository, expiry time.Duration) *Queue {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Queue{repo: repo, expiry: expiry, now: time.Now}
}

// Enqueue adds an insight. Always succeeds locally; no deduplication.
func (q *Queue) Enqueue(ctx context.Context, content, interventionType string, urgency int, reasoning string) (*domain.QueuedInsight, error) {
	if interventionType == "" {
		interventionType = domain.InterventionAdvisory
	}
	stored, err := q.repo.InsertInsight(ctx, &domain.QueuedInsight{
		Content:          content,
		InterventionType: interventionType,
		Urgency:          urgency,
		Reasoning:        reasoning,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Queued insight", "type", interventionType, "urgency", urgency)
	return stored, nil
}

// Drain removes every queued insight in one transaction and returns the
// fresh ones ordered by urgency descending. Expired rows are deleted in the
// same pass; equal urgencies keep insertion order.
func (q *Queue) Drain(ctx context.Context) ([]domain.QueuedInsight, error) {
	all, err := q.repo.TakeAllInsights(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := q.now().UTC().Add(-q.expiry)
	var fresh []domain.QueuedInsight
	for _, ins := range all {
		if ins.CreatedAt.After(cutoff) {
			fresh = append(fresh, ins)
		}
	}

	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].Urgency > fresh[j].Urgency
	})

	slog.Info("Drained insight queue", "delivered", len(fresh), "expired", len(all)-len(fresh))
	return fresh, nil
}

// Count returns the number of fresh insights without removing anything.
func (q *Queue) Count(ctx context.Context) (int, error) {
	return q.repo.CountInsights(ctx, q.now().UTC().Add(-q.expiry))
}

// Peek previews up to limit fresh insights ordered by urgency descending.
func (q *Queue) Peek(ctx context.Context, limit int) ([]domain.QueuedInsight, error) {
	if limit <= 0 {
		limit = 5
	}
	return q.repo.PeekInsights(ctx, q.now().UTC().Add(-q.expiry), limit)
}
