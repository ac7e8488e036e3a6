package domain

import (
	"time"
)

// Intervention types for queued insights.
const (
	InterventionAdvisory = "advisory"
	InterventionWarning  = "warning"
	InterventionNudge    = "nudge"
)

// QueuedInsight is a proactive message deferred for later delivery.
// Higher urgency is delivered first.
type QueuedInsight struct {
	ID               int64     `json:"id"`
	Content          string    `json:"content"`
	InterventionType string    `json:"intervention_type"`
	Urgency          int       `json:"urgency"`
	Reasoning        string    `json:"reasoning"`
	CreatedAt        time.Time `json:"created_at"`
}
