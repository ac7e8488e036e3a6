package domain

import (
	"time"
)

// ProfileID is the fixed primary key of the single profile row.
const ProfileID = "singleton"

// Profile records per-deployment onboarding state. There is exactly one
// row; it is created lazily and only ever flipped, never deleted.
type Profile struct {
	ID                  string `json:"id"`
	OnboardingCompleted bool   `json:"onboarding_completed"`
}

// Memory is one durable fact extracted by consolidation.
type Memory struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
