package domain

import "strings"

// Checkpoint is one ordered stage of the onboarding funnel.
type Checkpoint string

const (
	CheckpointWelcome      Checkpoint = "WELCOME"
	CheckpointBusinessInfo Checkpoint = "BUSINESS_INFO"
	CheckpointDomainAccess Checkpoint = "DOMAIN_ACCESS"
	CheckpointGBP          Checkpoint = "GBP"
	CheckpointPhotos       Checkpoint = "PHOTOS"
	CheckpointReview       Checkpoint = "REVIEW"
	CheckpointCompleted    Checkpoint = "COMPLETED"
)

// ParseCheckpoint converts a client-supplied name into a Checkpoint.
// Matching is case-insensitive and accepts dashes in place of underscores.
func ParseCheckpoint(s string) (Checkpoint, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	name = strings.ReplaceAll(name, "-", "_")
	switch cp := Checkpoint(name); cp {
	case CheckpointWelcome, CheckpointBusinessInfo, CheckpointDomainAccess,
		CheckpointGBP, CheckpointPhotos, CheckpointReview, CheckpointCompleted:
		return cp, nil
	}
	return "", ErrInvalidCheckpoint
}

// CheckpointData is the accumulating data bag, keyed by checkpoint topic.
type CheckpointData = map[string]any
