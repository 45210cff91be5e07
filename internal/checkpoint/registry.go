// Package checkpoint holds the onboarding checkpoint registry, the completeness
// guards derived from it and the transition rules between checkpoints.
package checkpoint

import "github.com/ashureev/onboard-guide/internal/domain"

type definition struct {
	checkpoint domain.Checkpoint
	label      string
	topic      string
	required   []string
	progress   int
}

// registry is ordered; position defines the forward path.
var registry = []definition{
	{domain.CheckpointWelcome, "Welcome", "welcome", []string{"greeted"}, 0},
	{domain.CheckpointBusinessInfo, "Business Info", "businessInfo", []string{"businessName", "email", "phone", "address", "services"}, 15},
	{domain.CheckpointDomainAccess, "Domain Access", "domainAccess", []string{"domainName", "registrar"}, 35},
	{domain.CheckpointGBP, "Google Business Profile", "gbp", []string{"listingStatus"}, 55},
	{domain.CheckpointPhotos, "Photos", "photos", []string{"exterior", "interior", "logo"}, 75},
	{domain.CheckpointReview, "Review", "review", []string{"confirmed"}, 90},
	{domain.CheckpointCompleted, "Completed", "", nil, 100},
}

func lookup(cp domain.Checkpoint) (definition, bool) {
	for _, d := range registry {
		if d.checkpoint == cp {
			return d, true
		}
	}
	return definition{}, false
}

// Order returns the checkpoints in forward order.
func Order() []domain.Checkpoint {
	out := make([]domain.Checkpoint, len(registry))
	for i, d := range registry {
		out[i] = d.checkpoint
	}
	return out
}

// Index returns the position of cp in Order, or -1 for unknown values.
func Index(cp domain.Checkpoint) int {
	for i, d := range registry {
		if d.checkpoint == cp {
			return i
		}
	}
	return -1
}

// At returns the checkpoint at position i.
func At(i int) (domain.Checkpoint, bool) {
	if i < 0 || i >= len(registry) {
		return "", false
	}
	return registry[i].checkpoint, true
}

// RequiredFields returns the keys that must be satisfied before leaving cp.
func RequiredFields(cp domain.Checkpoint) []string {
	d, _ := lookup(cp)
	out := make([]string, len(d.required))
	copy(out, d.required)
	return out
}

// Label returns the display name of cp.
func Label(cp domain.Checkpoint) string {
	d, ok := lookup(cp)
	if !ok {
		return string(cp)
	}
	return d.label
}

// Topic returns the data bag section owned by cp. COMPLETED owns none.
func Topic(cp domain.Checkpoint) string {
	d, _ := lookup(cp)
	return d.topic
}

// Topics lists every data bag section in checkpoint order.
func Topics() []string {
	var out []string
	for _, d := range registry {
		if d.topic != "" {
			out = append(out, d.topic)
		}
	}
	return out
}

// IsTopic reports whether key names a data bag section.
func IsTopic(key string) bool {
	for _, d := range registry {
		if d.topic != "" && d.topic == key {
			return true
		}
	}
	return false
}

// Progress is the fixed completion percentage shown for cp.
func Progress(cp domain.Checkpoint) int {
	d, _ := lookup(cp)
	return d.progress
}
