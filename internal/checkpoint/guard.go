package checkpoint

import (
	"strings"

	"github.com/ashureev/onboard-guide/internal/databag"
	"github.com/ashureev/onboard-guide/internal/domain"
)

var addressParts = []string{"street", "city", "state", "zip"}

// MissingFields returns the required fields of cp that data does not satisfy,
// in declaration order.
func MissingFields(cp domain.Checkpoint, data domain.CheckpointData) []string {
	topic := Topic(cp)
	missing := []string{}
	for _, field := range RequiredFields(cp) {
		if waived(field, data, topic) {
			continue
		}
		if !fieldSatisfied(field, Value(data, topic, field)) {
			missing = append(missing, field)
		}
	}
	return missing
}

// IsComplete reports whether every required field of cp is satisfied.
func IsComplete(cp domain.Checkpoint, data domain.CheckpointData) bool {
	return len(MissingFields(cp, data)) == 0
}

// Value looks a field up in the topic section first and then at the top level
// of the bag.
func Value(data domain.CheckpointData, topic, field string) any {
	if section := databag.Section(data, topic); section != nil {
		if v, ok := section[field]; ok && v != nil {
			return v
		}
	}
	if data == nil {
		return nil
	}
	return data[field]
}

// Confirmed reports whether the review confirmation flag is set to true.
func Confirmed(data domain.CheckpointData) bool {
	v, ok := Value(data, Topic(domain.CheckpointReview), "confirmed").(bool)
	return ok && v
}

// waived reports whether a required field is stood in for by another answer.
// A client without a domain has neither a domain name nor a registrar to give.
func waived(field string, data domain.CheckpointData, topic string) bool {
	switch field {
	case "domainName", "registrar":
		v, ok := Value(data, topic, "needsNewDomain").(bool)
		return ok && v
	}
	return false
}

func fieldSatisfied(field string, v any) bool {
	switch field {
	case "address":
		m, ok := databag.AsMap(v)
		if !ok {
			return false
		}
		for _, part := range addressParts {
			if !present(m[part]) {
				return false
			}
		}
		return true
	case "services":
		s, ok := databag.AsSlice(v)
		return ok && len(compact(s)) > 0
	case "greeted", "confirmed":
		b, ok := v.(bool)
		return ok && b
	}
	return present(v)
}

func present(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	if s, ok := databag.AsSlice(v); ok {
		return len(compact(s)) > 0
	}
	if m, ok := databag.AsMap(v); ok {
		for _, vv := range m {
			if present(vv) {
				return true
			}
		}
		return false
	}
	// Booleans and numbers are answers in their own right.
	return true
}

func compact(items []any) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		if present(item) {
			out = append(out, item)
		}
	}
	return out
}
