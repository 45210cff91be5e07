package agent

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
)

// ErrUnparseableReply is reported when no structured reply could be found.
var ErrUnparseableReply = errors.New("reply is not a structured object")

// Confirmation asks the client to confirm one extracted value.
type Confirmation struct {
	Field    string `json:"field"`
	Value    any    `json:"value"`
	Question string `json:"question"`
}

// UIAction asks the client UI to show a widget.
type UIAction struct {
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

// Reply is the structured answer expected from the provider.
type Reply struct {
	Message            string         `json:"message"`
	ExtractedData      map[string]any `json:"extractedData"`
	ConfirmationNeeded []Confirmation `json:"confirmationNeeded"`
	ReadyToAdvance     bool           `json:"readyToAdvance"`
	UIAction           *UIAction      `json:"uiAction"`
}

// ParseReply decodes a provider reply. It accepts a bare JSON object, one
// wrapped in a code fence, or one embedded in prose. When none is found the
// whole text becomes the message with no extraction, and ok is false.
func ParseReply(text string) (reply Reply, ok bool) {
	trimmed := strings.TrimSpace(text)

	if r, err := decodeReply(trimmed); err == nil {
		return r, true
	}
	if inner, found := stripCodeFence(trimmed); found {
		if r, err := decodeReply(inner); err == nil {
			return r, true
		}
	}
	candidates := embeddedObjects(trimmed)
	sort.SliceStable(candidates, func(i, j int) bool { return len(candidates[i]) > len(candidates[j]) })
	for _, c := range candidates {
		if r, err := decodeReply(c); err == nil {
			return r, true
		}
	}

	return Reply{Message: trimmed}, false
}

func decodeReply(s string) (Reply, error) {
	if !strings.HasPrefix(s, "{") {
		return Reply{}, ErrUnparseableReply
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &fields); err != nil {
		return Reply{}, err
	}
	if _, ok := fields["message"]; !ok {
		return Reply{}, ErrUnparseableReply
	}
	var r Reply
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return Reply{}, err
	}
	r.Message = strings.TrimSpace(r.Message)
	if len(r.ExtractedData) == 0 {
		r.ExtractedData = nil
	}
	if r.UIAction != nil && r.UIAction.Type == "" {
		r.UIAction = nil
	}
	return r, nil
}

// stripCodeFence returns the body of the first ``` fenced block.
func stripCodeFence(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start < 0 {
		return "", false
	}
	body := s[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		// Drop a language tag such as ```json.
		if tag := strings.TrimSpace(body[:nl]); !strings.HasPrefix(tag, "{") {
			body = body[nl+1:]
		}
	}
	end := strings.Index(body, "```")
	if end < 0 {
		return strings.TrimSpace(body), true
	}
	return strings.TrimSpace(body[:end]), true
}

// embeddedObjects returns every balanced top-level {...} span in s, skipping
// braces inside JSON strings.
func embeddedObjects(s string) []string {
	var out []string
	depth, start := 0, -1
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				out = append(out, s[start:i+1])
				start = -1
			}
		}
	}
	return out
}
