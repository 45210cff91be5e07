package agent

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/onboard-guide/internal/checkpoint"
	"github.com/ashureev/onboard-guide/internal/databag"
	"github.com/ashureev/onboard-guide/internal/domain"
)

//go:embed prompts.yaml
var promptsYAML []byte

// Template is the per-checkpoint part of the system instructions.
type Template struct {
	Goal      string   `yaml:"goal"`
	Extract   []string `yaml:"extract"`
	Confirm   string   `yaml:"confirm"`
	UIActions []string `yaml:"ui_actions"`
}

// Templates maps every checkpoint to its instructions.
type Templates struct {
	Base        string                         `yaml:"base"`
	Checkpoints map[domain.Checkpoint]Template `yaml:"checkpoints"`
}

// ClientFacts are known details about the client outside the data bag.
type ClientFacts struct {
	Name  string
	Email string
}

// LoadTemplates parses the embedded prompt templates.
func LoadTemplates() (*Templates, error) {
	return ParseTemplates(promptsYAML)
}

// ParseTemplates parses templates from YAML and checks every checkpoint has one.
func ParseTemplates(raw []byte) (*Templates, error) {
	var t Templates
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("parse prompt templates: %w", err)
	}
	for _, cp := range checkpoint.Order() {
		if _, ok := t.Checkpoints[cp]; !ok {
			return nil, fmt.Errorf("prompt template missing for %s", cp)
		}
	}
	return &t, nil
}

// BuildInstructions produces the system instructions for cp from the
// templates, the current data bag and the client facts.
func (t *Templates) BuildInstructions(cp domain.Checkpoint, data domain.CheckpointData, client ClientFacts) string {
	tpl := t.Checkpoints[cp]

	var b strings.Builder
	b.WriteString(strings.TrimSpace(t.Base))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Current step: %s (%s)\n", checkpoint.Label(cp), cp)
	fmt.Fprintf(&b, "Goal: %s\n", tpl.Goal)

	if len(tpl.Extract) > 0 {
		b.WriteString("Fields to extract into extractedData:\n")
		for _, f := range tpl.Extract {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	if required := checkpoint.RequiredFields(cp); len(required) > 0 {
		fmt.Fprintf(&b, "Required before advancing: %s\n", strings.Join(required, ", "))
	}
	if missing := checkpoint.MissingFields(cp, data); len(missing) > 0 {
		fmt.Fprintf(&b, "Still missing: %s\n", strings.Join(missing, ", "))
	}
	if tpl.Confirm != "" {
		fmt.Fprintf(&b, "Confirmation rules: %s\n", tpl.Confirm)
	}
	if len(tpl.UIActions) > 0 {
		b.WriteString("Available uiAction types:\n")
		for _, a := range tpl.UIActions {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}

	if client.Name != "" || client.Email != "" {
		fmt.Fprintf(&b, "\nClient: %s <%s>\n", client.Name, client.Email)
	}

	known := data
	if cp != domain.CheckpointReview && cp != domain.CheckpointCompleted {
		known = databag.Section(data, checkpoint.Topic(cp))
	}
	if len(known) > 0 {
		if encoded, err := json.MarshalIndent(known, "", "  "); err == nil {
			b.WriteString("\nAlready collected:\n")
			b.Write(encoded)
			b.WriteString("\n")
		}
	}

	return b.String()
}
