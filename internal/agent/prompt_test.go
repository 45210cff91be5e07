package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/onboard-guide/internal/checkpoint"
	"github.com/ashureev/onboard-guide/internal/domain"
)

func TestLoadTemplates_CoversEveryCheckpoint(t *testing.T) {
	tpl, err := LoadTemplates()
	require.NoError(t, err)
	assert.NotEmpty(t, tpl.Base)
	for _, cp := range checkpoint.Order() {
		assert.NotEmpty(t, tpl.Checkpoints[cp].Goal, cp)
	}
}

func TestParseTemplates_MissingCheckpoint(t *testing.T) {
	_, err := ParseTemplates([]byte("base: hi\ncheckpoints:\n  WELCOME:\n    goal: greet\n"))
	assert.Error(t, err)
}

func TestBuildInstructions(t *testing.T) {
	tpl, err := LoadTemplates()
	require.NoError(t, err)

	data := domain.CheckpointData{
		"businessInfo": map[string]any{"businessName": "Bella Salon"},
	}
	got := tpl.BuildInstructions(domain.CheckpointBusinessInfo, data, ClientFacts{Name: "Ana", Email: "ana@bella.com"})

	assert.Contains(t, got, "Current step: Business Info (BUSINESS_INFO)")
	assert.Contains(t, got, "Still missing: email, phone, address, services")
	assert.Contains(t, got, "Bella Salon")
	assert.Contains(t, got, "Ana <ana@bella.com>")
	assert.Contains(t, got, "address_form")
}
