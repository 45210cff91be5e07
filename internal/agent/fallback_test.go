package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/onboard-guide/internal/domain"
)

func TestFallback_WelcomeGreeting(t *testing.T) {
	f := NewFallback()

	reply := f.Reply(domain.CheckpointWelcome, nil, "hi there")
	assert.True(t, reply.ReadyToAdvance)
	assert.Equal(t, true, reply.ExtractedData["greeted"])
	assert.NotEmpty(t, reply.Message)

	reply = f.Reply(domain.CheckpointWelcome, nil, "what is this?")
	assert.False(t, reply.ReadyToAdvance)
	assert.Nil(t, reply.ExtractedData)
}

func TestFallback_BusinessInfoExtraction(t *testing.T) {
	f := NewFallback()
	text := "We're called Bella Salon, email Owner@BellaSalon.com, phone 555-123-4567, " +
		"address 12 Main St, Springfield, IL 62701. Services: cuts and color"

	reply := f.Reply(domain.CheckpointBusinessInfo, nil, text)

	require.NotNil(t, reply.ExtractedData)
	assert.Equal(t, "Bella Salon", reply.ExtractedData["businessName"])
	assert.Equal(t, "owner@bellasalon.com", reply.ExtractedData["email"])
	assert.Equal(t, "555-123-4567", reply.ExtractedData["phone"])
	assert.Equal(t, map[string]any{
		"street": "12 Main St",
		"city":   "Springfield",
		"state":  "IL",
		"zip":    "62701",
	}, reply.ExtractedData["address"])
	assert.Equal(t, []any{"cuts", "color"}, reply.ExtractedData["services"])
	assert.True(t, reply.ReadyToAdvance)
}

func TestFallback_BusinessInfoAsksForFirstMissingField(t *testing.T) {
	f := NewFallback()
	data := domain.CheckpointData{"businessInfo": map[string]any{"businessName": "Bella"}}

	reply := f.Reply(domain.CheckpointBusinessInfo, data, "nothing useful")

	assert.False(t, reply.ReadyToAdvance)
	assert.Nil(t, reply.ExtractedData)
	assert.Equal(t, fieldQuestions["email"], reply.Message)
}

func TestFallback_AddressPromptShowsForm(t *testing.T) {
	f := NewFallback()
	data := domain.CheckpointData{"businessInfo": map[string]any{
		"businessName": "Bella", "email": "a@b.co", "phone": "555-123-4567",
	}}

	reply := f.Reply(domain.CheckpointBusinessInfo, data, "ok")

	require.NotNil(t, reply.UIAction)
	assert.Equal(t, "address_form", reply.UIAction.Type)
}

func TestFallback_DomainAccess(t *testing.T) {
	f := NewFallback()

	reply := f.Reply(domain.CheckpointDomainAccess, nil, "Our site is www.bellasalon.com and it's on GoDaddy")

	assert.Equal(t, "bellasalon.com", reply.ExtractedData["domainName"])
	assert.Equal(t, "GoDaddy", reply.ExtractedData["registrar"])
	assert.True(t, reply.ReadyToAdvance)
}

func TestFallback_DomainAccessWithoutDomain(t *testing.T) {
	f := NewFallback()

	reply := f.Reply(domain.CheckpointDomainAccess, nil, "I don't have a domain yet, I need a domain")

	assert.Equal(t, true, reply.ExtractedData["needsNewDomain"])
	assert.True(t, reply.ReadyToAdvance)
}

func TestFallback_GBPListingStatus(t *testing.T) {
	f := NewFallback()
	cases := map[string]string{
		"yes we have one":            "claimed",
		"there is one but unclaimed": "unclaimed",
		"no":                         "none",
	}
	for text, want := range cases {
		reply := f.Reply(domain.CheckpointGBP, nil, text)
		assert.Equal(t, want, reply.ExtractedData["listingStatus"], text)
		assert.True(t, reply.ReadyToAdvance, text)
	}
}

func TestFallback_PhotosListsMissingCategories(t *testing.T) {
	f := NewFallback()
	data := domain.CheckpointData{"photos": map[string]any{"logo": []any{"logo.png"}}}

	reply := f.Reply(domain.CheckpointPhotos, data, "here you go")

	assert.False(t, reply.ReadyToAdvance)
	require.NotNil(t, reply.UIAction)
	assert.Equal(t, "photo_upload", reply.UIAction.Type)
	assert.Equal(t, []any{"exterior", "interior"}, reply.UIAction.Config["categories"])
}

func TestFallback_Review(t *testing.T) {
	f := NewFallback()

	reply := f.Reply(domain.CheckpointReview, nil, "Yes, looks good")
	assert.True(t, reply.ReadyToAdvance)
	assert.Equal(t, true, reply.ExtractedData["confirmed"])

	reply = f.Reply(domain.CheckpointReview, nil, "I need to change the phone")
	assert.False(t, reply.ReadyToAdvance)
	require.NotNil(t, reply.UIAction)
	assert.Equal(t, "edit_step", reply.UIAction.Type)
}

func TestFallback_CompletedIsFixed(t *testing.T) {
	reply := NewFallback().Reply(domain.CheckpointCompleted, nil, "anything")
	assert.NotEmpty(t, reply.Message)
	assert.Nil(t, reply.ExtractedData)
	assert.False(t, reply.ReadyToAdvance)
}
