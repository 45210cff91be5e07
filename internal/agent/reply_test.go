package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReply_BareObject(t *testing.T) {
	reply, ok := ParseReply(`{"message":"Hi!","extractedData":{"businessName":"Bella"},"readyToAdvance":false}`)
	require.True(t, ok)
	assert.Equal(t, "Hi!", reply.Message)
	assert.Equal(t, map[string]any{"businessName": "Bella"}, reply.ExtractedData)
	assert.False(t, reply.ReadyToAdvance)
}

func TestParseReply_CodeFence(t *testing.T) {
	text := "```json\n{\"message\":\"Got it\",\"readyToAdvance\":true,\"uiAction\":{\"type\":\"address_form\"}}\n```"
	reply, ok := ParseReply(text)
	require.True(t, ok)
	assert.Equal(t, "Got it", reply.Message)
	assert.True(t, reply.ReadyToAdvance)
	require.NotNil(t, reply.UIAction)
	assert.Equal(t, "address_form", reply.UIAction.Type)
}

func TestParseReply_EmbeddedInProse(t *testing.T) {
	text := `Sure, here you go: {"message":"Which registrar?","extractedData":{"domainName":"bella.com"}} hope that helps {x}`
	reply, ok := ParseReply(text)
	require.True(t, ok)
	assert.Equal(t, "Which registrar?", reply.Message)
	assert.Equal(t, "bella.com", reply.ExtractedData["domainName"])
}

func TestParseReply_BracesInsideStrings(t *testing.T) {
	text := `note {"message":"use {curly} braces","readyToAdvance":false}`
	reply, ok := ParseReply(text)
	require.True(t, ok)
	assert.Equal(t, "use {curly} braces", reply.Message)
}

func TestParseReply_PlainTextPassthrough(t *testing.T) {
	reply, ok := ParseReply("  Hello! What is your business called?  ")
	assert.False(t, ok)
	assert.Equal(t, "Hello! What is your business called?", reply.Message)
	assert.Nil(t, reply.ExtractedData)
	assert.False(t, reply.ReadyToAdvance)
	assert.Nil(t, reply.UIAction)
}

func TestParseReply_ObjectWithoutMessageIsNotAReply(t *testing.T) {
	reply, ok := ParseReply(`{"foo":"bar"}`)
	assert.False(t, ok)
	assert.Equal(t, `{"foo":"bar"}`, reply.Message)
}

func TestParseReply_EmptyExtractionAndUIActionDropped(t *testing.T) {
	reply, ok := ParseReply(`{"message":"ok","extractedData":{},"uiAction":{"type":""}}`)
	require.True(t, ok)
	assert.Nil(t, reply.ExtractedData)
	assert.Nil(t, reply.UIAction)
}
