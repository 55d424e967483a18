package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhanuzh/airefiner/internal/provider"
)

func TestParseKey(t *testing.T) {
	id, model, err := ParseKey("anthropic/claude-sonnet-4")
	require.NoError(t, err)
	assert.Equal(t, provider.Anthropic, id)
	assert.Equal(t, "claude-sonnet-4", model)

	id, model, err = ParseKey("groq:meta-llama/llama-4-scout")
	require.NoError(t, err)
	assert.Equal(t, provider.Groq, id)
	assert.Equal(t, "meta-llama/llama-4-scout", model)

	for _, bad := range []string{"", "gpt-4o", "openai/", "/gpt-4o", "cohere/command"} {
		_, _, err := ParseKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestDescriptorKeyAndString(t *testing.T) {
	d := ModelDescriptor{Provider: provider.Google, ID: "gemini-1.5-pro", DisplayName: "Gemini 1.5 Pro"}
	assert.Equal(t, "google/gemini-1.5-pro", d.Key())
	assert.Equal(t, "Gemini 1.5 Pro (google/gemini-1.5-pro)", d.String())

	bare := ModelDescriptor{Provider: provider.OpenAI, ID: "gpt-4o", DisplayName: "gpt-4o"}
	assert.Equal(t, "openai/gpt-4o", bare.String())
}

func TestLookupAndFind(t *testing.T) {
	models := map[provider.ID][]ModelDescriptor{
		provider.OpenAI:    {{Provider: provider.OpenAI, ID: "gpt-4o"}},
		provider.Anthropic: {{Provider: provider.Anthropic, ID: "claude-3-haiku", DisplayName: "Claude Haiku 3"}},
	}

	m, ok := Lookup(models, provider.Anthropic, "claude-3-haiku")
	require.True(t, ok)
	assert.Equal(t, "Claude Haiku 3", m.DisplayName)

	_, ok = Lookup(models, provider.OpenAI, "gpt-5")
	assert.False(t, ok)

	found := FindModel(models, "HAIKU")
	require.Len(t, found, 1)
	assert.Equal(t, "claude-3-haiku", found[0].ID)

	flat := Flatten(models)
	require.Len(t, flat, 2)
	assert.Equal(t, provider.OpenAI, flat[0].Provider)
}
