package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsMissingCredentials(t *testing.T) {
	_, err := New(Config{Type: ProviderOpenAI})
	require.Error(t, err)

	_, err = New(Config{Type: ProviderCustom})
	require.Error(t, err)
}

func TestNewBuildsKnownProviders(t *testing.T) {
	p, err := New(Config{Type: ProviderOpenAI, APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	p, err = New(Config{Type: ProviderAnthropic, APIKey: "sk-ant"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	p, err = New(Config{Type: ProviderGoogle, APIKey: "goog"})
	require.NoError(t, err)
	assert.Equal(t, "google", p.Name())

	p, err = New(Config{Type: ProviderOllama})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
}

func TestNewRejectsUnknownType(t *testing.T) {
	_, err := New(Config{Type: "unknown"})
	require.Error(t, err)
}
