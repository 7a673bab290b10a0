package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLLMConfigActivateDeactivatesOthers(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	u, err := store.Users().GetOrCreateByPhone(ctx, "+15550016666")
	require.NoError(t, err)

	c1 := &LLMConfig{UserID: u.ID, Provider: LLMProviderOpenAI, APIKeyEncrypted: []byte("a"), IsActive: true}
	c2 := &LLMConfig{UserID: u.ID, Provider: LLMProviderAnthropic, APIKeyEncrypted: []byte("b")}
	require.NoError(t, store.LLMConfigs().Create(ctx, c1))
	require.NoError(t, store.LLMConfigs().Create(ctx, c2))

	require.NoError(t, store.LLMConfigs().Activate(ctx, u.ID, c2.ID))

	active, err := store.LLMConfigs().GetActive(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, c2.ID, active.ID)

	configs, err := store.LLMConfigs().ListByUser(ctx, u.ID)
	require.NoError(t, err)
	activeCount := 0
	for _, c := range configs {
		if c.IsActive {
			activeCount++
		}
	}
	require.Equal(t, 1, activeCount)
}

func TestLLMConfigGetActiveNotFoundWhenNoneConfigured(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	u, err := store.Users().GetOrCreateByPhone(ctx, "+15550017777")
	require.NoError(t, err)

	_, err = store.LLMConfigs().GetActive(ctx, u.ID)
	require.Error(t, err)
}
