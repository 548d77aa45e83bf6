package tickets

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPendingStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryPendingStore(func() time.Time { return now })

	require.NoError(t, store.Put(ctx, PendingGrant{AdminID: 1, ChatID: -100, Lottery: "Main", StartedAt: now}, DefaultGrantTimeout))

	other, err := store.Take(ctx, 1, -200)
	require.NoError(t, err)
	assert.Nil(t, other)

	got, err := store.Take(ctx, 1, -100)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Main", got.Lottery)

	again, err := store.Take(ctx, 1, -100)
	require.NoError(t, err)
	assert.Nil(t, again, "a pending grant is consumed once")
}

func TestMemoryPendingStoreExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryPendingStore(func() time.Time { return now })

	require.NoError(t, store.Put(ctx, PendingGrant{AdminID: 1, ChatID: 1, Lottery: "Main"}, DefaultGrantTimeout))
	now = now.Add(DefaultGrantTimeout)

	got, err := store.Take(ctx, 1, 1)
	require.NoError(t, err)
	assert.Nil(t, got)
}
