package ws

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPresenceCountsPeers(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPresence()

	changed, err := p.Join(ctx, 3)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, _ = p.Join(ctx, 3)
	assert.False(t, changed, "second peer of the same user keeps the set unchanged")

	changed, _ = p.Join(ctx, 1)
	assert.True(t, changed)

	online, _ := p.Online(ctx)
	assert.Equal(t, []int64{1, 3}, online)

	changed, _ = p.Leave(ctx, 3)
	assert.False(t, changed)
	changed, _ = p.Leave(ctx, 3)
	assert.True(t, changed)
	changed, _ = p.Leave(ctx, 3)
	assert.False(t, changed, "leaving an absent user is a no-op")

	online, _ = p.Online(ctx)
	assert.Equal(t, []int64{1}, online)
}
