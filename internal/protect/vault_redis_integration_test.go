//go:build integration

package protect_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/internal/audit"
	"custodia/internal/platform/logger"
	"custodia/internal/protect"
	"custodia/pkg/testutil/containers"
)

func TestRedisVaultTokenLifecycle(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	ctx := context.Background()
	require.NoError(t, rc.FlushAll(ctx))

	log := logger.New(logger.ParseLevel("error"))
	ledger := audit.NewLedger(audit.NewInMemoryStore(), log)
	vault := protect.NewRedisVault(rc.Client)
	protector, err := protect.New([]byte("0123456789abcdef0123456789abcdef"), 1, vault, ledger)
	require.NoError(t, err)

	field, err := protector.Protect(ctx, "4111111111111111", protect.ModeTokenized)
	require.NoError(t, err)
	assert.True(t, len(field.Data) > 4 && field.Data[:4] == "tok_")

	// The mapping survives in Redis keyed by the token, never by the value.
	keys, err := rc.Client.Keys(ctx, "*").Result()
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], field.Data)
	assert.NotContains(t, keys[0], "4111111111111111")

	// Destroying the token removes the mapping for good; a second destroy
	// is a no-op.
	require.NoError(t, protector.DestroyToken(ctx, field))
	keys, err = rc.Client.Keys(ctx, "*").Result()
	require.NoError(t, err)
	assert.Empty(t, keys)
	require.NoError(t, protector.DestroyToken(ctx, field))
}

func TestRedisVaultRejectsDuplicateToken(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	ctx := context.Background()
	require.NoError(t, rc.FlushAll(ctx))

	vault := protect.NewRedisVault(rc.Client)
	require.NoError(t, vault.Put(ctx, "tok_fixed", "value-1"))
	assert.Error(t, vault.Put(ctx, "tok_fixed", "value-2"))

	require.NoError(t, vault.Delete(ctx, "tok_fixed"))
	require.NoError(t, vault.Put(ctx, "tok_fixed", "value-3"))
}
