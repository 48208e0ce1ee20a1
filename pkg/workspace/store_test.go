package workspace

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "workspace.db")

	store, err := Open(path)
	require.NoError(t, err)

	var rows []WatchEntry
	found, err := store.Load(ctx, KeyWatchlist, &rows)
	require.NoError(t, err)
	assert.False(t, found)

	want := []WatchEntry{{Symbol: "BTCUSDT", Exchange: "binance"}, {Symbol: "ETHUSDT", Exchange: "binance"}}
	require.NoError(t, store.Save(ctx, KeyWatchlist, want))
	require.NoError(t, store.Save(ctx, KeyWatchlist, want[:1]))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	found, err = reopened.Load(ctx, KeyWatchlist, &rows)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want[:1], rows)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}
