package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market_maker/internal/model"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreInsertAndLoadPosition(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	pos := model.Position{
		ID: "p1", Pair: "BTC/USDT", Side: model.Buy,
		Entry: decimal.NewFromInt(20000), Quantity: decimal.NewFromFloat(0.04),
		Mode: model.Live, OpenedAt: time.Now().Truncate(time.Millisecond),
	}
	require.NoError(t, store.InsertPosition(ctx, pos))

	loaded, err := store.LoadPositions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, pos.Pair, loaded[0].Pair)
	assert.True(t, pos.Entry.Equal(loaded[0].Entry))
	assert.True(t, pos.Quantity.Equal(loaded[0].Quantity))
}

func TestSQLiteStoreInsertPositionUpsertsOnConflict(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := model.Position{
		ID: "p1", Pair: "BTC/USDT", Side: model.Buy,
		Entry: decimal.NewFromInt(20000), Quantity: decimal.NewFromInt(1),
		Mode: model.Live, OpenedAt: time.Now(),
	}
	require.NoError(t, store.InsertPosition(ctx, base))

	updated := base
	updated.Entry = decimal.NewFromInt(21000)
	updated.Quantity = decimal.NewFromInt(2)
	require.NoError(t, store.InsertPosition(ctx, updated))

	loaded, err := store.LoadPositions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.True(t, loaded[0].Entry.Equal(decimal.NewFromInt(21000)))
}

func TestSQLiteStoreDeletePositionAndInsertTrade(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	pos := model.Position{
		ID: "p1", Pair: "ETH/USDT", Side: model.Buy,
		Entry: decimal.NewFromInt(2000), Quantity: decimal.NewFromInt(1),
		Mode: model.Paper, OpenedAt: time.Now(),
	}
	require.NoError(t, store.InsertPosition(ctx, pos))

	trade := model.NewTrade(pos, decimal.NewFromInt(2200), time.Now(), "t1")
	require.NoError(t, store.DeletePositionAndInsertTrade(ctx, pos.Key(), trade))

	loaded, err := store.LoadPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)

	pnl, err := store.RealizedPnL24h(ctx, model.Paper)
	require.NoError(t, err)
	assert.True(t, pnl.Equal(decimal.NewFromInt(200)), "expected 200 got %s", pnl)
}

func TestSQLiteStoreRealizedPnL24hExcludesOtherMode(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	pos := model.Position{ID: "p1", Pair: "BTC/USDT", Side: model.Buy, Entry: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1), Mode: model.Live, OpenedAt: time.Now()}
	require.NoError(t, store.InsertPosition(ctx, pos))
	trade := model.NewTrade(pos, decimal.NewFromInt(150), time.Now(), "t1")
	require.NoError(t, store.DeletePositionAndInsertTrade(ctx, pos.Key(), trade))

	pnl, err := store.RealizedPnL24h(ctx, model.Paper)
	require.NoError(t, err)
	assert.True(t, pnl.IsZero())
}
