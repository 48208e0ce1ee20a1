package bot

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RedKier/crypto-trading-bot/pkg/binance"
	"github.com/RedKier/crypto-trading-bot/pkg/strategy"
	"github.com/RedKier/crypto-trading-bot/pkg/workspace"
)

type offlineDialer struct{}

func (offlineDialer) DialContext(context.Context, string, http.Header) (*websocket.Conn, *http.Response, error) {
	return nil, nil, errors.New("offline")
}

func newExchangeServer(t *testing.T) *httptest.Server {
	return newExchangeServerWithKlines(t, nil)
}

// failKlines, when set, reports whether the current klines call should fail.
func newExchangeServerWithKlines(t *testing.T, failKlines func() bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fapi/v1/klines" && failKlines != nil && failKlines() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		switch r.URL.Path {
		case "/fapi/v1/exchangeInfo":
			_, _ = io.WriteString(w, `{"symbols":[{"symbol":"BTCUSDT","baseAsset":"BTC","quoteAsset":"USDT","pricePrecision":2,"quantityPrecision":3}]}`)
		case "/fapi/v1/account":
			_, _ = io.WriteString(w, `{"assets":[{"asset":"USDT","initialMargin":"0","maintMargin":"0","marginBalance":"1000","walletBalance":"1000","unrealizedProfit":"0"}]}`)
		case "/fapi/v1/klines":
			_, _ = io.WriteString(w, `[[1700000000000,"100","105","95","100","10"]]`)
		case "/fapi/v1/ticker/bookTicker":
			_, _ = io.WriteString(w, `{"symbol":"BTCUSDT","bidPrice":"100.1","askPrice":"100.2"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestBot(t *testing.T, baseURL string, store *workspace.Store) *Bot {
	t.Helper()
	logger, _ := test.NewNullLogger()
	client := binance.NewClient(binance.ClientConfig{APIKey: "k", APISecret: "s", BaseURL: baseURL}, logger)
	return New(client, binance.StreamConfig{
		URL:            "ws://unused",
		ReconnectDelay: 10 * time.Millisecond,
		Dialer:         offlineDialer{},
	}, store, logger)
}

func TestBotLifecycle(t *testing.T) {
	ctx := context.Background()
	srv := newExchangeServer(t)
	store, err := workspace.Open(filepath.Join(t.TempDir(), "workspace.db"))
	require.NoError(t, err)
	defer store.Close()

	b := newTestBot(t, srv.URL, store)
	require.NoError(t, b.Start(ctx))

	_, ok := b.Contract("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, 1000.0, b.Balances()["USDT"].WalletBalance)
	assert.Equal(t, []string{"BTCUSDT"}, b.Stream().Watched(binance.ChannelBookTicker))

	assert.Error(t, b.Watch(ctx, "DOGEUSDT"))
	require.NoError(t, b.Watch(ctx, "BTCUSDT"))
	require.NoError(t, b.Watch(ctx, "BTCUSDT"))
	assert.Len(t, b.Watchlist(), 1)
	price, ok := b.Prices().Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 100.1, price.Bid)
	assert.Contains(t, b.WatchedPrices(ctx), "BTCUSDT")

	cfg, err := b.ActivateStrategy(ctx, strategy.Config{
		Kind:       strategy.KindBreakout,
		Symbol:     "BTCUSDT",
		Timeframe:  "1m",
		BalancePct: 10,
		TakeProfit: 2,
		StopLoss:   1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, cfg.ID)
	assert.Equal(t, []string{"BTCUSDT"}, b.Stream().Watched(binance.ChannelAggTrade))
	assert.Len(t, b.StrategyConfigs(), 1)

	_, err = b.ActivateStrategy(ctx, strategy.Config{Kind: strategy.KindBreakout, Symbol: "DOGEUSDT", Timeframe: "1m", BalancePct: 10})
	assert.Error(t, err)

	logs := b.DrainLogs()
	require.NotEmpty(t, logs)
	assert.Contains(t, logs[0].Message, "successfully initialized")
	assert.Empty(t, b.DrainLogs())

	b.Stop()

	restored := newTestBot(t, srv.URL, store)
	require.NoError(t, restored.Start(ctx))
	defer restored.Stop()

	assert.Len(t, restored.Watchlist(), 1)
	configs := restored.StrategyConfigs()
	require.Len(t, configs, 1)
	assert.Equal(t, cfg.ID, configs[0].ID)
	assert.Equal(t, 2.0, configs[0].TakeProfit)

	require.NoError(t, restored.DeactivateStrategy(ctx, cfg.ID))
	assert.Empty(t, restored.Stream().Watched(binance.ChannelAggTrade))
	assert.Error(t, restored.DeactivateStrategy(ctx, cfg.ID))

	var saved []strategy.Config
	found, err := store.Load(ctx, workspace.KeyStrategies, &saved)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, saved)

	require.NoError(t, restored.Unwatch(ctx, "BTCUSDT"))
	assert.Empty(t, restored.Watchlist())
}

func TestStartFailsWithoutContracts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	b := newTestBot(t, srv.URL, nil)
	err := b.Start(context.Background())

	assert.ErrorIs(t, err, binance.ErrRejected)
}

func TestRestoreKeepsConfigsThatFailToLoad(t *testing.T) {
	ctx := context.Background()
	var klinesCalls atomic.Int32
	srv := newExchangeServerWithKlines(t, func() bool {
		return klinesCalls.Add(1) == 1
	})
	store, err := workspace.Open(filepath.Join(t.TempDir(), "workspace.db"))
	require.NoError(t, err)
	defer store.Close()

	saved := []strategy.Config{
		{ID: "first", Kind: strategy.KindBreakout, Symbol: "BTCUSDT", Timeframe: "1m", BalancePct: 10},
		{ID: "second", Kind: strategy.KindBreakout, Symbol: "BTCUSDT", Timeframe: "5m", BalancePct: 5},
	}
	require.NoError(t, store.Save(ctx, workspace.KeyStrategies, saved))

	b := newTestBot(t, srv.URL, store)
	require.NoError(t, b.Start(ctx))
	defer b.Stop()

	configs := b.StrategyConfigs()
	require.Len(t, configs, 1)
	assert.Equal(t, "second", configs[0].ID)

	var stored []strategy.Config
	_, err = store.Load(ctx, workspace.KeyStrategies, &stored)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	// a later user change still carries the unrestored config
	_, err = b.ActivateStrategy(ctx, strategy.Config{Kind: strategy.KindBreakout, Symbol: "BTCUSDT", Timeframe: "15m", BalancePct: 1})
	require.NoError(t, err)
	_, err = store.Load(ctx, workspace.KeyStrategies, &stored)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
	assert.Contains(t, []string{stored[0].ID, stored[1].ID, stored[2].ID}, "first")

	require.NoError(t, b.DeactivateStrategy(ctx, "first"))
	_, err = store.Load(ctx, workspace.KeyStrategies, &stored)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	assert.Error(t, b.DeactivateStrategy(ctx, "first"))
}
