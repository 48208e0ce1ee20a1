package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RedKier/crypto-trading-bot/pkg/binance"
	"github.com/RedKier/crypto-trading-bot/pkg/models"
	"github.com/RedKier/crypto-trading-bot/pkg/strategy"
	"github.com/RedKier/crypto-trading-bot/pkg/trader"
	"github.com/RedKier/crypto-trading-bot/pkg/workspace"
)

type fakeTrader struct {
	watchlist   []workspace.WatchEntry
	configs     []strategy.Config
	logs        []trader.LogEntry
	balancesErr error
	removed     []string
}

func (f *fakeTrader) Contracts() map[string]models.Contract {
	return map[string]models.Contract{
		"ETHUSDT": {Symbol: "ETHUSDT"},
		"BTCUSDT": {Symbol: "BTCUSDT"},
	}
}

func (f *fakeTrader) WatchedPrices(context.Context) map[string]models.Price {
	return map[string]models.Price{"BTCUSDT": {Bid: 1, Ask: 2}}
}

func (f *fakeTrader) Watchlist() []workspace.WatchEntry { return f.watchlist }

func (f *fakeTrader) Watch(_ context.Context, symbol string) error {
	if symbol != "BTCUSDT" {
		return errors.New("unknown symbol " + symbol)
	}
	f.watchlist = append(f.watchlist, workspace.WatchEntry{Symbol: symbol, Exchange: models.ExchangeBinance})
	return nil
}

func (f *fakeTrader) Unwatch(_ context.Context, symbol string) error {
	f.removed = append(f.removed, symbol)
	return nil
}

func (f *fakeTrader) StrategyConfigs() []strategy.Config { return f.configs }

func (f *fakeTrader) ActivateStrategy(_ context.Context, cfg strategy.Config) (strategy.Config, error) {
	if cfg.Timeframe == "" {
		return strategy.Config{}, errors.New("unsupported timeframe")
	}
	cfg.ID = "generated"
	f.configs = append(f.configs, cfg)
	return cfg, nil
}

func (f *fakeTrader) DeactivateStrategy(_ context.Context, id string) error {
	if id != "generated" {
		return errors.New("strategy not found")
	}
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeTrader) Trades() []models.Trade { return nil }

func (f *fakeTrader) DrainLogs() []trader.LogEntry {
	out := f.logs
	f.logs = nil
	return out
}

func (f *fakeTrader) RefreshBalances(context.Context) (map[string]models.Balance, error) {
	if f.balancesErr != nil {
		return nil, f.balancesErr
	}
	return map[string]models.Balance{"USDT": {Asset: "USDT", WalletBalance: 1000}}, nil
}

func (f *fakeTrader) StreamState() binance.State { return binance.StateOpen }

func newTestServer(f *fakeTrader, secret string) http.Handler {
	logger, _ := test.NewNullLogger()
	return NewServer(f, logger, "0", secret).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(&fakeTrader{}, ""), http.MethodGet, "/api/health", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "open", body["stream"])
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestContractsSortedBySymbol(t *testing.T) {
	rec := do(t, newTestServer(&fakeTrader{}, ""), http.MethodGet, "/api/contracts", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var contracts []models.Contract
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &contracts))
	require.Len(t, contracts, 2)
	assert.Equal(t, "BTCUSDT", contracts[0].Symbol)
}

func TestWatchlistRoutes(t *testing.T) {
	f := &fakeTrader{}
	h := newTestServer(f, "")

	rec := do(t, h, http.MethodPost, "/api/watchlist", `{"symbol":"btcusdt"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, f.watchlist, 1)

	rec = do(t, h, http.MethodPost, "/api/watchlist", `{"symbol":"nope"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/watchlist", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/watchlist/btcusdt", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"BTCUSDT"}, f.removed)

	rec = do(t, h, http.MethodPut, "/api/watchlist", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStrategyRoutes(t *testing.T) {
	f := &fakeTrader{}
	h := newTestServer(f, "")

	rec := do(t, h, http.MethodPost, "/api/strategies",
		`{"kind":"breakout","symbol":"btcusdt","timeframe":"1m","balance_pct":10,"take_profit":2,"stop_loss":1}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created strategy.Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "generated", created.ID)
	assert.Equal(t, "BTCUSDT", created.Symbol)
	assert.Equal(t, strategy.KindBreakout, created.Kind)

	rec = do(t, h, http.MethodPost, "/api/strategies", `{"kind":"breakout","symbol":"BTCUSDT"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/strategies", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []strategy.Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed, 1)

	rec = do(t, h, http.MethodDelete, "/api/strategies/generated", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/strategies/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogsAreDrained(t *testing.T) {
	f := &fakeTrader{logs: []trader.LogEntry{{Message: "hello", Time: time.Unix(0, 0)}}}
	h := newTestServer(f, "")

	rec := do(t, h, http.MethodGet, "/api/logs", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hello")

	rec = do(t, h, http.MethodGet, "/api/logs", "", nil)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/trades", "", nil)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestBalancesErrors(t *testing.T) {
	f := &fakeTrader{balancesErr: binance.ErrTransport}
	rec := do(t, newTestServer(f, ""), http.MethodGet, "/api/balances", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	f.balancesErr = &binance.APIError{StatusCode: http.StatusUnauthorized}
	rec = do(t, newTestServer(f, ""), http.MethodGet, "/api/balances", "", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	f.balancesErr = nil
	rec = do(t, newTestServer(f, ""), http.MethodGet, "/api/balances", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBearerAuth(t *testing.T) {
	const secret = "top-secret"
	h := newTestServer(&fakeTrader{}, secret)

	rec := do(t, h, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/contracts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	sign := func(key string, method jwt.SigningMethod, exp time.Time) string {
		token := jwt.NewWithClaims(method, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)})
		s, err := token.SignedString([]byte(key))
		require.NoError(t, err)
		return s
	}
	bearer := func(token string) http.Header {
		return http.Header{"Authorization": {"Bearer " + token}}
	}

	rec = do(t, h, http.MethodGet, "/api/contracts", "", bearer(sign(secret, jwt.SigningMethodHS256, time.Now().Add(time.Hour))))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/contracts", "", bearer(sign("wrong", jwt.SigningMethodHS256, time.Now().Add(time.Hour))))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/contracts", "", bearer(sign(secret, jwt.SigningMethodHS256, time.Now().Add(-time.Hour))))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/contracts", "", bearer(sign(secret, jwt.SigningMethodHS512, time.Now().Add(time.Hour))))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	rec := do(t, newTestServer(&fakeTrader{}, "secret"), http.MethodOptions, "/api/strategies", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}
