package strategy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/RedKier/crypto-trading-bot/pkg/models"
	"github.com/RedKier/crypto-trading-bot/pkg/trader"
)

// Exchange is the subset of the REST client a strategy trades through.
type Exchange interface {
	GetHistoricalCandles(ctx context.Context, contract models.Contract, interval string) ([]models.Candle, error)
	GetTradeSize(ctx context.Context, contract models.Contract, price, balancePct float64) (float64, error)
	PlaceOrder(ctx context.Context, contract models.Contract, req models.OrderRequest) (*models.OrderStatus, error)
	GetOrderStatus(ctx context.Context, contract models.Contract, orderID int64) (*models.OrderStatus, error)
}

type Kind string

const (
	KindTechnical Kind = "technical"
	KindBreakout  Kind = "breakout"
)

// Config is the persisted parameter set of one strategy instance.
type Config struct {
	ID         string             `json:"id"`
	Kind       Kind               `json:"kind"`
	Symbol     string             `json:"symbol"`
	Timeframe  string             `json:"timeframe"`
	BalancePct float64            `json:"balance_pct"`
	TakeProfit float64            `json:"take_profit"`
	StopLoss   float64            `json:"stop_loss"`
	Extra      map[string]float64 `json:"extra,omitempty"`
}

func (c Config) extra(key string, def float64) float64 {
	if v, ok := c.Extra[key]; ok {
		return v
	}
	return def
}

// Instance is a strategy the bot can register, load and stop.
type Instance interface {
	trader.Strategy
	Config() Config
	LoadHistory(ctx context.Context) error
	Stop()
}

type TickType int

const (
	TickSameCandle TickType = iota
	TickNewCandle
	TickParseNewCandle
)

var timeframes = map[string]int64{
	"1m":  60_000,
	"5m":  300_000,
	"15m": 900_000,
	"30m": 1_800_000,
	"1h":  3_600_000,
	"4h":  14_400_000,
}

// Signal is 1 for long, -1 for short, 0 for no entry.
type Signal int

const (
	SignalNone  Signal = 0
	SignalLong  Signal = 1
	SignalShort Signal = -1
)

// evaluator decides whether to enter after a tick. candles ends with the
// candle still being built.
type evaluator func(tick TickType, candles []models.Candle) Signal

// Base holds what every strategy shares: candle aggregation from trade
// prints, position entry and take-profit/stop-loss exits.
type Base struct {
	cfg      Config
	contract models.Contract
	tfEquiv  int64
	exchange Exchange
	evaluate evaluator
	trades   *trader.TradeBook
	logs     *trader.LogBook
	logger   *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	pollInterval time.Duration
	now          func() time.Time

	mu         sync.Mutex
	candles    []models.Candle
	ongoing    bool
	stopped    bool
	exiting    map[string]bool
	maxCandles int
}

func newBase(cfg Config, contract models.Contract, exchange Exchange, logger *logrus.Logger, eval evaluator) (*Base, error) {
	tfEquiv, ok := timeframes[cfg.Timeframe]
	if !ok {
		return nil, fmt.Errorf("unsupported timeframe %q", cfg.Timeframe)
	}
	if cfg.BalancePct <= 0 || cfg.BalancePct > 100 {
		return nil, fmt.Errorf("balance percentage must be in (0, 100], got %v", cfg.BalancePct)
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	cfg.Symbol = contract.Symbol
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Base{
		cfg:          cfg,
		contract:     contract,
		tfEquiv:      tfEquiv,
		exchange:     exchange,
		evaluate:     eval,
		trades:       trader.NewTradeBook(),
		logs:         trader.NewLogBook(logger),
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		pollInterval: 2 * time.Second,
		now:          time.Now,
		exiting:      make(map[string]bool),
		maxCandles:   1000,
	}, nil
}

func (b *Base) Config() Config { return b.cfg }

func (b *Base) Contract() models.Contract { return b.contract }

func (b *Base) Trades() *trader.TradeBook { return b.trades }

func (b *Base) Logs() *trader.LogBook { return b.logs }

func (b *Base) label() string { return b.contract.Symbol + " " + b.cfg.Timeframe }

// LoadHistory seeds the candle series from the REST klines endpoint.
func (b *Base) LoadHistory(ctx context.Context) error {
	candles, err := b.exchange.GetHistoricalCandles(ctx, b.contract, b.cfg.Timeframe)
	if err != nil {
		return fmt.Errorf("failed to load %s candles: %w", b.label(), err)
	}
	b.mu.Lock()
	b.candles = candles
	b.mu.Unlock()
	return nil
}

// Stop cancels pending order polling and waits for in-flight order work.
// No order work starts once Stop has been called.
func (b *Base) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
}

func (b *Base) Candles() []models.Candle {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Candle, len(b.candles))
	copy(out, b.candles)
	return out
}

// OnAggTrade folds one trade print into the candle series, checks exits for
// open trades and, when the variant signals, opens a position. Order calls
// run in the background so the stream is never held up.
func (b *Base) OnAggTrade(price, size float64, ts int64) error {
	if lag := b.now().UnixMilli() - ts; lag >= 2000 {
		b.logger.WithFields(logrus.Fields{
			"symbol": b.contract.Symbol,
			"lag_ms": lag,
		}).Warn("Most recent trades are lagging behind")
	}

	signal, last := b.ingest(price, size, ts)

	b.checkExits(last.Close)

	if signal != SignalNone && !b.spawn(func() { b.openPosition(signal, last.Close) }) {
		b.setOngoing(false)
	}
	return nil
}

// ingest updates the candles and evaluates the entry signal under b.mu. The
// lock is released even if the evaluator panics.
func (b *Base) ingest(price, size float64, ts int64) (Signal, models.Candle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tick := b.parseTrade(price, size, ts)
	signal := SignalNone
	if !b.ongoing && !b.stopped {
		signal = b.evaluate(tick, b.candles)
		if signal != SignalNone {
			b.ongoing = true
		}
	}
	return signal, b.candles[len(b.candles)-1]
}

// spawn runs fn as tracked order work. It reports false after Stop.
func (b *Base) spawn(fn func()) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return false
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
	return true
}

// parseTrade must be called with b.mu held.
func (b *Base) parseTrade(price, size float64, ts int64) TickType {
	if len(b.candles) == 0 {
		b.appendCandle(ts-ts%b.tfEquiv, price, price, size)
		return TickNewCandle
	}

	last := &b.candles[len(b.candles)-1]
	switch {
	case ts < last.Timestamp+b.tfEquiv:
		last.Close = price
		last.Volume += size
		if price > last.High {
			last.High = price
		} else if price < last.Low {
			last.Low = price
		}
		return TickSameCandle

	case ts >= last.Timestamp+2*b.tfEquiv:
		missing := int((ts-last.Timestamp)/b.tfEquiv) - 1
		prev := *last
		for i := 0; i < missing; i++ {
			b.appendCandle(prev.Timestamp+b.tfEquiv, prev.Close, prev.Close, 0)
			prev = b.candles[len(b.candles)-1]
		}
		b.appendCandle(prev.Timestamp+b.tfEquiv, price, price, size)
		return TickParseNewCandle

	default:
		b.appendCandle(last.Timestamp+b.tfEquiv, price, price, size)
		return TickNewCandle
	}
}

func (b *Base) appendCandle(ts int64, openPrice, closePrice, volume float64) {
	b.candles = append(b.candles, models.Candle{
		Timestamp: ts,
		Open:      openPrice,
		High:      max(openPrice, closePrice),
		Low:       min(openPrice, closePrice),
		Close:     closePrice,
		Volume:    volume,
		Timeframe: b.cfg.Timeframe,
		Source:    models.CandleSourceAggregate,
	})
	if len(b.candles) > b.maxCandles {
		b.candles = b.candles[len(b.candles)-b.maxCandles:]
	}
}

func (b *Base) checkExits(price float64) {
	for _, t := range b.trades.Open() {
		t := t
		if t.EntryPrice == nil {
			continue
		}
		stopLoss, takeProfit := exitTriggered(t, price, b.cfg.StopLoss, b.cfg.TakeProfit)
		if !stopLoss && !takeProfit {
			continue
		}

		b.mu.Lock()
		if b.exiting[t.ID] {
			b.mu.Unlock()
			continue
		}
		b.exiting[t.ID] = true
		b.mu.Unlock()

		reason := "Take profit"
		if stopLoss {
			reason = "Stop loss"
		}
		b.logs.Add(fmt.Sprintf("%s for %s | Current Price = %v (Entry price was %v)", reason, b.label(), price, *t.EntryPrice))

		if !b.spawn(func() { b.closeTrade(t) }) {
			b.mu.Lock()
			delete(b.exiting, t.ID)
			b.mu.Unlock()
		}
	}
}

// exitTriggered compares price to the entry price using the configured
// percentages; a zero percentage disables that side.
func exitTriggered(t models.Trade, price, stopLossPct, takeProfitPct float64) (stopLoss, takeProfit bool) {
	entry := *t.EntryPrice
	switch t.Side {
	case models.TradeSideLong:
		stopLoss = stopLossPct > 0 && price <= entry*(1-stopLossPct/100)
		takeProfit = takeProfitPct > 0 && price >= entry*(1+takeProfitPct/100)
	case models.TradeSideShort:
		stopLoss = stopLossPct > 0 && price >= entry*(1+stopLossPct/100)
		takeProfit = takeProfitPct > 0 && price <= entry*(1-takeProfitPct/100)
	}
	return stopLoss, takeProfit
}

func (b *Base) closeTrade(t models.Trade) {
	side := models.OrderSideSell
	if t.Side == models.TradeSideShort {
		side = models.OrderSideBuy
	}

	_, err := b.exchange.PlaceOrder(b.ctx, b.contract, models.OrderRequest{
		Type:     models.OrderTypeMarket,
		Quantity: t.Quantity,
		Side:     string(side),
	})

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.exiting, t.ID)
	if err != nil {
		b.logs.Add(fmt.Sprintf("Exit order on %s failed: %v", b.label(), err))
		return
	}

	_ = b.trades.Update(t.ID, func(tr *models.Trade) {
		tr.Status = models.TradeStatusClosed
	})
	b.ongoing = false
	b.logs.Add(fmt.Sprintf("Exit order on %s placed successfully", b.label()))
}

func (b *Base) openPosition(signal Signal, price float64) {
	size, err := b.exchange.GetTradeSize(b.ctx, b.contract, price, b.cfg.BalancePct)
	if err != nil || size <= 0 {
		b.logger.WithError(err).WithField("symbol", b.contract.Symbol).Warn("No trade size available, skipping signal")
		b.setOngoing(false)
		return
	}

	orderSide, positionSide := models.OrderSideBuy, models.TradeSideLong
	if signal == SignalShort {
		orderSide, positionSide = models.OrderSideSell, models.TradeSideShort
	}
	b.logs.Add(fmt.Sprintf("%s signal on %s", capitalize(string(positionSide)), b.label()))

	status, err := b.exchange.PlaceOrder(b.ctx, b.contract, models.OrderRequest{
		Type:     models.OrderTypeMarket,
		Quantity: size,
		Side:     string(orderSide),
	})
	if err != nil {
		b.logs.Add(fmt.Sprintf("%s order on %s failed: %v", capitalize(string(orderSide)), b.label(), err))
		b.setOngoing(false)
		return
	}
	b.logs.Add(fmt.Sprintf("%s order placed on %s | Status: %s", capitalize(string(orderSide)), b.contract.Exchange, status.Status))

	trade := models.Trade{
		ID:       uuid.NewString(),
		Time:     b.now().UnixMilli(),
		Contract: b.contract,
		Strategy: b.cfg.ID,
		Side:     positionSide,
		Status:   models.TradeStatusOpen,
		Quantity: size,
		EntryID:  status.OrderID,
	}
	if status.Filled() {
		avg := status.AvgPrice
		trade.EntryPrice = &avg
		b.trades.Add(trade)
		return
	}
	b.trades.Add(trade)
	b.awaitFill(trade.ID, status.OrderID)
}

// awaitFill polls the entry order until it is filled, then records the
// average fill price on the trade.
func (b *Base) awaitFill(tradeID string, orderID int64) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
		}

		status, err := b.exchange.GetOrderStatus(b.ctx, b.contract, orderID)
		if err != nil {
			continue
		}
		switch status.Status {
		case models.OrderStatusCanceled, models.OrderStatusRejected, models.OrderStatusExpired:
			_ = b.trades.Update(tradeID, func(t *models.Trade) {
				t.Status = models.TradeStatusClosed
			})
			b.setOngoing(false)
			b.logs.Add(fmt.Sprintf("Entry order %d on %s ended as %s", orderID, b.label(), status.Status))
			return
		}
		if !status.Filled() {
			continue
		}
		avg := status.AvgPrice
		_ = b.trades.Update(tradeID, func(t *models.Trade) {
			t.EntryPrice = &avg
		})
		b.logs.Add(fmt.Sprintf("Entry order %d on %s filled at %v", orderID, b.label(), avg))
		return
	}
}

func (b *Base) setOngoing(v bool) {
	b.mu.Lock()
	b.ongoing = v
	b.mu.Unlock()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToLower(s)
	return strings.ToUpper(s[:1]) + s[1:]
}
