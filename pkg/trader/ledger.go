package trader

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/RedKier/crypto-trading-bot/pkg/models"
)

const (
	eventBookTicker = "bookTicker"
	eventAggTrade   = "aggTrade"
)

// Strategy is what the ledger needs from a running strategy instance.
type Strategy interface {
	Contract() models.Contract
	OnAggTrade(price, quantity float64, ts int64) error
	Trades() *TradeBook
	Logs() *LogBook
}

// DispatchError wraps a failure raised by one strategy while handling a
// stream event.
type DispatchError struct {
	StrategyID string
	Event      string
	Err        error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("strategy %s: %s: %v", e.StrategyID, e.Event, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

type registered struct {
	id       string
	strategy Strategy
}

// Ledger keeps the strategy registry and routes stream events to it. It
// implements binance.EventHandler.
type Ledger struct {
	prices     *PriceCache
	strategies map[string]Strategy
	order      []string
	logger     *logrus.Logger
	mu         sync.RWMutex
}

func NewLedger(prices *PriceCache, logger *logrus.Logger) *Ledger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Ledger{
		prices:     prices,
		strategies: make(map[string]Strategy),
		logger:     logger,
	}
}

func (l *Ledger) Prices() *PriceCache {
	return l.prices
}

func (l *Ledger) AddStrategy(id string, strategy Strategy) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.strategies[id]; exists {
		return fmt.Errorf("strategy %s already exists", id)
	}

	l.strategies[id] = strategy
	l.order = append(l.order, id)
	l.logger.WithFields(logrus.Fields{
		"strategy_id": id,
		"symbol":      strategy.Contract().Symbol,
	}).Info("Added new strategy")
	return nil
}

func (l *Ledger) RemoveStrategy(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.strategies[id]; !exists {
		return fmt.Errorf("strategy %s not found", id)
	}

	delete(l.strategies, id)
	for i, existing := range l.order {
		if existing == id {
			l.order = append(l.order[:i:i], l.order[i+1:]...)
			break
		}
	}
	l.logger.WithField("strategy_id", id).Info("Removed strategy")
	return nil
}

func (l *Ledger) Strategy(id string) (Strategy, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.strategies[id]
	return s, ok
}

// Strategies returns the registered ids in registration order.
func (l *Ledger) Strategies() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

// snapshot copies the registry so dispatch never iterates a map that a
// concurrent AddStrategy/RemoveStrategy is mutating.
func (l *Ledger) snapshot(symbol string) []registered {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]registered, 0, len(l.order))
	for _, id := range l.order {
		s := l.strategies[id]
		if symbol == "" || s.Contract().Symbol == symbol {
			out = append(out, registered{id: id, strategy: s})
		}
	}
	return out
}

// OnBookTicker stores the new bid/ask, then revalues the open trades of
// every strategy on that symbol. The bid is the mark for both long and
// short trades.
func (l *Ledger) OnBookTicker(ev models.BookTicker) error {
	l.prices.Update(ev.Symbol, ev.Bid, ev.Ask)

	var errs []error
	for _, r := range l.snapshot(ev.Symbol) {
		err := dispatch(r.id, eventBookTicker, func() error {
			r.strategy.Trades().UpdatePnL(ev.Bid)
			return nil
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnAggTrade forwards the print once to every strategy on that symbol.
func (l *Ledger) OnAggTrade(ev models.AggTrade) error {
	var errs []error
	for _, r := range l.snapshot(ev.Symbol) {
		err := dispatch(r.id, eventAggTrade, func() error {
			return r.strategy.OnAggTrade(ev.Price, ev.Quantity, ev.Time)
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Trades returns every trade of every registered strategy.
func (l *Ledger) Trades() []models.Trade {
	var out []models.Trade
	for _, r := range l.snapshot("") {
		out = append(out, r.strategy.Trades().Snapshot()...)
	}
	return out
}

func (l *Ledger) OpenTradeCount() int {
	n := 0
	for _, r := range l.snapshot("") {
		n += len(r.strategy.Trades().Open())
	}
	return n
}

// DrainLogs returns the undisplayed entries of the given books followed by
// those of every strategy, marking them displayed.
func (l *Ledger) DrainLogs(books ...*LogBook) []LogEntry {
	var out []LogEntry
	for _, b := range books {
		out = append(out, b.Undisplayed()...)
	}
	for _, r := range l.snapshot("") {
		out = append(out, r.strategy.Logs().Undisplayed()...)
	}
	return out
}

func dispatch(id, event string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &DispatchError{StrategyID: id, Event: event, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := fn(); err != nil {
		return &DispatchError{StrategyID: id, Event: event, Err: err}
	}
	return nil
}
