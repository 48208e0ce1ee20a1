package trader

import (
	"fmt"
	"sync"

	"github.com/RedKier/crypto-trading-bot/pkg/models"
)

// TradeBook owns one strategy's trades. Trades are never removed; readers
// get copies.
type TradeBook struct {
	mu     sync.RWMutex
	trades []models.Trade
}

func NewTradeBook() *TradeBook {
	return &TradeBook{}
}

func (b *TradeBook) Add(t models.Trade) {
	b.mu.Lock()
	b.trades = append(b.trades, t)
	b.mu.Unlock()
}

// Update applies fn to the trade with the given id under the book lock.
func (b *TradeBook) Update(id string, fn func(*models.Trade)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.trades {
		if b.trades[i].ID == id {
			fn(&b.trades[i])
			return nil
		}
	}
	return fmt.Errorf("trade %s not found", id)
}

func (b *TradeBook) Snapshot() []models.Trade {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.Trade, len(b.trades))
	copy(out, b.trades)
	return out
}

// Open returns the trades still open.
func (b *TradeBook) Open() []models.Trade {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []models.Trade
	for _, t := range b.trades {
		if t.Status == models.TradeStatusOpen {
			out = append(out, t)
		}
	}
	return out
}

// UpdatePnL revalues every open trade with a known entry price at mark and
// returns how many trades were revalued. Trades awaiting their fill are
// left untouched.
func (b *TradeBook) UpdatePnL(mark float64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for i := range b.trades {
		if pnl, ok := b.trades[i].ComputePnL(mark); ok {
			b.trades[i].PnL = pnl
			n++
		}
	}
	return n
}
