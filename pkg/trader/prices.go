package trader

import (
	"sync"

	"github.com/RedKier/crypto-trading-bot/pkg/models"
)

// PriceCache holds the latest bid/ask per symbol. It is the only source of
// mark prices; entries are created on first write and never removed.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]models.Price
}

func NewPriceCache() *PriceCache {
	return &PriceCache{
		prices: make(map[string]models.Price),
	}
}

// Update creates or overwrites the entry for symbol and returns it.
func (c *PriceCache) Update(symbol string, bid, ask float64) models.Price {
	p := models.Price{Bid: bid, Ask: ask}
	c.mu.Lock()
	c.prices[symbol] = p
	c.mu.Unlock()
	return p
}

func (c *PriceCache) Get(symbol string) (models.Price, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[symbol]
	return p, ok
}

// Snapshot returns a copy of every entry.
func (c *PriceCache) Snapshot() map[string]models.Price {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]models.Price, len(c.prices))
	for k, v := range c.prices {
		out[k] = v
	}
	return out
}
