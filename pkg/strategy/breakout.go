package strategy

import (
	"github.com/sirupsen/logrus"

	"github.com/RedKier/crypto-trading-bot/pkg/models"
)

// Breakout enters when the building candle closes beyond the previous
// candle's range on enough volume. It is evaluated on every tick.
type Breakout struct {
	*Base
	minVolume float64
}

func NewBreakout(cfg Config, contract models.Contract, exchange Exchange, logger *logrus.Logger) (*Breakout, error) {
	cfg.Kind = KindBreakout
	s := &Breakout{
		minVolume: cfg.extra("min_volume", 0),
	}
	base, err := newBase(cfg, contract, exchange, logger, s.evaluate)
	if err != nil {
		return nil, err
	}
	s.Base = base
	return s, nil
}

func (s *Breakout) evaluate(_ TickType, candles []models.Candle) Signal {
	if len(candles) < 2 {
		return SignalNone
	}
	last, prev := candles[len(candles)-1], candles[len(candles)-2]
	switch {
	case last.Close > prev.High && last.Volume > s.minVolume:
		return SignalLong
	case last.Close < prev.Low && last.Volume > s.minVolume:
		return SignalShort
	default:
		return SignalNone
	}
}
