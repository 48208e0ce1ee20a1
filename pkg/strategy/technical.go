package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"
	"github.com/sirupsen/logrus"

	"github.com/RedKier/crypto-trading-bot/pkg/models"
)

// Technical enters long when RSI is oversold and MACD is above its signal
// line, short on the mirror condition. Signals are evaluated on the last
// completed candle, once per new candle.
type Technical struct {
	*Base
	emaFast   int
	emaSlow   int
	emaSignal int
	rsiLength int
}

func NewTechnical(cfg Config, contract models.Contract, exchange Exchange, logger *logrus.Logger) (*Technical, error) {
	cfg.Kind = KindTechnical
	t := &Technical{
		emaFast:   int(cfg.extra("ema_fast", 12)),
		emaSlow:   int(cfg.extra("ema_slow", 26)),
		emaSignal: int(cfg.extra("ema_signal", 9)),
		rsiLength: int(cfg.extra("rsi_length", 14)),
	}
	if t.emaFast < 1 || t.emaSlow < 1 || t.emaSignal < 1 || t.rsiLength < 1 {
		return nil, fmt.Errorf("indicator periods must be at least 1, got fast=%d slow=%d signal=%d rsi=%d",
			t.emaFast, t.emaSlow, t.emaSignal, t.rsiLength)
	}
	if t.emaFast >= t.emaSlow {
		return nil, fmt.Errorf("ema_fast (%d) must be below ema_slow (%d)", t.emaFast, t.emaSlow)
	}
	base, err := newBase(cfg, contract, exchange, logger, t.evaluate)
	if err != nil {
		return nil, err
	}
	t.Base = base
	return t, nil
}

func (t *Technical) evaluate(tick TickType, candles []models.Candle) Signal {
	if tick == TickSameCandle {
		return SignalNone
	}
	return t.signal(candles)
}

func (t *Technical) signal(candles []models.Candle) Signal {
	// the last candle has just opened; indicators use the one before it
	if len(candles) < t.emaSlow+t.emaSignal+1 || len(candles) <= t.rsiLength+1 {
		return SignalNone
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	macd, macdSignal, _ := talib.Macd(closes, t.emaFast, t.emaSlow, t.emaSignal)
	rsi := talib.Rsi(closes, t.rsiLength)

	i := len(closes) - 2
	switch {
	case rsi[i] < 30 && macd[i] > macdSignal[i]:
		return SignalLong
	case rsi[i] > 70 && macd[i] < macdSignal[i]:
		return SignalShort
	default:
		return SignalNone
	}
}
