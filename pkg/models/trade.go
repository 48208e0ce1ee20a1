package models

type TradeSide string

const (
	TradeSideLong  TradeSide = "long"
	TradeSideShort TradeSide = "short"
)

type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "open"
	TradeStatusClosed TradeStatus = "closed"
)

type Trade struct {
	ID         string
	Time       int64
	Contract   Contract
	Strategy   string
	Side       TradeSide
	EntryPrice *float64 // nil until the entry order is filled
	Status     TradeStatus
	PnL        float64
	Quantity   float64
	EntryID    int64
}

// ComputePnL values the trade at mark. ok is false while the entry is unknown
// or the trade is no longer open.
func (t Trade) ComputePnL(mark float64) (pnl float64, ok bool) {
	if t.Status != TradeStatusOpen || t.EntryPrice == nil {
		return 0, false
	}
	entry := *t.EntryPrice
	switch t.Side {
	case TradeSideLong:
		return (mark - entry) * t.Quantity, true
	case TradeSideShort:
		return (entry - mark) * t.Quantity, true
	default:
		return 0, false
	}
}
