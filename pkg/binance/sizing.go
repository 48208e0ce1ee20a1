package binance

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/RedKier/crypto-trading-bot/pkg/models"
)

const sizeDecimals = 8

var ErrNoBalance = errors.New("binance: quote asset balance unavailable")

// GetTradeSize converts balancePct percent of the contract's quote asset
// wallet balance into a quantity at price, snapped to the lot size.
func (c *Client) GetTradeSize(ctx context.Context, contract models.Contract, price, balancePct float64) (float64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("binance: invalid reference price %v", price)
	}

	balances, err := c.GetBalances(ctx)
	if err != nil {
		return 0, err
	}
	balance, ok := balances[contract.QuoteAsset]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoBalance, contract.QuoteAsset)
	}

	size := TradeSize(balance.WalletBalance, balancePct, price, contract.LotSize)

	c.logger.WithFields(logrus.Fields{
		"asset":      contract.QuoteAsset,
		"balance":    balance.WalletBalance,
		"trade_size": size,
	}).Info("Computed trade size")

	return size, nil
}

func TradeSize(balance, balancePct, price, lotSize float64) float64 {
	return SnapToLot((balance*balancePct/100)/price, lotSize)
}

// SnapToLot rounds qty to the nearest multiple of lotSize, ties to even,
// then to eight decimals. SnapToLot(SnapToLot(x, l), l) == SnapToLot(x, l).
func SnapToLot(qty, lotSize float64) float64 {
	q := decimal.NewFromFloat(qty)
	if lotSize > 0 {
		lot := decimal.NewFromFloat(lotSize)
		q = q.Div(lot).RoundBank(0).Mul(lot)
	}
	return q.Round(sizeDecimals).InexactFloat64()
}
