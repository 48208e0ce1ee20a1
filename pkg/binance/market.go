package binance

import (
	"context"
	"net/http"
	"net/url"

	"github.com/RedKier/crypto-trading-bot/pkg/models"
)

const historicalCandleLimit = "1000"

func (c *Client) GetContracts(ctx context.Context) (map[string]models.Contract, error) {
	body, err := c.makeRequest(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false)
	if err != nil {
		return nil, err
	}
	contracts, err := ParseContracts(body)
	if err != nil {
		c.logger.WithError(err).Error("Failed to map exchange info")
		return nil, err
	}
	return contracts, nil
}

func (c *Client) GetHistoricalCandles(ctx context.Context, contract models.Contract, interval string) ([]models.Candle, error) {
	params := url.Values{}
	params.Set("symbol", contract.Symbol)
	params.Set("interval", interval)
	params.Set("limit", historicalCandleLimit)

	body, err := c.makeRequest(ctx, http.MethodGet, "/fapi/v1/klines", params, false)
	if err != nil {
		return nil, err
	}
	candles, err := ParseCandles(body, interval)
	if err != nil {
		c.logger.WithError(err).WithField("symbol", contract.Symbol).Error("Failed to map klines")
		return nil, err
	}
	return candles, nil
}

// GetBidAsk fetches the best bid/ask snapshot and, when a price writer is
// attached, stores it there.
func (c *Client) GetBidAsk(ctx context.Context, contract models.Contract) (models.Price, error) {
	params := url.Values{}
	params.Set("symbol", contract.Symbol)

	body, err := c.makeRequest(ctx, http.MethodGet, "/fapi/v1/ticker/bookTicker", params, false)
	if err != nil {
		return models.Price{}, err
	}
	price, err := ParseBidAsk(body)
	if err != nil {
		c.logger.WithError(err).WithField("symbol", contract.Symbol).Error("Failed to map book ticker")
		return models.Price{}, err
	}
	if c.prices != nil {
		return c.prices.Update(contract.Symbol, price.Bid, price.Ask), nil
	}
	return price, nil
}

// GetBalances returns a fresh snapshot of every account asset.
func (c *Client) GetBalances(ctx context.Context) (map[string]models.Balance, error) {
	body, err := c.makeRequest(ctx, http.MethodGet, "/fapi/v1/account", nil, true)
	if err != nil {
		return nil, err
	}
	balances, err := ParseBalances(body)
	if err != nil {
		c.logger.WithError(err).Error("Failed to map account balances")
		return nil, err
	}
	return balances, nil
}
