package binance

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/RedKier/crypto-trading-bot/pkg/models"
)

const orderEndpoint = "/fapi/v1/order"

// PlaceOrder submits a new order. Price and time in force are only sent
// when set; the exchange decides whether they are required.
func (c *Client) PlaceOrder(ctx context.Context, contract models.Contract, req models.OrderRequest) (*models.OrderStatus, error) {
	params := url.Values{}
	params.Set("symbol", contract.Symbol)
	params.Set("side", models.NormalizeSide(req.Side))
	params.Set("quantity", formatDecimal(req.Quantity, contract.QuantityDecimals))
	params.Set("type", string(req.Type))
	if req.Price != nil {
		params.Set("price", formatDecimal(*req.Price, contract.PriceDecimals))
	}
	if req.TimeInForce != "" {
		params.Set("timeInForce", req.TimeInForce)
	}

	status, err := c.orderRequest(ctx, http.MethodPost, params)
	if err != nil {
		return nil, err
	}
	c.logger.WithFields(logrus.Fields{
		"symbol":   contract.Symbol,
		"side":     params.Get("side"),
		"type":     req.Type,
		"order_id": status.OrderID,
		"status":   status.Status,
	}).Info("Order placed")
	return status, nil
}

func (c *Client) CancelOrder(ctx context.Context, contract models.Contract, orderID int64) (*models.OrderStatus, error) {
	params := url.Values{}
	params.Set("symbol", contract.Symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	return c.orderRequest(ctx, http.MethodDelete, params)
}

func (c *Client) GetOrderStatus(ctx context.Context, contract models.Contract, orderID int64) (*models.OrderStatus, error) {
	params := url.Values{}
	params.Set("symbol", contract.Symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	return c.orderRequest(ctx, http.MethodGet, params)
}

func (c *Client) orderRequest(ctx context.Context, method string, params url.Values) (*models.OrderStatus, error) {
	body, err := c.makeRequest(ctx, method, orderEndpoint, params, true)
	if err != nil {
		return nil, err
	}
	status, err := ParseOrderStatus(body)
	if err != nil {
		c.logger.WithError(err).WithField("method", method).Error("Failed to map order status")
		return nil, err
	}
	return &status, nil
}

// formatDecimal renders v with at most places decimals, the way the
// exchange expects prices and quantities.
func formatDecimal(v float64, places int) string {
	return decimal.NewFromFloat(v).Round(int32(places)).String()
}
