package binance

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/RedKier/crypto-trading-bot/pkg/models"
)

var (
	ErrMissingField = errors.New("missing field")
	ErrNotFinite    = errors.New("non-finite number")
)

// MappingError reports a required field that is absent or malformed in an
// exchange payload.
type MappingError struct {
	Entity string
	Field  string
	Err    error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("binance: map %s: field %q: %v", e.Entity, e.Field, e.Err)
}

func (e *MappingError) Unwrap() error {
	return e.Err
}

type object struct {
	entity string
	fields map[string]json.RawMessage
}

func decodeObject(entity string, raw []byte) (object, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return object{}, &MappingError{Entity: entity, Field: "", Err: err}
	}
	if fields == nil {
		return object{}, &MappingError{Entity: entity, Field: "", Err: errors.New("null payload")}
	}
	return object{entity: entity, fields: fields}, nil
}

func (o object) raw(field string) (json.RawMessage, error) {
	v, ok := o.fields[field]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil, &MappingError{Entity: o.entity, Field: field, Err: ErrMissingField}
	}
	return v, nil
}

func (o object) floatField(field string) (float64, error) {
	v, err := o.raw(field)
	if err != nil {
		return 0, err
	}
	f, err := parseNumber(v)
	if err != nil {
		return 0, &MappingError{Entity: o.entity, Field: field, Err: err}
	}
	return f, nil
}

func (o object) intField(field string) (int64, error) {
	v, err := o.raw(field)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := json.Unmarshal(v, &n); err != nil {
		return 0, &MappingError{Entity: o.entity, Field: field, Err: err}
	}
	return n, nil
}

func (o object) stringField(field string) (string, error) {
	v, err := o.raw(field)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", &MappingError{Entity: o.entity, Field: field, Err: err}
	}
	return s, nil
}

// parseNumber accepts both JSON numbers and numeric strings; the exchange
// sends prices and quantities as strings. NaN and infinities are rejected.
func parseNumber(v json.RawMessage) (float64, error) {
	v = bytes.TrimSpace(v)
	if len(v) > 0 && v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return 0, err
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, ErrNotFinite
		}
		return f, nil
	}
	var f float64
	err := json.Unmarshal(v, &f)
	return f, err
}

// ParseContracts maps an exchangeInfo payload to contracts keyed by symbol.
func ParseContracts(raw []byte) (map[string]models.Contract, error) {
	info, err := decodeObject("exchangeInfo", raw)
	if err != nil {
		return nil, err
	}
	symbols, err := info.raw("symbols")
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(symbols, &items); err != nil {
		return nil, &MappingError{Entity: "exchangeInfo", Field: "symbols", Err: err}
	}

	contracts := make(map[string]models.Contract, len(items))
	for _, item := range items {
		contract, err := ParseContract(item)
		if err != nil {
			return nil, err
		}
		contracts[contract.Symbol] = contract
	}
	return contracts, nil
}

func ParseContract(raw []byte) (models.Contract, error) {
	o, err := decodeObject("contract", raw)
	if err != nil {
		return models.Contract{}, err
	}
	symbol, err := o.stringField("symbol")
	if err != nil {
		return models.Contract{}, err
	}
	base, err := o.stringField("baseAsset")
	if err != nil {
		return models.Contract{}, err
	}
	quote, err := o.stringField("quoteAsset")
	if err != nil {
		return models.Contract{}, err
	}
	priceDecimals, err := o.intField("pricePrecision")
	if err != nil {
		return models.Contract{}, err
	}
	quantityDecimals, err := o.intField("quantityPrecision")
	if err != nil {
		return models.Contract{}, err
	}
	return models.NewContract(symbol, base, quote, int(priceDecimals), int(quantityDecimals), models.ExchangeBinance), nil
}

// ParseBalances maps an account payload to balances keyed by asset.
func ParseBalances(raw []byte) (map[string]models.Balance, error) {
	account, err := decodeObject("account", raw)
	if err != nil {
		return nil, err
	}
	assets, err := account.raw("assets")
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(assets, &items); err != nil {
		return nil, &MappingError{Entity: "account", Field: "assets", Err: err}
	}

	balances := make(map[string]models.Balance, len(items))
	for _, item := range items {
		balance, err := ParseBalance(item)
		if err != nil {
			return nil, err
		}
		balances[balance.Asset] = balance
	}
	return balances, nil
}

func ParseBalance(raw []byte) (models.Balance, error) {
	o, err := decodeObject("balance", raw)
	if err != nil {
		return models.Balance{}, err
	}
	var b models.Balance
	if b.Asset, err = o.stringField("asset"); err != nil {
		return models.Balance{}, err
	}
	if b.InitialMargin, err = o.floatField("initialMargin"); err != nil {
		return models.Balance{}, err
	}
	if b.MaintenanceMargin, err = o.floatField("maintMargin"); err != nil {
		return models.Balance{}, err
	}
	if b.MarginBalance, err = o.floatField("marginBalance"); err != nil {
		return models.Balance{}, err
	}
	if b.WalletBalance, err = o.floatField("walletBalance"); err != nil {
		return models.Balance{}, err
	}
	if b.UnrealizedProfit, err = o.floatField("unrealizedProfit"); err != nil {
		return models.Balance{}, err
	}
	return b, nil
}

// ParseCandles maps a klines payload (array of arrays).
func ParseCandles(raw []byte, interval string) ([]models.Candle, error) {
	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, &MappingError{Entity: "klines", Field: "", Err: err}
	}
	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		candle, err := ParseCandle(row, interval, models.CandleSourceBinance)
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// ParseCandle dispatches on source: kline arrays from the REST API or
// object-shaped bars built from aggregated trades.
func ParseCandle(raw []byte, timeframe string, source models.CandleSource) (models.Candle, error) {
	switch source {
	case models.CandleSourceBinance:
		return parseKline(raw, timeframe)
	case models.CandleSourceAggregate:
		return parseAggregateBar(raw, timeframe)
	default:
		return models.Candle{}, &MappingError{Entity: "candle", Field: "source", Err: fmt.Errorf("unknown source %q", source)}
	}
}

func parseKline(raw []byte, timeframe string) (models.Candle, error) {
	var cols []json.RawMessage
	if err := json.Unmarshal(raw, &cols); err != nil {
		return models.Candle{}, &MappingError{Entity: "kline", Field: "", Err: err}
	}
	names := []string{"open_time", "open", "high", "low", "close", "volume"}
	if len(cols) < len(names) {
		return models.Candle{}, &MappingError{Entity: "kline", Field: names[len(cols)], Err: ErrMissingField}
	}

	values := make([]float64, len(names))
	for i, name := range names {
		v, err := parseNumber(cols[i])
		if err != nil {
			return models.Candle{}, &MappingError{Entity: "kline", Field: name, Err: err}
		}
		values[i] = v
	}

	return models.Candle{
		Timestamp: int64(values[0]),
		Open:      values[1],
		High:      values[2],
		Low:       values[3],
		Close:     values[4],
		Volume:    values[5],
		Timeframe: timeframe,
		Source:    models.CandleSourceBinance,
	}, nil
}

func parseAggregateBar(raw []byte, timeframe string) (models.Candle, error) {
	o, err := decodeObject("bar", raw)
	if err != nil {
		return models.Candle{}, err
	}
	c := models.Candle{Timeframe: timeframe, Source: models.CandleSourceAggregate}
	if c.Timestamp, err = o.intField("ts"); err != nil {
		return models.Candle{}, err
	}
	if c.Open, err = o.floatField("open"); err != nil {
		return models.Candle{}, err
	}
	if c.High, err = o.floatField("high"); err != nil {
		return models.Candle{}, err
	}
	if c.Low, err = o.floatField("low"); err != nil {
		return models.Candle{}, err
	}
	if c.Close, err = o.floatField("close"); err != nil {
		return models.Candle{}, err
	}
	if c.Volume, err = o.floatField("volume"); err != nil {
		return models.Candle{}, err
	}
	return c, nil
}

// ParseOrderStatus maps an order payload; the status is lower-cased.
func ParseOrderStatus(raw []byte) (models.OrderStatus, error) {
	o, err := decodeObject("order", raw)
	if err != nil {
		return models.OrderStatus{}, err
	}
	var s models.OrderStatus
	if s.OrderID, err = o.intField("orderId"); err != nil {
		return models.OrderStatus{}, err
	}
	status, err := o.stringField("status")
	if err != nil {
		return models.OrderStatus{}, err
	}
	s.Status = strings.ToLower(status)
	if s.AvgPrice, err = o.floatField("avgPrice"); err != nil {
		return models.OrderStatus{}, err
	}
	return s, nil
}

// ParseBidAsk maps a REST bookTicker snapshot.
func ParseBidAsk(raw []byte) (models.Price, error) {
	o, err := decodeObject("bookTicker", raw)
	if err != nil {
		return models.Price{}, err
	}
	var p models.Price
	if p.Bid, err = o.floatField("bidPrice"); err != nil {
		return models.Price{}, err
	}
	if p.Ask, err = o.floatField("askPrice"); err != nil {
		return models.Price{}, err
	}
	return p, nil
}

// ParseBookTicker maps a streamed bookTicker event.
func ParseBookTicker(raw []byte) (models.BookTicker, error) {
	o, err := decodeObject("bookTicker event", raw)
	if err != nil {
		return models.BookTicker{}, err
	}
	var ev models.BookTicker
	if ev.Symbol, err = o.stringField("s"); err != nil {
		return models.BookTicker{}, err
	}
	if ev.Bid, err = o.floatField("b"); err != nil {
		return models.BookTicker{}, err
	}
	if ev.Ask, err = o.floatField("a"); err != nil {
		return models.BookTicker{}, err
	}
	return ev, nil
}

// ParseAggTrade maps a streamed aggTrade event.
func ParseAggTrade(raw []byte) (models.AggTrade, error) {
	o, err := decodeObject("aggTrade event", raw)
	if err != nil {
		return models.AggTrade{}, err
	}
	var ev models.AggTrade
	if ev.Symbol, err = o.stringField("s"); err != nil {
		return models.AggTrade{}, err
	}
	if ev.Price, err = o.floatField("p"); err != nil {
		return models.AggTrade{}, err
	}
	if ev.Quantity, err = o.floatField("q"); err != nil {
		return models.AggTrade{}, err
	}
	if ev.Time, err = o.intField("T"); err != nil {
		return models.AggTrade{}, err
	}
	return ev, nil
}
