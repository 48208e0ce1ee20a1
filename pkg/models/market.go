package models

import (
	"github.com/shopspring/decimal"
)

const ExchangeBinance = "binance"

type Contract struct {
	Symbol           string
	BaseAsset        string
	QuoteAsset       string
	PriceDecimals    int
	QuantityDecimals int
	TickSize         float64
	LotSize          float64
	Exchange         string
}

// NewContract derives tick and lot size from the decimal precisions.
func NewContract(symbol, baseAsset, quoteAsset string, priceDecimals, quantityDecimals int, exchange string) Contract {
	return Contract{
		Symbol:           symbol,
		BaseAsset:        baseAsset,
		QuoteAsset:       quoteAsset,
		PriceDecimals:    priceDecimals,
		QuantityDecimals: quantityDecimals,
		TickSize:         decimal.New(1, int32(-priceDecimals)).InexactFloat64(),
		LotSize:          decimal.New(1, int32(-quantityDecimals)).InexactFloat64(),
		Exchange:         exchange,
	}
}

type Balance struct {
	Asset             string
	InitialMargin     float64
	MaintenanceMargin float64
	MarginBalance     float64
	WalletBalance     float64
	UnrealizedProfit  float64
}

type CandleSource string

const (
	CandleSourceBinance   CandleSource = "binance"
	CandleSourceAggregate CandleSource = "aggregate"
)

type Candle struct {
	Timestamp int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Timeframe string
	Source    CandleSource
}

type Price struct {
	Bid float64
	Ask float64
}

type BookTicker struct {
	Symbol string
	Bid    float64
	Ask    float64
}

type AggTrade struct {
	Symbol   string
	Price    float64
	Quantity float64
	Time     int64
}
