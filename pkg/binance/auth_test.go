package binance

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignIsDeterministic(t *testing.T) {
	s := NewSigner("key", "secret")

	first := s.Sign("symbol=BTCUSDT&timestamp=1")
	assert.Equal(t, first, s.Sign("symbol=BTCUSDT&timestamp=1"))
	assert.Len(t, first, 64)

	assert.NotEqual(t, first, s.Sign("symbol=BTCUSDT&timestamp=2"))
	assert.NotEqual(t, first, NewSigner("key", "other").Sign("symbol=BTCUSDT&timestamp=1"))
}

func TestSignKnownVector(t *testing.T) {
	// Example from the Binance API documentation.
	s := NewSigner("", "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j")
	payload := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"

	assert.Equal(t, "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71", s.Sign(payload))
}

func TestSignedQueryAppendsSignatureLast(t *testing.T) {
	s := NewSigner("key", "secret")
	params := url.Values{}
	params.Set("symbol", "BTCUSDT")
	now := time.UnixMilli(1700000000123)

	query := s.SignedQuery(params, now)

	idx := strings.LastIndex(query, "&signature=")
	require.Greater(t, idx, 0)
	payload, sig := query[:idx], query[idx+len("&signature="):]
	assert.Equal(t, "symbol=BTCUSDT&timestamp=1700000000123", payload)
	assert.Equal(t, s.Sign(payload), sig)
	assert.Equal(t, "1700000000123", params.Get("timestamp"))
}
