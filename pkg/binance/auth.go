package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"time"
)

const apiKeyHeader = "X-MBX-APIKEY"

// Signer signs account-scoped requests with the account's secret key.
type Signer struct {
	apiKey    string
	apiSecret string
}

func NewSigner(apiKey, apiSecret string) *Signer {
	return &Signer{
		apiKey:    apiKey,
		apiSecret: apiSecret,
	}
}

func (s *Signer) APIKey() string {
	return s.apiKey
}

// Sign returns the hex encoded HMAC-SHA256 of payload.
func (s *Signer) Sign(payload string) string {
	return computeHMAC(payload, s.apiSecret)
}

// SignedQuery stamps params with a millisecond timestamp and returns the
// encoded query string with the signature appended as the last parameter.
// params is modified in place.
func (s *Signer) SignedQuery(params url.Values, now time.Time) string {
	params.Set("timestamp", strconv.FormatInt(now.UnixMilli(), 10))
	payload := params.Encode()
	return payload + "&signature=" + s.Sign(payload)
}

func computeHMAC(message, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}
