package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/RedKier/crypto-trading-bot/pkg/metrics"
	"github.com/RedKier/crypto-trading-bot/pkg/models"
)

const (
	mainnetBaseURL   = "https://fapi.binance.com"
	testnetBaseURL   = "https://testnet.binancefuture.com"
	mainnetStreamURL = "wss://fstream.binance.com/ws"
	testnetStreamURL = "wss://stream.binancefuture.com/ws"
)

var (
	// ErrTransport marks requests that never got an HTTP response
	// (DNS, connect, timeout). Callers may retry or skip.
	ErrTransport = errors.New("binance: transport failure")
	// ErrRejected marks requests answered with a non-200 status.
	ErrRejected = errors.New("binance: request rejected")
)

// APIError is returned when the exchange answers with a non-200 status.
type APIError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: %s %s: status %d: %s", e.Method, e.Endpoint, e.StatusCode, e.Body)
}

func (e *APIError) Is(target error) bool {
	return target == ErrRejected
}

// PriceWriter receives bid/ask snapshots fetched over REST.
type PriceWriter interface {
	Update(symbol string, bid, ask float64) models.Price
}

type ClientConfig struct {
	APIKey            string
	APISecret         string
	Testnet           bool
	BaseURL           string // overrides the Testnet selection when set
	RequestsPerMinute int    // zero disables pacing
	Timeout           time.Duration
}

// Client executes REST calls against the futures API. It is safe for
// concurrent use.
type Client struct {
	baseURL string
	signer  *Signer
	http    *resty.Client
	limiter *rate.Limiter
	prices  PriceWriter
	logger  *logrus.Logger
	now     func() time.Time
}

func NewClient(cfg ClientConfig, logger *logrus.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = BaseURL(cfg.Testnet)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader(apiKeyHeader, cfg.APIKey).
		SetRetryCount(0)
	if cfg.Timeout > 0 {
		httpClient.SetTimeout(cfg.Timeout)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.RequestsPerMinute / 10
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), burst)
	}

	return &Client{
		baseURL: baseURL,
		signer:  NewSigner(cfg.APIKey, cfg.APISecret),
		http:    httpClient,
		limiter: limiter,
		logger:  logger,
		now:     time.Now,
	}
}

func BaseURL(testnet bool) string {
	if testnet {
		return testnetBaseURL
	}
	return mainnetBaseURL
}

func StreamURL(testnet bool) string {
	if testnet {
		return testnetStreamURL
	}
	return mainnetStreamURL
}

// SetPriceWriter makes GetBidAsk write its snapshots into w.
func (c *Client) SetPriceWriter(w PriceWriter) {
	c.prices = w
}

// makeRequest performs one REST call and returns the raw response body.
// Signed calls get a timestamp and signature appended. Transport failures
// wrap ErrTransport, non-200 answers return *APIError; both are logged and
// never retried. An unsupported method is a programming error and panics.
func (c *Client) makeRequest(ctx context.Context, method, endpoint string, params url.Values, signed bool) ([]byte, error) {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodDelete:
	default:
		panic(fmt.Sprintf("binance: unsupported request method %q", method))
	}

	if params == nil {
		params = url.Values{}
	}

	fields := logrus.Fields{"method": method, "endpoint": endpoint}

	// pace before signing; queued calls must carry a fresh timestamp
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.logger.WithError(err).WithFields(fields).Error("Request aborted while waiting for rate limiter")
			return nil, fmt.Errorf("%w: %s %s: %v", ErrTransport, method, endpoint, err)
		}
	}

	var query string
	if signed {
		query = c.signer.SignedQuery(params, c.now())
	} else {
		query = params.Encode()
	}

	target := endpoint
	if query != "" {
		target += "?" + query
	}

	start := time.Now()
	resp, err := c.http.R().SetContext(ctx).Execute(method, target)
	if err != nil {
		metrics.RecordRESTCall(method, endpoint, "transport", time.Since(start))
		c.logger.WithError(err).WithFields(fields).Error("Connection error while making request")
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransport, method, endpoint, err)
	}

	if resp.StatusCode() != http.StatusOK {
		metrics.RecordRESTCall(method, endpoint, "rejected", time.Since(start))
		apiErr := &APIError{
			Method:     method,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode(),
			Body:       string(resp.Body()),
		}
		c.logger.WithFields(fields).WithFields(logrus.Fields{
			"status_code": apiErr.StatusCode,
			"body":        apiErr.Body,
		}).Errorf("Error while making %s request to %s: %s (error code %d)", method, endpoint, apiErr.Body, apiErr.StatusCode)
		return nil, apiErr
	}

	metrics.RecordRESTCall(method, endpoint, "ok", time.Since(start))
	return resp.Body(), nil
}
