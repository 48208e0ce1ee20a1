package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRESTCall(t *testing.T) {
	before := testutil.ToFloat64(RESTRequests.WithLabelValues("GET", "/fapi/v1/klines", "ok"))

	RecordRESTCall("GET", "/fapi/v1/klines", "ok", 20*time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(RESTRequests.WithLabelValues("GET", "/fapi/v1/klines", "ok")))
}

func TestHandlerExposesRegisteredCollectors(t *testing.T) {
	Init()
	Init()
	StreamConnects.Inc()
	require.NoError(t, RegisterOpenTrades(func() float64 { return 3 }))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "trader_stream_connects_total")
	assert.Contains(t, string(body), "trader_open_trades 3")
}
