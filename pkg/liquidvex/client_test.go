package liquidvex

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gregtusar/liquidvex/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...ClientOption) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts = append([]ClientOption{WithRateLimit(0, 0)}, opts...)
	return NewClient(srv.URL, testLogger(), opts...)
}

func TestGetMeta(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/info/meta", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		io.WriteString(w, `{"exchange":"Hyperliquid","assets":[
			{"coin":"BTC","sz_decimals":4,"px_decimals":1,"min_sz":0.001,"max_leverage":50,"funding_rate":0.0001,"open_interest":1,"volume_24h":2,"price_change_24h":2.34},
			{"coin":"ETH","sz_decimals":3,"px_decimals":2,"min_sz":0.01,"max_leverage":50,"funding_rate":0.00015,"open_interest":1,"volume_24h":2,"price_change_24h":-1.25}]}`)
	})

	meta, err := c.GetMeta(context.Background())
	require.NoError(t, err)
	require.Len(t, meta.Assets, 2)
	assert.Equal(t, "BTC", meta.Assets[0].Coin)
	assert.Equal(t, 4, meta.Assets[0].SzDecimals)
	assert.Equal(t, 50, meta.Assets[1].MaxLeverage)
}

func TestGetAssetNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/info/asset/DOGE", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"detail":"Asset DOGE not found"}`)
	})

	_, err := c.GetAsset(context.Background(), "doge-perp")
	require.Error(t, err)
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusNotFound, netErr.StatusCode)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, netErr.Body, "not found")
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"exchange":`},
		{"missing assets", `{"exchange":"x"}`},
		{"bad leverage", `{"exchange":"x","assets":[{"coin":"BTC","sz_decimals":1,"px_decimals":1,"max_leverage":0}]}`},
		{"wrong type", `{"exchange":"x","assets":"BTC"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tt.body)
			})
			_, err := c.GetMeta(context.Background())
			var decErr *DecodeError
			require.ErrorAs(t, err, &decErr)
			assert.Equal(t, "get meta", decErr.Op)
		})
	}
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(url, testLogger(), WithRateLimit(0, 0))
	_, err := c.GetMeta(context.Background())
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Zero(t, netErr.StatusCode)
}

func TestGetCandlesQuery(t *testing.T) {
	start := time.UnixMilli(1700000000000)
	end := start.Add(time.Hour)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/info/candles/BTC", r.URL.Path)
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		assert.Equal(t, "1700000000000", r.URL.Query().Get("startTime"))
		assert.Equal(t, "1700003600000", r.URL.Query().Get("endTime"))
		io.WriteString(w, `[{"t":1700000000000,"o":1,"h":2,"l":0.5,"c":1.5,"v":10}]`)
	})

	candles, err := c.GetCandles(context.Background(), "BTC", "1h", start, end)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 2.0, candles[0].High)
	assert.Equal(t, start.UTC(), candles[0].Timestamp)
}

func TestPlaceOrderPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/trade/place", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ETH", body["coin"])
		assert.Equal(t, true, body["is_buy"])
		assert.Equal(t, 3400.0, body["limit_px"])
		assert.Equal(t, 2.0, body["sz"])
		assert.Equal(t, "limit", body["order_type"])
		assert.Equal(t, true, body["post_only"])
		assert.Equal(t, "GTC", body["tif"])
		assert.NotContains(t, body, "stop_px")
		assert.NotContains(t, body, "signature")
		io.WriteString(w, `{"success":true,"order_id":12345,"message":"Order placed successfully"}`)
	})

	res, err := c.PlaceOrder(context.Background(), &models.OrderRequest{
		Coin: "ETH", Side: models.OrderSideBuy, Type: models.OrderTypeLimit,
		Price: 3400, Size: 2, TimeInForce: models.TimeInForceGTC, PostOnly: true,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(12345), res.OrderID)
}

type fakeSigner struct{ payloads [][]byte }

func (f *fakeSigner) Sign(payload []byte) (string, error) {
	f.payloads = append(f.payloads, payload)
	return "0xsig", nil
}

func TestSignedCancelAndRejectedResult(t *testing.T) {
	signer := &fakeSigner{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "0xsig", body["signature"])
		assert.Equal(t, 7.0, body["oid"])
		io.WriteString(w, `{"success":false,"error":"order not found"}`)
	}, WithSigner(signer))

	res, err := c.CancelOrder(context.Background(), "BTC", 7)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "order not found", res.Message)
	require.Len(t, signer.payloads, 1)
	assert.NotContains(t, string(signer.payloads[0]), "signature")
}

func TestCancelAllCount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success":true,"canceledCount":3}`)
	})
	res, err := c.CancelAll(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, 3, res.CanceledCount)
}

func TestCancelAllSnakeCaseCount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success":true,"canceled_count":4}`)
	})
	res, err := c.CancelAll(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, 4, res.CanceledCount)
}

func TestGetFunding(t *testing.T) {
	var gotPath, gotLimit string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotLimit = r.URL.Query().Get("limit")
		io.WriteString(w, `[{"timestamp":1700000000000,"rate":0.0001},{"timestamp":1700003600000,"rate":-0.00005}]`)
	})
	rates, err := c.GetFunding(context.Background(), "eth-perp", 24)
	require.NoError(t, err)
	assert.Equal(t, "/api/info/funding/ETH", gotPath)
	assert.Equal(t, "24", gotLimit)
	require.Len(t, rates, 2)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), rates[0].Timestamp.UTC())
	assert.Equal(t, -0.00005, rates[1].Rate)
}

func TestGetFundingMissingTimestamp(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"rate":0.0001}]`)
	})
	_, err := c.GetFunding(context.Background(), "BTC", 0)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, "get funding", decErr.Op)
}

func TestAccountEndpoints(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/account/state/"):
			io.WriteString(w, `{"equity":10000,"margin_used":2500,"available_balance":7500,"withdrawable":5000,"cross_margin_summary":{"account_value":10000}}`)
		case strings.HasPrefix(r.URL.Path, "/api/account/positions/"):
			io.WriteString(w, `[{"coin":"BTC","side":"long","entry_px":94500,"sz":0.5,"leverage":10,"margin_used":4725,"unrealized_pnl":460.25,"realized_pnl":0,"liquidation_px":85050,"margin_type":"cross"}]`)
		case strings.HasPrefix(r.URL.Path, "/api/account/orders/"):
			io.WriteString(w, `[{"oid":12345,"coin":"ETH","side":"B","limit_px":3400,"sz":2,"orig_sz":2,"status":"open","timestamp":1700000000000,"order_type":"limit","reduce_only":false,"post_only":true,"tif":"GTC"}]`)
		case strings.HasPrefix(r.URL.Path, "/api/account/history/"):
			assert.Equal(t, "orders", r.URL.Query().Get("type"))
			io.WriteString(w, `{"orders":[],"trades":[{"coin":"BTC","side":"B","px":93000,"sz":0.5,"time":1700000000000,"fee":4.65,"hash":"0x1"}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	state, err := c.GetAccountState(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, 7500.0, state.AvailableBalance)

	positions, err := c.GetPositions(ctx, "0xabc")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, models.PositionSideLong, positions[0].Side)
	assert.Equal(t, models.MarginTypeCross, positions[0].MarginType)

	orders, err := c.GetOpenOrders(ctx, "0xabc")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderSideBuy, orders[0].Side)
	assert.Equal(t, models.OrderStatusOpen, orders[0].Status)

	history, err := c.GetHistory(ctx, "0xabc", models.HistoryOrders)
	require.NoError(t, err)
	require.Len(t, history.Trades, 1)
	assert.Equal(t, models.TradeSideBuy, history.Trades[0].Side)
}

func TestAccountStateMissingFieldIsDecodeError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"margin_used":1}`)
	})
	_, err := c.GetAccountState(context.Background(), "0xabc")
	var decErr *DecodeError
	assert.ErrorAs(t, err, &decErr)
}

func TestJWTAuthenticator(t *testing.T) {
	auth, err := NewAuthenticator(AuthTypeJWT, "", "s3cret", "0xabc")
	require.NoError(t, err)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return []byte("s3cret"), nil })
		require.NoError(t, err)
		claims := token.Claims.(jwt.MapClaims)
		assert.Equal(t, "0xabc", claims["sub"])
		assert.Equal(t, "GET /api/info/meta", claims["uri"])
		io.WriteString(w, `{"exchange":"x","assets":[]}`)
	}, WithAuthenticator(auth))

	_, err = c.GetMeta(context.Background())
	require.NoError(t, err)
}

func TestNewAuthenticatorErrors(t *testing.T) {
	_, err := NewAuthenticator(AuthTypeAPIKey, "", "", "")
	assert.Error(t, err)
	_, err = NewAuthenticator(AuthTypeJWT, "", "", "")
	assert.Error(t, err)
	_, err = NewAuthenticator("hmac", "", "", "")
	assert.Error(t, err)
	a, err := NewAuthenticator(AuthTypeNone, "", "", "")
	assert.NoError(t, err)
	assert.Nil(t, a)
}

func TestRateLimitHonorsContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"exchange":"x","assets":[]}`)
	}, WithRateLimit(0.001, 1))

	_, err := c.GetMeta(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.GetMeta(ctx)
	var netErr *NetworkError
	assert.ErrorAs(t, err, &netErr)
}

func TestWSBaseFromHTTP(t *testing.T) {
	ws, err := WSBaseFromHTTP("http://localhost:8001/")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8001/ws", ws)

	ws, err = WSBaseFromHTTP("https://api.example.com")
	require.NoError(t, err)
	assert.Equal(t, "wss://api.example.com/ws", ws)
	assert.Equal(t, "wss://api.example.com/ws/orderbook/BTC", OrderBookURL(ws, "btc-perp"))
	assert.Equal(t, "wss://api.example.com/ws/candles/ETH/1h", CandlesURL(ws, "ETH", "1h"))

	_, err = WSBaseFromHTTP("ftp://x")
	assert.Error(t, err)
}
