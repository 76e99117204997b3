package liquidvex

import (
	"encoding/json"
	"testing"

	"github.com/gregtusar/liquidvex/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePush(t *testing.T) {
	msg, err := DecodePush(json.RawMessage(`{"type":"allMids","mids":{"BTC":95000.5,"ETH-PERP":3500},"timestamp":1700000000000}`))
	require.NoError(t, err)
	mids := msg.(*AllMidsMessage)
	assert.Equal(t, 95000.5, mids.Mids["BTC"])
	assert.Equal(t, 3500.0, mids.Mids["ETH-PERP"])

	msg, err = DecodePush(json.RawMessage(`{"type":"orderbook_snapshot","coin":"btc","bids":[{"px":1,"sz":2,"n":1}],"asks":[],"timestamp":1}`))
	require.NoError(t, err)
	book := msg.(*BookMessage)
	assert.True(t, book.Snapshot)
	assert.Equal(t, "BTC", book.Book.Coin)
	require.Len(t, book.Book.Bids, 1)

	msg, err = DecodePush(json.RawMessage(`{"type":"orderbook_update","coin":"BTC","bids":[],"asks":[{"px":3,"sz":0,"n":0}]}`))
	require.NoError(t, err)
	assert.False(t, msg.(*BookMessage).Snapshot)

	msg, err = DecodePush(json.RawMessage(`{"type":"trade","coin":"ETH","side":"A","px":3500,"sz":1,"time":1700000000000,"hash":"0xabc"}`))
	require.NoError(t, err)
	trade := msg.(*TradeMessage).Trade
	assert.Equal(t, models.TradeSideSell, trade.Side)
	assert.Equal(t, "0xabc", trade.Hash)

	msg, err = DecodePush(json.RawMessage(`{"type":"candle","coin":"BTC","interval":"1m","t":1700000000000,"o":1,"h":2,"l":0.5,"c":1.5,"v":3}`))
	require.NoError(t, err)
	candle := msg.(*CandleMessage)
	assert.Equal(t, "1m", candle.Interval)
	assert.Equal(t, 1.5, candle.Candle.Close)
}

func TestDecodePushRejectsBadShapes(t *testing.T) {
	bad := []string{
		`{"type":"allMids"}`,
		`{"type":"allMids","mids":{"BTC":-1}}`,
		`{"type":"orderbook_snapshot","coin":"BTC","bids":[]}`,
		`{"type":"orderbook_snapshot","bids":[],"asks":[]}`,
		`{"type":"orderbook_update","coin":"BTC","bids":[{"px":0,"sz":1}],"asks":[]}`,
		`{"type":"trade","coin":"BTC","side":"X","px":1,"sz":1,"hash":"h"}`,
		`{"type":"trade","coin":"BTC","side":"B","px":1,"sz":1}`,
		`{"type":"candle","interval":"1m","t":1,"o":1,"h":1,"l":1,"c":1,"v":1}`,
		`[1,2]`,
	}
	for _, raw := range bad {
		_, err := DecodePush(json.RawMessage(raw))
		var decErr *DecodeError
		assert.ErrorAs(t, err, &decErr, raw)
	}

	_, err := DecodePush(json.RawMessage(`{"type":"heartbeat","timestamp":1}`))
	assert.ErrorIs(t, err, ErrUnknownMessage)
}
