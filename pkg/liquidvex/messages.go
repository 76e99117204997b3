package liquidvex

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gregtusar/liquidvex/pkg/models"
)

// Push-channel frame types.
const (
	MsgAllMids      = "allMids"
	MsgBook         = "orderbook"
	MsgBookSnapshot = "orderbook_snapshot"
	MsgBookUpdate   = "orderbook_update"
	MsgTrade        = "trade"
	MsgCandle       = "candle"
)

var ErrUnknownMessage = errors.New("unknown message type")

type AllMidsMessage struct {
	Mids      map[string]float64
	Timestamp time.Time
}

// BookMessage is either a full snapshot or a level delta.
type BookMessage struct {
	Snapshot bool
	Book     *models.OrderBook
}

type TradeMessage struct {
	Trade models.Trade
}

type CandleMessage struct {
	Coin     string
	Interval string
	Candle   models.Candle
}

type wireEnvelope struct {
	Type string `json:"type"`
}

type wireAllMids struct {
	Mids      map[string]float64 `json:"mids"`
	Timestamp int64              `json:"timestamp"`
}

func (w *wireAllMids) validate() error {
	if w.Mids == nil {
		return errors.New("allMids frame has no mids")
	}
	for coin, px := range w.Mids {
		if err := finite(coin, px); err != nil {
			return err
		}
		if px <= 0 {
			return fmt.Errorf("mid for %s is not positive", coin)
		}
	}
	return nil
}

type wireCandleFrame struct {
	Coin     string `json:"coin"`
	Interval string `json:"interval"`
	wireCandle
}

func (w *wireCandleFrame) validate() error {
	if w.Coin == "" {
		return errors.New("candle frame coin is empty")
	}
	return w.wireCandle.validate()
}

// DecodePush turns one push frame into *AllMidsMessage, *BookMessage,
// *TradeMessage or *CandleMessage. Frames of other types yield
// ErrUnknownMessage.
func DecodePush(raw json.RawMessage) (any, error) {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &DecodeError{Op: "push frame", Err: err}
	}

	switch env.Type {
	case MsgAllMids:
		var w wireAllMids
		if err := decodeStrict(raw, &w); err != nil {
			return nil, &DecodeError{Op: env.Type, Err: err}
		}
		mids := make(map[string]float64, len(w.Mids))
		for coin, px := range w.Mids {
			mids[coin] = px
		}
		return &AllMidsMessage{Mids: mids, Timestamp: msTime(w.Timestamp)}, nil

	case MsgBook, MsgBookSnapshot, MsgBookUpdate:
		var w wireBook
		if err := decodeStrict(raw, &w); err != nil {
			return nil, &DecodeError{Op: env.Type, Err: err}
		}
		if w.Coin == "" {
			return nil, &DecodeError{Op: env.Type, Err: errors.New("book frame coin is empty")}
		}
		return &BookMessage{Snapshot: env.Type != MsgBookUpdate, Book: w.model(w.Coin)}, nil

	case MsgTrade:
		var w wireTrade
		if err := decodeStrict(raw, &w); err != nil {
			return nil, &DecodeError{Op: env.Type, Err: err}
		}
		return &TradeMessage{Trade: w.model()}, nil

	case MsgCandle:
		var w wireCandleFrame
		if err := decodeStrict(raw, &w); err != nil {
			return nil, &DecodeError{Op: env.Type, Err: err}
		}
		return &CandleMessage{
			Coin:     models.NormalizeCoin(w.Coin),
			Interval: w.Interval,
			Candle:   w.model(),
		}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
}
