package session

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gregtusar/liquidvex/pkg/liquidvex"
	"github.com/gregtusar/liquidvex/pkg/models"
	"github.com/sirupsen/logrus"
)

// marketStreams are the channels that follow the selected asset.
type marketStreams struct {
	book    *liquidvex.Stream
	trades  *liquidvex.Stream
	candles *liquidvex.Stream
}

func (m marketStreams) stop() {
	for _, st := range []*liquidvex.Stream{m.book, m.trades, m.candles} {
		if st != nil {
			st.Stop()
		}
	}
}

func (s *Session) openMarketStreams(ctx context.Context, coin, interval string) marketStreams {
	base := s.cfg.WSBaseURL
	return marketStreams{
		book:    s.startStream(ctx, "orderbook:"+coin, liquidvex.OrderBookURL(base, coin)),
		trades:  s.startStream(ctx, "trades:"+coin, liquidvex.TradesURL(base, coin)),
		candles: s.startStream(ctx, "candles:"+coin+":"+interval, liquidvex.CandlesURL(base, coin, interval)),
	}
}

func (s *Session) newStream(name, url string) *liquidvex.Stream {
	st := liquidvex.NewStream(liquidvex.StreamConfig{
		Name:          name,
		URL:           url,
		AutoReconnect: s.cfg.AutoReconnect,
		Backoff:       s.cfg.Backoff,
		PingInterval:  s.cfg.PingInterval,
		ReadTimeout:   s.cfg.ReadTimeout,
	}, s.handleMessage, s.logger)
	st.OnStateChange(s.onStreamState)
	return st
}

func (s *Session) startStream(ctx context.Context, name, url string) *liquidvex.Stream {
	st := s.newStream(name, url)
	if err := st.Start(ctx); err != nil {
		s.logger.WithError(err).WithField("stream", name).Error("Failed to start stream")
		return nil
	}
	return st
}

// handleMessage runs on the stream's read goroutine, one frame at a time.
func (s *Session) handleMessage(raw json.RawMessage) error {
	msg, err := liquidvex.DecodePush(raw)
	if err != nil {
		if errors.Is(err, liquidvex.ErrUnknownMessage) {
			s.logger.WithError(err).Debug("Ignoring push frame")
			return nil
		}
		return err
	}

	switch m := msg.(type) {
	case *liquidvex.AllMidsMessage:
		s.store.SetAllMids(m.Mids)
	case *liquidvex.BookMessage:
		if m.Snapshot {
			s.store.SetOrderBook(m.Book)
		} else if !s.store.ApplyBookDelta(m.Book) {
			s.logger.WithField("coin", m.Book.Coin).Debug("Dropped book delta")
		}
	case *liquidvex.TradeMessage:
		s.store.AppendTrade(m.Trade)
	case *liquidvex.CandleMessage:
		s.store.UpsertCandle(m.Coin, m.Interval, m.Candle)
	}
	return nil
}

func (s *Session) onStreamState(name string, state liquidvex.StreamState) {
	s.statesMu.Lock()
	if state == liquidvex.StateDisconnected {
		delete(s.states, name)
	} else {
		s.states[name] = state
	}
	s.statesMu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"stream": name,
		"state":  state.String(),
	}).Debug("Stream state changed")
}

// Connected is true while any push channel is connected.
func (s *Session) Connected() bool {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()
	for _, state := range s.states {
		if state == liquidvex.StateConnected {
			return true
		}
	}
	return false
}

func (s *Session) Status() models.ConnectionStatus {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()
	status := models.ConnectionStatus{Streams: make(map[string]string, len(s.states))}
	for name, state := range s.states {
		status.Streams[name] = state.String()
		if state == liquidvex.StateConnected {
			status.Connected = true
		}
	}
	return status
}
