package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gregtusar/liquidvex/pkg/liquidvex"
	"github.com/gregtusar/liquidvex/pkg/models"
	"github.com/gregtusar/liquidvex/pkg/validation"
	"github.com/sirupsen/logrus"
)

// acquire takes the single in-flight slot shared by all order actions.
func (s *Session) acquire() error {
	if !s.inFlight.CompareAndSwap(false, true) {
		return ErrActionInFlight
	}
	return nil
}

func (s *Session) release() { s.inFlight.Store(false) }

// InFlight reports whether an order action is being submitted.
func (s *Session) InFlight() bool { return s.inFlight.Load() }

// MarketFor gathers what validation needs to know about coin.
func (s *Session) MarketFor(coin string) validation.Market {
	coin = models.NormalizeCoin(coin)
	m := validation.Market{}
	if a, ok := s.store.Asset(coin); ok {
		m.Asset = a
	}
	if acc, ok := s.store.Account(); ok {
		m.Account = &acc
	}
	if pos, ok := s.store.Position(coin); ok {
		p := pos.Position
		m.Position = &p
	}
	if px, ok := s.store.MarkPrice(coin); ok {
		m.CurrentPrice = px
	}
	if s.store.SelectedAsset() == coin {
		m.Book = s.store.OrderBook()
		if m.CurrentPrice == 0 {
			m.CurrentPrice = s.store.CurrentPrice()
		}
	}
	return m
}

// PlaceOrder validates req and submits it. Validation failures are returned
// as validation.ValidationErrors and never reach the backend.
func (s *Session) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	req.Coin = models.NormalizeCoin(req.Coin)
	if req.TimeInForce == "" {
		req.TimeInForce = models.TimeInForceGTC
	}
	if req.Type == models.OrderTypeMarket {
		req.Price = 0
	}
	if err := validation.ValidateOrder(req, s.MarketFor(req.Coin)); err != nil {
		s.notifications.Push(models.NotificationWarning, "Order not submitted", err.Error())
		return nil, err
	}

	log := s.logger.WithFields(logrus.Fields{
		"coin": req.Coin,
		"side": req.Side,
		"type": req.Type,
		"size": req.Size,
	})
	log.Info("Placing order")

	res, err := s.submit(ctx, "Order failed", func(ctx context.Context) (*models.OrderResult, error) {
		return s.client.PlaceOrder(ctx, &req)
	})
	if err != nil {
		log.WithError(err).Error("Failed to place order")
		return res, err
	}

	if req.Type != models.OrderTypeMarket && res.OrderID > 0 {
		now := time.Now().UTC()
		s.store.ApplyOrderUpdate(models.Order{
			OrderID:      res.OrderID,
			Coin:         req.Coin,
			Side:         req.Side,
			Type:         req.Type,
			Price:        req.Price,
			StopPrice:    req.StopPrice,
			Size:         req.Size,
			OriginalSize: req.Size,
			Status:       models.OrderStatusOpen,
			TimeInForce:  req.TimeInForce,
			PostOnly:     req.PostOnly,
			ReduceOnly:   req.ReduceOnly,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	s.notifications.Push(models.NotificationSuccess, "Order placed",
		fmt.Sprintf("%s %g %s %s (id %d)", req.Side, req.Size, req.Coin, req.Type, res.OrderID))
	log.WithField("order_id", res.OrderID).Info("Order placed")
	s.refreshAccountAsync()
	return res, nil
}

func (s *Session) CancelOrder(ctx context.Context, coin string, orderID int64) (*models.OrderResult, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	coin = models.NormalizeCoin(coin)
	res, err := s.submit(ctx, "Cancel failed", func(ctx context.Context) (*models.OrderResult, error) {
		return s.client.CancelOrder(ctx, coin, orderID)
	})
	if err != nil {
		return res, err
	}
	s.store.MarkOrder(orderID, models.OrderStatusCanceled)
	s.notifications.Push(models.NotificationSuccess, "Order canceled", fmt.Sprintf("%s order %d canceled", coin, orderID))
	s.refreshAccountAsync()
	return res, nil
}

// ModifyOrder changes the price and/or size of an open order.
func (s *Session) ModifyOrder(ctx context.Context, req models.ModifyRequest) (*models.OrderResult, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	req.Coin = models.NormalizeCoin(req.Coin)
	asset, _ := s.store.Asset(req.Coin)
	if err := validation.ValidateModify(req, asset); err != nil {
		s.notifications.Push(models.NotificationWarning, "Modify not submitted", err.Error())
		return nil, err
	}

	res, err := s.submit(ctx, "Modify failed", func(ctx context.Context) (*models.OrderResult, error) {
		return s.client.ModifyOrder(ctx, &req)
	})
	if err != nil {
		return res, err
	}
	for _, o := range s.store.OpenOrdersFor(req.Coin) {
		if o.OrderID != req.OrderID {
			continue
		}
		if req.Price != nil {
			o.Price = *req.Price
		}
		if req.Size != nil {
			o.Size = *req.Size
			o.OriginalSize = *req.Size
		}
		o.UpdatedAt = time.Now().UTC()
		s.store.ApplyOrderUpdate(o)
	}
	s.notifications.Push(models.NotificationSuccess, "Order modified", fmt.Sprintf("%s order %d modified", req.Coin, req.OrderID))
	s.refreshAccountAsync()
	return res, nil
}

// CancelAll cancels every open order of coin, or of all coins when coin is
// empty.
func (s *Session) CancelAll(ctx context.Context, coin string) (*models.OrderResult, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	coin = models.NormalizeCoin(coin)
	res, err := s.submit(ctx, "Cancel all failed", func(ctx context.Context) (*models.OrderResult, error) {
		return s.client.CancelAll(ctx, coin)
	})
	if err != nil {
		return res, err
	}
	orders := s.store.OpenOrders()
	if coin != "" {
		orders = s.store.OpenOrdersFor(coin)
	}
	for _, o := range orders {
		s.store.MarkOrder(o.OrderID, models.OrderStatusCanceled)
	}
	s.notifications.Push(models.NotificationSuccess, "Orders canceled", fmt.Sprintf("%d orders canceled", res.CanceledCount))
	s.refreshAccountAsync()
	return res, nil
}

// ClosePosition flattens the position in coin at market.
func (s *Session) ClosePosition(ctx context.Context, coin string) (*models.OrderResult, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	coin = models.NormalizeCoin(coin)
	res, err := s.submit(ctx, "Close position failed", func(ctx context.Context) (*models.OrderResult, error) {
		return s.client.ClosePosition(ctx, coin)
	})
	if err != nil {
		return res, err
	}
	s.store.RemovePosition(coin)
	s.notifications.Push(models.NotificationSuccess, "Position closed", coin+" position closed")
	s.refreshAccountAsync()
	return res, nil
}

// submit runs one backend call and turns every failure into a toast. A
// result with success=false comes back wrapped in liquidvex.ErrRejected.
func (s *Session) submit(ctx context.Context, title string, call func(context.Context) (*models.OrderResult, error)) (*models.OrderResult, error) {
	rctx, cancel := s.requestContext(ctx)
	defer cancel()

	res, err := call(rctx)
	if err != nil {
		s.notifyError(title, err)
		return nil, err
	}
	if !res.Success {
		msg := res.Message
		if msg == "" {
			msg = "rejected"
		}
		s.notifications.Push(models.NotificationError, title, msg)
		return res, fmt.Errorf("%w: %s", liquidvex.ErrRejected, msg)
	}
	return res, nil
}

// IsValidationError reports errors that belong next to a form field.
func IsValidationError(err error) bool {
	_, ok := validation.AsValidationErrors(err)
	return ok
}

// IsNetworkError reports backend failures (unreachable, non-2xx, rejected).
func IsNetworkError(err error) bool {
	var netErr *liquidvex.NetworkError
	return errors.As(err, &netErr) || errors.Is(err, liquidvex.ErrRejected)
}
