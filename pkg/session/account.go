package session

import (
	"context"
	"errors"
	"time"

	"github.com/gregtusar/liquidvex/pkg/models"
)

func (s *Session) pollAccount(ctx context.Context) {
	defer s.wg.Done()

	s.RefreshAccount(ctx)

	ticker := time.NewTicker(s.cfg.AccountPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RefreshAccount(ctx)
		}
	}
}

// RefreshAccount reloads account state, positions, open orders and order
// history for the configured address. Each part fails independently.
func (s *Session) RefreshAccount(ctx context.Context) {
	addr := s.cfg.AccountAddress
	if addr == "" {
		return
	}
	log := s.logger.WithField("address", addr)

	rctx, cancel := s.requestContext(ctx)
	defer cancel()

	if state, err := s.client.GetAccountState(rctx, addr); err != nil {
		s.reportAccountError("account state", err)
	} else {
		s.store.SetAccountState(*state)
	}

	if positions, err := s.client.GetPositions(rctx, addr); err != nil {
		s.reportAccountError("positions", err)
	} else {
		s.store.SetPositions(positions)
	}

	if orders, err := s.client.GetOpenOrders(rctx, addr); err != nil {
		s.reportAccountError("open orders", err)
	} else {
		s.store.SetOpenOrders(orders)
	}

	if history, err := s.client.GetHistory(rctx, addr, models.HistoryOrders); err != nil {
		s.reportAccountError("order history", err)
	} else {
		s.store.AddHistory(history.Orders)
	}

	log.Debug("Refreshed account")
}

func (s *Session) reportAccountError(what string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	// a failing poll repeats every interval; log it rather than stacking toasts
	s.logger.WithError(err).Warnf("Failed to refresh %s", what)
}

func (s *Session) refreshAccountAsync() {
	if s.cfg.AccountAddress == "" {
		return
	}
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.RefreshAccount(ctx)
	}()
}
