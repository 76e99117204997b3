package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gregtusar/liquidvex/pkg/liquidvex"
	"github.com/gregtusar/liquidvex/pkg/models"
	"github.com/gregtusar/liquidvex/pkg/prefs"
	"github.com/gregtusar/liquidvex/pkg/session"
	"github.com/gregtusar/liquidvex/pkg/store"
	"github.com/gregtusar/liquidvex/pkg/validation"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

// Server exposes the derived view and the user actions to a front end.
type Server struct {
	session *session.Session
	store   *store.Store
	logger  *logrus.Logger
	addr    string
	origins []string

	router     *mux.Router
	hub        *Hub
	httpServer *http.Server
}

func NewServer(sess *session.Session, logger *logrus.Logger, addr string, allowedOrigins []string) *Server {
	s := &Server{
		session: sess,
		store:   sess.Store(),
		logger:  logger,
		addr:    addr,
		origins: allowedOrigins,
		router:  mux.NewRouter(),
	}
	s.hub = NewHub(s.store, sess, logger, DefaultPushInterval)
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)

	view := s.router.PathPrefix("/api/view").Subrouter()
	view.HandleFunc("", s.handleView).Methods(http.MethodGet)
	view.HandleFunc("/orderbook", s.handleOrderBook).Methods(http.MethodGet)
	view.HandleFunc("/trades", s.handleTrades).Methods(http.MethodGet)
	view.HandleFunc("/candles", s.handleCandles).Methods(http.MethodGet)
	view.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	view.HandleFunc("/orders", s.handleOpenOrders).Methods(http.MethodGet)
	view.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	view.HandleFunc("/account", s.handleAccount).Methods(http.MethodGet)
	view.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	view.HandleFunc("/assets", s.handleAssets).Methods(http.MethodGet)
	view.HandleFunc("/funding", s.handleFunding).Methods(http.MethodGet)

	actions := s.router.PathPrefix("/api/actions").Subrouter()
	actions.HandleFunc("/select-asset", s.handleSelectAsset).Methods(http.MethodPost)
	actions.HandleFunc("/interval", s.handleInterval).Methods(http.MethodPost)
	actions.HandleFunc("/orders", s.handlePlaceOrder).Methods(http.MethodPost)
	actions.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods(http.MethodPost)
	actions.HandleFunc("/orders/modify", s.handleModifyOrder).Methods(http.MethodPost)
	actions.HandleFunc("/orders/cancel-all", s.handleCancelAll).Methods(http.MethodPost)
	actions.HandleFunc("/close-position", s.handleClosePosition).Methods(http.MethodPost)

	p := s.router.PathPrefix("/api/prefs").Subrouter()
	p.HandleFunc("/favorites", s.handleFavorites).Methods(http.MethodGet)
	p.HandleFunc("/favorites", s.handleAddFavorite).Methods(http.MethodPost)
	p.HandleFunc("/favorites/{coin}", s.handleRemoveFavorite).Methods(http.MethodDelete)
	p.HandleFunc("/recent", s.handleRecent).Methods(http.MethodGet)
	p.HandleFunc("/layout", s.handleLayout).Methods(http.MethodGet)
	p.HandleFunc("/layout", s.handleSaveLayout).Methods(http.MethodPut)
	p.HandleFunc("/search-history", s.handleSearchHistory).Methods(http.MethodGet)
	p.HandleFunc("/search-history", s.handleAddSearch).Methods(http.MethodPost)

	s.router.HandleFunc("/api/notifications", s.handleNotifications).Methods(http.MethodGet)
	s.router.HandleFunc("/api/notifications/{id}/dismiss", s.handleDismiss).Methods(http.MethodPost)

	s.router.HandleFunc("/ws/view", s.hub.ServeWS)
}

// Handler is the router behind CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	s.logger.Infof("Starting API server on %s", s.addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the listener. Called before Start, it makes Start return
// http.ErrServerClosed at once.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"connected": s.session.Connected(),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	v := s.store.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"coin":    v.SelectedAsset,
		"book":    v.OrderBook,
		"crossed": v.Crossed,
		"spread":  v.Spread,
	})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Trades())
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"coin":     s.store.SelectedAsset(),
		"interval": s.store.CandleInterval(),
		"candles":  s.store.Candles(),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Positions())
}

func (s *Server) handleOpenOrders(w http.ResponseWriter, r *http.Request) {
	if coin := r.URL.Query().Get("coin"); coin != "" {
		s.writeJSON(w, http.StatusOK, s.store.OpenOrdersFor(coin))
		return
	}
	s.writeJSON(w, http.StatusOK, s.store.OpenOrders())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.OrderHistory())
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.store.Account()
	if !ok {
		s.writeError(w, http.StatusNotFound, "account state not loaded")
		return
	}
	s.writeJSON(w, http.StatusOK, acc)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Status())
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Assets())
}

func (s *Server) handleFunding(w http.ResponseWriter, r *http.Request) {
	rates, err := s.session.Funding(r.Context(), r.URL.Query().Get("coin"))
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rates)
}

type selectAssetRequest struct {
	Coin string `json:"coin"`
}

func (s *Server) handleSelectAsset(w http.ResponseWriter, r *http.Request) {
	var req selectAssetRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.session.SelectAsset(r.Context(), req.Coin); err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"selectedAsset": s.store.SelectedAsset()})
}

type intervalRequest struct {
	Interval string `json:"interval"`
}

func (s *Server) handleInterval(w http.ResponseWriter, r *http.Request) {
	var req intervalRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.session.SetCandleInterval(r.Context(), req.Interval); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"interval": s.store.CandleInterval()})
}

type placeOrderRequest struct {
	Coin        string  `json:"coin"`
	Side        string  `json:"side"`
	Type        string  `json:"orderType"`
	Price       float64 `json:"price"`
	StopPrice   float64 `json:"stopPrice"`
	Size        float64 `json:"size"`
	Leverage    int     `json:"leverage"`
	TimeInForce string  `json:"timeInForce"`
	PostOnly    bool    `json:"postOnly"`
	ReduceOnly  bool    `json:"reduceOnly"`
}

func (p placeOrderRequest) model() models.OrderRequest {
	return models.OrderRequest{
		Coin:        p.Coin,
		Side:        models.OrderSide(p.Side),
		Type:        models.OrderType(p.Type),
		Price:       p.Price,
		StopPrice:   p.StopPrice,
		Size:        p.Size,
		Leverage:    p.Leverage,
		TimeInForce: models.TimeInForce(p.TimeInForce),
		PostOnly:    p.PostOnly,
		ReduceOnly:  p.ReduceOnly,
	}
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.session.PlaceOrder(r.Context(), req.model())
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, res)
}

type cancelOrderRequest struct {
	Coin    string `json:"coin"`
	OrderID int64  `json:"orderId"`
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.OrderID <= 0 || req.Coin == "" {
		s.writeError(w, http.StatusBadRequest, "coin and orderId are required")
		return
	}
	res, err := s.session.CancelOrder(r.Context(), req.Coin, req.OrderID)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

type modifyOrderRequest struct {
	Coin    string   `json:"coin"`
	OrderID int64    `json:"orderId"`
	Price   *float64 `json:"price"`
	Size    *float64 `json:"size"`
}

func (s *Server) handleModifyOrder(w http.ResponseWriter, r *http.Request) {
	var req modifyOrderRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.session.ModifyOrder(r.Context(), models.ModifyRequest{
		OrderID: req.OrderID,
		Coin:    req.Coin,
		Price:   req.Price,
		Size:    req.Size,
	})
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

type coinRequest struct {
	Coin string `json:"coin"`
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	var req coinRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.session.CancelAll(r.Context(), req.Coin)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	var req coinRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Coin == "" {
		s.writeError(w, http.StatusBadRequest, "coin is required")
		return
	}
	res, err := s.session.ClosePosition(r.Context(), req.Coin)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleFavorites(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Favorites())
}

func (s *Server) handleAddFavorite(w http.ResponseWriter, r *http.Request) {
	var req coinRequest
	if !s.decode(w, r, &req) {
		return
	}
	favs, err := s.session.Prefs().AddFavorite(req.Coin)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, favs)
}

func (s *Server) handleRemoveFavorite(w http.ResponseWriter, r *http.Request) {
	favs, err := s.session.Prefs().RemoveFavorite(mux.Vars(r)["coin"])
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, favs)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Prefs().RecentlyTraded())
}

func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Layout())
}

func (s *Server) handleSaveLayout(w http.ResponseWriter, r *http.Request) {
	var layout models.LayoutPreferences
	if !s.decode(w, r, &layout) {
		return
	}
	if err := s.session.SaveLayout(layout); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, prefs.ErrInvalidLayout) {
			status = http.StatusUnprocessableEntity
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, layout)
}

func (s *Server) handleSearchHistory(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Prefs().SearchHistory())
}

type searchRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleAddSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, &req) {
		return
	}
	history, err := s.session.RecordSearch(req.Query)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	s.writeJSON(w, http.StatusOK, s.session.Notifications().List(all))
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	if !s.session.Notifications().Dismiss(mux.Vars(r)["id"]) {
		s.writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

type errorResponse struct {
	Error  string                  `json:"error"`
	Fields []validation.FieldError `json:"fields,omitempty"`
}

// writeActionError maps the session error taxonomy onto status codes.
func (s *Server) writeActionError(w http.ResponseWriter, err error) {
	if fields, ok := validation.AsValidationErrors(err); ok {
		s.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "validation failed", Fields: fields})
		return
	}
	var decErr *liquidvex.DecodeError
	switch {
	case errors.Is(err, session.ErrActionInFlight):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrUnknownAsset):
		s.writeError(w, http.StatusNotFound, err.Error())
	case session.IsNetworkError(err), errors.As(err, &decErr):
		s.writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.WithError(err).Error("Action failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
