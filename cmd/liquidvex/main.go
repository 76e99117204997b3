package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gregtusar/liquidvex/api"
	"github.com/gregtusar/liquidvex/internal/config"
	"github.com/gregtusar/liquidvex/pkg/liquidvex"
	"github.com/gregtusar/liquidvex/pkg/models"
	"github.com/gregtusar/liquidvex/pkg/prefs"
	"github.com/gregtusar/liquidvex/pkg/session"
	"github.com/gregtusar/liquidvex/pkg/store"
	"github.com/gregtusar/liquidvex/pkg/validation"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	logger  *logrus.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "liquidvex",
		Short: "liquidVex trading client",
		Long:  `Client core for the liquidVex perpetuals exchange: live market data, order entry and account state behind a local view API`,
		RunE:  runServe,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the client session and the local view API",
			RunE:  runServe,
		},
		metaCmd(),
		bookCmd(),
		fundingCmd(),
		orderCmd(),
		favoritesCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err = newLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig) (*logrus.Logger, error) {
	l := logrus.New()
	if cfg.Format == "text" {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		l.WithError(err).Error("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.SetOutput(io.MultiWriter(os.Stderr, f))
	}
	return l, nil
}

func newClient(cfg *config.Config) (*liquidvex.HTTPClient, error) {
	opts := []liquidvex.ClientOption{
		liquidvex.WithRateLimit(cfg.Backend.RateLimit, cfg.Backend.Burst),
	}
	if cfg.Backend.RequestTimeout > 0 {
		opts = append(opts, liquidvex.WithHTTPClient(&http.Client{Timeout: cfg.Backend.RequestTimeout}))
	}

	var (
		auth liquidvex.Authenticator
		err  error
	)
	if liquidvex.AuthType(cfg.Auth.Type) == liquidvex.AuthTypeJWT {
		auth, err = liquidvex.NewJWTAuthenticator(cfg.Account.Address, cfg.Auth.JWTSecret, cfg.Auth.JWTTTL)
	} else {
		auth, err = liquidvex.NewAuthenticator(liquidvex.AuthType(cfg.Auth.Type), cfg.Auth.APIKey, cfg.Auth.JWTSecret, cfg.Account.Address)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticator: %w", err)
	}
	if auth != nil {
		opts = append(opts, liquidvex.WithAuthenticator(auth))
	}
	return liquidvex.NewClient(cfg.Backend.BaseURL, logger, opts...), nil
}

func openPrefs(cfg config.StorageConfig) (*prefs.Store, error) {
	if !cfg.Enabled {
		logger.Warn("Preference storage disabled, favorites and layout will not persist")
		return prefs.New(nil, logger), nil
	}
	var (
		backend prefs.Backend
		err     error
	)
	if cfg.InMemory {
		backend, err = prefs.OpenInMemory()
	} else {
		backend, err = prefs.OpenPebble(cfg.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open preference storage: %w", err)
	}
	return prefs.New(backend, logger), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	pf, err := openPrefs(cfg.Storage)
	if err != nil {
		return err
	}
	defer pf.Close()

	sessCfg := session.Config{
		AccountAddress:      cfg.Account.Address,
		InitialAsset:        cfg.Market.InitialAsset,
		AutoReconnect:       cfg.Stream.AutoReconnect,
		Backoff:             cfg.Backoff(),
		PingInterval:        cfg.Stream.PingInterval,
		ReadTimeout:         cfg.Stream.ReadTimeout,
		RequestTimeout:      cfg.Backend.RequestTimeout,
		AccountPollInterval: cfg.Account.PollInterval,
		CandleCount:         cfg.Market.CandleCount,
		BookDepth:           cfg.Market.BookDepth,
		TradeLimit:          cfg.Market.TradeLimit,
	}
	if cfg.Stream.Enabled {
		wsBase, err := cfg.WSBaseURL()
		if err != nil {
			return fmt.Errorf("failed to derive push channel url: %w", err)
		}
		sessCfg.WSBaseURL = wsBase
	}

	st := store.New(store.Config{
		TradeLimit:   cfg.Market.TradeLimit,
		BookDepth:    cfg.Market.BookDepth,
		HistoryLimit: cfg.Market.HistoryLimit,
		Interval:     cfg.Market.CandleInterval,
	}, logger)
	sess := session.New(sessCfg, client, st, pf, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	apiServer := api.NewServer(sess, logger, addr, cfg.Server.AllowedOrigins)
	go func() {
		if err := apiServer.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start API server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.WithField("backend", cfg.Backend.BaseURL).Info("liquidVex client is running. Press Ctrl+C to stop.")

	<-sigChan
	logger.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("API server shutdown")
	}
	sess.Stop()
	cancel()

	logger.Info("liquidVex client stopped")
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func metaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "meta",
		Short: "Print the exchange asset list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			client, err := newClient(cfg)
			if err != nil {
				return err
			}
			meta, err := client.GetMeta(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, meta)
		},
	}
}

func bookCmd() *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "book <coin>",
		Short: "Print the order book of an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			client, err := newClient(cfg)
			if err != nil {
				return err
			}
			book, err := client.GetOrderBook(cmd.Context(), models.NormalizeCoin(args[0]), depth)
			if err != nil {
				return err
			}
			return printJSON(cmd, book)
		},
	}
	cmd.Flags().IntVar(&depth, "depth", store.DefaultBookDepth, "levels per side")
	return cmd
}

func fundingCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "funding <coin>",
		Short: "Print the funding-rate history of an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			client, err := newClient(cfg)
			if err != nil {
				return err
			}
			rates, err := client.GetFunding(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, rates)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", session.DefaultFundingLimit, "number of funding periods")
	return cmd
}

func orderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Place or cancel orders",
	}

	var req models.OrderRequest
	var side, orderType, tif string
	place := &cobra.Command{
		Use:   "place <coin>",
		Short: "Validate and submit an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			client, err := newClient(cfg)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			req.Coin = models.NormalizeCoin(args[0])
			req.Side = models.OrderSide(side)
			req.Type = models.OrderType(orderType)
			req.TimeInForce = models.TimeInForce(tif)

			market, err := cliMarket(ctx, client, cfg.Account.Address, req.Coin)
			if err != nil {
				return err
			}
			if req.Type == models.OrderTypeMarket {
				req.Price = 0
			}
			if err := validation.ValidateOrder(req, market); err != nil {
				return err
			}
			res, err := client.PlaceOrder(ctx, &req)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	place.Flags().StringVar(&side, "side", string(models.OrderSideBuy), "buy or sell")
	place.Flags().StringVar(&orderType, "type", string(models.OrderTypeLimit), "limit, market, stop_limit or stop_market")
	place.Flags().StringVar(&tif, "tif", string(models.TimeInForceGTC), "GTC, IOC or FOK")
	place.Flags().Float64Var(&req.Price, "price", 0, "limit price")
	place.Flags().Float64Var(&req.StopPrice, "stop-price", 0, "trigger price for stop orders")
	place.Flags().Float64Var(&req.Size, "size", 0, "order size")
	place.Flags().IntVar(&req.Leverage, "leverage", 1, "leverage")
	place.Flags().BoolVar(&req.PostOnly, "post-only", false, "reject if the order would take liquidity")
	place.Flags().BoolVar(&req.ReduceOnly, "reduce-only", false, "only reduce an existing position")

	cancel := &cobra.Command{
		Use:   "cancel <coin> <order-id>",
		Short: "Cancel an open order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oid, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || oid <= 0 {
				return fmt.Errorf("invalid order id %q", args[1])
			}
			cfg, err := setup()
			if err != nil {
				return err
			}
			client, err := newClient(cfg)
			if err != nil {
				return err
			}
			res, err := client.CancelOrder(cmd.Context(), models.NormalizeCoin(args[0]), oid)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}

	cmd.AddCommand(place, cancel)
	return cmd
}

// cliMarket gathers what order validation needs without a running session.
func cliMarket(ctx context.Context, client liquidvex.Client, address, coin string) (validation.Market, error) {
	asset, err := client.GetAsset(ctx, coin)
	if err != nil {
		return validation.Market{}, fmt.Errorf("unknown asset %s: %w", coin, err)
	}
	book, err := client.GetOrderBook(ctx, coin, store.DefaultBookDepth)
	if err != nil {
		return validation.Market{}, err
	}
	m := validation.Market{Asset: *asset, Book: book, CurrentPrice: book.MidPrice()}
	if address == "" {
		return m, nil
	}
	if acc, err := client.GetAccountState(ctx, address); err == nil {
		m.Account = acc
	}
	if positions, err := client.GetPositions(ctx, address); err == nil {
		for i := range positions {
			if positions[i].Coin == coin {
				m.Position = &positions[i]
			}
		}
	}
	return m, nil
}

func favoritesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "favorites",
		Short: "Manage favorite assets",
	}

	withPrefs := func(fn func(cmd *cobra.Command, pf *prefs.Store, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			pf, err := openPrefs(cfg.Storage)
			if err != nil {
				return err
			}
			defer pf.Close()
			return fn(cmd, pf, args)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List favorites",
			Args:  cobra.NoArgs,
			RunE: withPrefs(func(cmd *cobra.Command, pf *prefs.Store, args []string) error {
				return printJSON(cmd, pf.Favorites())
			}),
		},
		&cobra.Command{
			Use:   "add <coin>",
			Short: "Add a favorite",
			Args:  cobra.ExactArgs(1),
			RunE: withPrefs(func(cmd *cobra.Command, pf *prefs.Store, args []string) error {
				favs, err := pf.AddFavorite(args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, favs)
			}),
		},
		&cobra.Command{
			Use:   "remove <coin>",
			Short: "Remove a favorite",
			Args:  cobra.ExactArgs(1),
			RunE: withPrefs(func(cmd *cobra.Command, pf *prefs.Store, args []string) error {
				favs, err := pf.RemoveFavorite(args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, favs)
			}),
		},
	)
	return cmd
}
