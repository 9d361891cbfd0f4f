// Polymarket market maker — an automated two-sided liquidity provider for
// Polymarket binary prediction markets.
//
// Architecture:
//
//	main.go                 — entry point: loads config, wires components, waits for SIGINT/SIGTERM
//	internal/configsrc      — Google Sheets source for selected markets + parameter profiles
//	internal/marketdata     — local order book mirror + bounded price/trade history
//	internal/streamx        — WebSocket feeds (market data + user fills/orders), auto-reconnect
//	internal/exchange       — REST client for the Polymarket CLOB API + L1/L2 auth
//	internal/position       — position accounting, risk-event persistence, token merging
//	internal/ordermgr       — order placement/cancellation with a churn-avoidance filter
//	internal/riskmgr        — stop-loss, take-profit, liquidity and sizing checks
//	internal/strategy       — per-market trading pass: merge, then exit, then enter
//	internal/updater        — periodic reconciliation: in-flight sweep, positions, orders, catalog
//
// How it makes money:
//
//	The bot holds inventory in whichever of a market's two outcome tokens is
//	underpriced relative to its risk profile, entering with a passive bid just
//	inside the best bid and exiting either at a take-profit markup over the
//	average entry price or, if the position moves against it past the
//	stop-loss threshold, immediately at the best bid.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/configsrc"
	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/logging"
	"polymarket-mm/internal/marketdata"
	"polymarket-mm/internal/ordermgr"
	"polymarket-mm/internal/position"
	"polymarket-mm/internal/riskmgr"
	"polymarket-mm/internal/state"
	"polymarket-mm/internal/strategy"
	"polymarket-mm/internal/streamx"
	"polymarket-mm/internal/updater"
	"polymarket-mm/pkg/types"
)

const strategyTickInterval = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	bootstrapSheet := false
	for _, arg := range os.Args[1:] {
		if arg == "--bootstrap-sheet" {
			bootstrapSheet = true
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		return 1
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Dir: cfg.Logging.Dir})
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to set up logging:", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sheets, err := configsrc.New(ctx, cfg.Sheets.SpreadsheetURL, cfg.Sheets.CredentialsFile)
	if err != nil {
		logger.Error("failed to connect to configuration source", "error", err)
		return 1
	}

	if bootstrapSheet {
		if err := sheets.Bootstrap(ctx); err != nil {
			logger.Error("bootstrap failed", "error", err)
			return 1
		}
		logger.Info("spreadsheet bootstrap complete")
		return 0
	}

	st := state.New()

	auth, err := exchange.NewAuth(*cfg)
	if err != nil {
		logger.Error("failed to build wallet auth", "error", err)
		return 1
	}

	client := exchange.NewClient(*cfg, auth, st, logger)
	st.SetClient(client)

	if !auth.HasL2Credentials() {
		if _, err := client.DeriveAPIKey(ctx); err != nil {
			logger.Error("failed to derive L2 API credentials", "error", err)
			return 1
		}
	}

	markets, err := sheets.SelectedMarkets(ctx)
	if err != nil {
		logger.Error("failed to load selected markets", "error", err)
		return 1
	}
	params, err := sheets.Hyperparameters(ctx)
	if err != nil {
		logger.Error("failed to load parameter profiles", "error", err)
		return 1
	}
	st.SetMarkets(markets)
	paramList := make([]types.ParamProfile, 0, len(params))
	for _, p := range params {
		paramList = append(paramList, p)
	}
	st.SetParams(paramList)

	logger.Info("loaded market configuration", "markets", len(markets), "param_profiles", len(params))

	data := marketdata.New()
	posMgr, err := position.New(st, client, cfg.Store.DataDir, cfg.Risk.MinMergeSize, logger)
	if err != nil {
		logger.Error("failed to set up position manager", "error", err)
		return 1
	}
	orders := ordermgr.New(st, client, logger)
	risk := riskmgr.New(logger)
	runner := strategy.New(st, data, posMgr, orders, risk, client, logger)

	allTokens := tokenIDs(markets)

	marketFeed := streamx.NewMarketFeed(cfg.WSMarketURL, st.SetMarketStreamHealthy, logger)
	marketFeed.Subscribe(allTokens)
	userFeed := streamx.NewUserFeed(cfg.WSUserURL, auth.APIKey(), st.SetUserStreamHealthy, logger)

	go marketFeed.Run(ctx)
	go userFeed.Run(ctx)
	go consumeMarketEvents(ctx, marketFeed, data)
	go consumeUserEvents(ctx, userFeed, st, posMgr, orders)

	refreshMarkets := func(ctx context.Context) error {
		fresh, err := sheets.SelectedMarkets(ctx)
		if err != nil {
			return err
		}
		st.SetMarkets(fresh)
		marketFeed.Subscribe(tokenIDs(fresh))
		return nil
	}
	refreshParams := func(ctx context.Context) error {
		fresh, err := sheets.Hyperparameters(ctx)
		if err != nil {
			return err
		}
		freshList := make([]types.ParamProfile, 0, len(fresh))
		for _, p := range fresh {
			freshList = append(freshList, p)
		}
		st.SetParams(freshList)
		return nil
	}
	upd := updater.New(st, client, posMgr, orders, refreshMarkets, refreshParams, logger)
	go upd.Run(ctx)

	for _, m := range markets {
		go runner.Run(ctx, m.ConditionID, strategyTickInterval)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE - no real orders will be placed")
	}
	logger.Info("polymarket market maker started", "markets", len(markets), "dry_run", cfg.DryRun)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := client.CancelAll(shutdownCtx); err != nil {
		logger.Error("failed to cancel all orders on shutdown", "error", err)
	}

	return 0
}

func tokenIDs(markets []types.Market) []string {
	tokens := make([]string, 0, len(markets)*2)
	for _, m := range markets {
		if m.Token1 != "" {
			tokens = append(tokens, m.Token1)
		}
		if m.Token2 != "" {
			tokens = append(tokens, m.Token2)
		}
	}
	return tokens
}

func consumeMarketEvents(ctx context.Context, feed *streamx.Feed, data *marketdata.Store) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-feed.BookEvents():
			data.ApplyBook(evt)
		case evt := <-feed.TradeEvents():
			data.ApplyTrade(evt)
		}
	}
}

// consumeUserEvents applies fills to local position accounting as they
// stream in. Resting-order bookkeeping is left to the periodic updater's
// reconcile pass rather than the order/cancel event stream, since the
// exchange's open-orders endpoint is the source of truth and events can
// arrive out of order across a reconnect.
func consumeUserEvents(ctx context.Context, feed *streamx.Feed, st *state.State, posMgr *position.Manager, orders *ordermgr.Manager) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-feed.FillEvents():
			applyFill(posMgr, evt)
		case <-feed.OrderEvents():
		case <-feed.CancelEvents():
		}
	}
}

func applyFill(posMgr *position.Manager, evt types.WSFillEvent) {
	var price, size float64
	fmt.Sscanf(evt.Price, "%f", &price)
	fmt.Sscanf(evt.Size, "%f", &size)
	if size <= 0 {
		return
	}
	posMgr.UpdatePosition(evt.Token, evt.Side, size, price)
}
