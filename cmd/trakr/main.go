package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/JamesElliotDesign/trakr/internal/config"
	"github.com/JamesElliotDesign/trakr/internal/dedup"
	"github.com/JamesElliotDesign/trakr/internal/detector"
	"github.com/JamesElliotDesign/trakr/internal/executor"
	"github.com/JamesElliotDesign/trakr/internal/helius"
	"github.com/JamesElliotDesign/trakr/internal/jupiter"
	"github.com/JamesElliotDesign/trakr/internal/notify"
	"github.com/JamesElliotDesign/trakr/internal/oracle"
	"github.com/JamesElliotDesign/trakr/internal/pipeline"
	"github.com/JamesElliotDesign/trakr/internal/positions"
	"github.com/JamesElliotDesign/trakr/internal/pumpfun"
	"github.com/JamesElliotDesign/trakr/internal/router"
	"github.com/JamesElliotDesign/trakr/internal/server"
	"github.com/JamesElliotDesign/trakr/internal/solana"
	"github.com/JamesElliotDesign/trakr/internal/tracked"
	"github.com/JamesElliotDesign/trakr/internal/tracker"
	"github.com/JamesElliotDesign/trakr/internal/watcher"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	setupLogging(cfg.General)

	log.Info().Msg("=============================================")
	log.Info().Msg("trakr - smart-money copy trading engine")
	log.Info().Msg("SIGNAL -> DEDUP -> BUY -> WATCH -> EXIT")
	log.Info().Msg("=============================================")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Configuration validation failed")
	}

	endpoints := cfg.RPCEndpoints()
	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Str("mode", cfg.Trade.Mode).
		Float64("buy_sol", cfg.Trade.BuySOLAmount).
		Float64("take_profit_pct", cfg.Trade.TakeProfitPercent).
		Float64("stop_loss_pct", cfg.Trade.StopLossPercent).
		Strs("rpc_endpoints", endpoints).
		Bool("venue_fallback", cfg.PumpFun.Enabled).
		Msg("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	var wg sync.WaitGroup

	// Trader key. Paper mode runs without one.
	var signer *solana.Signer
	walletPub := ""
	if cfg.Solana.TraderSecretKey != "" {
		signer, err = solana.NewSigner(cfg.Solana.TraderSecretKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid trader secret key")
		}
		walletPub = signer.PublicKey()
		log.Info().Str("wallet", walletPub).Msg("Trader wallet loaded")
	}

	// Chain reader on the primary endpoint.
	chain := solana.NewLiveChain(endpoints[0])
	healthCtx, healthCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := chain.Health(healthCtx); err != nil {
		log.Warn().Err(err).Str("endpoint", endpoints[0]).
			Msg("RPC health check failed (continuing, may be rate-limited)")
	} else {
		log.Info().Str("endpoint", endpoints[0]).Msg("RPC connected")
	}
	healthCancel()

	// Optional websocket confirmation fast path.
	wsConfirmer := solana.NewWSConfirmer(cfg.Solana.WSEndpoint)
	if wsConfirmer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wsConfirmer.Run(ctx)
		}()
	}

	broadcaster := solana.NewBroadcaster(endpoints,
		time.Duration(cfg.Solana.BroadcastMaxWaitMs)*time.Millisecond, wsConfirmer)

	// Priority fee estimator, only consulted when no override is set.
	var feeEstimator *solana.FeeEstimator
	if _, fixed := cfg.PriorityFeeOverride(); !fixed {
		feeEstimator = solana.NewFeeEstimator(chain.Client())
		wg.Add(1)
		go func() {
			defer wg.Done()
			feeEstimator.Run(ctx)
		}()
	}

	// Market adapters.
	jupClient := jupiter.NewClient(walletPub)
	priceOracle := oracle.New(jupClient, cfg.Oracle.BirdeyeAPIKey)
	venueClient := pumpfun.NewClient(pumpfun.Config{
		Enabled:        cfg.PumpFun.Enabled,
		SlippagePct:    cfg.PumpFun.SlippagePct,
		PriorityFeeSOL: cfg.PumpFun.PriorityFeeSOL,
		Pool:           cfg.PumpFun.Pool,
	}, walletPub)

	// Swap router (live mode only; paper mode never touches it).
	var swapEngine executor.SwapEngine
	if cfg.Trade.Mode == "live" {
		feeOverride, hasOverride := cfg.PriorityFeeOverride()
		routerCfg := router.Config{
			SlippageBps:    cfg.Jupiter.SlippageBps,
			FeeOverride:    feeOverride,
			HasFeeOverride: hasOverride,
		}
		var fees router.FeeSource
		if feeEstimator != nil {
			fees = feeEstimator
		}
		swapEngine = router.New(routerCfg, jupClient, venueClient, signer, broadcaster, fees, priceOracle)
	}

	// Durable state.
	dataDir := cfg.Storage.DataDir
	seenCache := dedup.NewStore(filepath.Join(dataDir, "seen.json"),
		time.Duration(cfg.Detector.BuyDebounceMinutes)*time.Minute)
	posStore := positions.NewStore(filepath.Join(dataDir, "positions.json"))

	wg.Add(1)
	go func() {
		defer wg.Done()
		seenCache.Run(ctx, time.Minute)
	}()

	// Detection and execution.
	trackedSet := tracked.NewSet()
	det := detector.New(detector.Config{
		ExcludedMints:  cfg.ExcludedMintSet(),
		MinTokenAmount: decimal.NewFromFloat(cfg.Detector.MinTokenAmount),
	}, trackedSet, seenCache)

	notifier := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)

	exec := executor.New(executor.Config{
		Mode:             cfg.Trade.Mode,
		BuySOLAmount:     decimal.NewFromFloat(cfg.Trade.BuySOLAmount),
		MinTradeInterval: time.Duration(cfg.Trade.MinTradeIntervalMs) * time.Millisecond,
		VenueEnabled:     cfg.PumpFun.Enabled,
		ForceVenue:       cfg.PumpFun.Force,
	}, swapEngine, priceOracle, chain, walletPub)

	watchers := watcher.NewManager(watcher.Config{
		TakeProfitPct: cfg.Trade.TakeProfitPercent,
		StopLossPct:   cfg.Trade.StopLossPercent,
		PollInterval:  time.Duration(cfg.Trade.PricePollMs) * time.Millisecond,
		SettleTimeout: time.Duration(cfg.Trade.BuySettleTimeoutMs) * time.Millisecond,
		BaseBackoff:   time.Duration(cfg.Trade.WatcherBaseBackoffMs) * time.Millisecond,
		MaxBackoff:    time.Duration(cfg.Trade.WatcherMaxBackoffMs) * time.Millisecond,
	}, posStore, priceOracle, exec, chain, notifier, walletPub)

	pipe := pipeline.New(ctx, det, exec, posStore, watchers, notifier)

	// Wallet selection and webhook registration.
	provider := tracker.NewHTTPProvider(cfg.Tracker.APIURL, cfg.Tracker.APIKey, chain,
		time.Duration(cfg.Tracker.CacheTTLMinutes)*time.Minute)

	var registrar tracker.WebhookRegistrar
	if cfg.Helius.APIKey != "" && cfg.Helius.WebhookURL != "" {
		registrar = helius.NewWebhookClient(cfg.Helius.APIKey, cfg.Helius.WebhookURL, cfg.Server.AuthSecret)
	} else {
		log.Warn().Msg("Helius webhook registration not configured; relying on existing subscription")
	}

	refresher := tracker.NewRefresher(tracker.Selection{
		MinWinRatePercent: cfg.Tracker.MinWinRatePercent,
		MaxInactive:       time.Duration(cfg.Tracker.MaxInactiveMinutes) * time.Minute,
		MaxWallets:        cfg.Tracker.MaxWallets,
	}, provider, trackedSet, registrar)

	if _, err := refresher.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial wallet refresh failed, starting with empty set")
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 1h", func() {
		refreshCtx, refreshCancel := context.WithTimeout(ctx, time.Minute)
		defer refreshCancel()
		if _, err := refresher.Refresh(refreshCtx); err != nil {
			log.Warn().Err(err).Msg("Scheduled wallet refresh failed")
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule wallet refresh")
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Resume supervision for positions that survived a restart.
	watchers.RestoreAll(ctx)

	// HTTP surface.
	statsFns := map[string]func() any{
		"positions": func() any { return posStore.Stats() },
		"jupiter":   func() any { return jupClient.Stats() },
		"tracked":   func() any { return trackedSet.Addresses() },
		"dedup":     func() any { return seenCache.Len() },
	}
	if wsConfirmer != nil {
		statsFns["ws"] = func() any { return wsConfirmer.Stats() }
	}
	if feeEstimator != nil {
		statsFns["fees"] = func() any { return feeEstimator.Stats() }
	}

	srv := server.New(pipe, refresher, server.SharedSecretAuth(cfg.Server.AuthSecret), statsFns)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.ListenAndServe(ctx, cfg.Server.ListenAddr); err != nil {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	log.Info().Int("tracked", trackedSet.Len()).Msg("trakr running")

	<-ctx.Done()

	log.Info().Msg("Shutting down...")
	pipe.Wait()
	watchers.StopAll()
	seenCache.Flush()
	posStore.Flush()
	wg.Wait()

	stats := posStore.Stats()
	log.Info().
		Int("open", stats.Open).
		Int("closed", stats.Closed).
		Msg("trakr - shutdown complete")
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "trakr").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "trakr").
			Str("instance", general.InstanceID).Logger()
	}
}
