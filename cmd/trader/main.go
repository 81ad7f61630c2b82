package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gregtusar/perptrader/api"
	"github.com/gregtusar/perptrader/internal/config"
	"github.com/gregtusar/perptrader/internal/logging"
	"github.com/gregtusar/perptrader/pkg/bybit"
	"github.com/gregtusar/perptrader/pkg/models"
	"github.com/gregtusar/perptrader/pkg/strategy"
	"github.com/gregtusar/perptrader/pkg/trader"
)

var (
	cfgFile      string
	strategyName string
	debug        bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "perptrader",
		Short:        "Automated perpetual futures trader",
		Long:         `Trades a single perpetual futures symbol on Bybit from a pluggable indicator strategy, with slippage-bounded limit orders and a stop-loss backstop`,
		SilenceUsage: true,
		RunE:         runTrader,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.Flags().StringVar(&strategyName, "strategy", "", fmt.Sprintf("strategy to run %v (overrides trading.strategy)", strategy.Names()))
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func tokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator token for the trading control endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile, logrus.New())
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret == "" {
				return fmt.Errorf("server.jwt_secret is not set")
			}
			token, err := api.IssueToken(cfg.Server.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func runTrader(cmd *cobra.Command, args []string) error {
	bootLogger := logrus.New()
	bootLogger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(cfgFile, bootLogger)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if strategyName != "" {
		cfg.Trading.Strategy = strategyName
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closer, err := logging.New(logging.LogConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		FilePath:   cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Debug:      debug,
	}, os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer closer.Close()

	strat, err := strategy.New(cfg.Trading.Strategy, strategy.Overrides{
		Symbol:             cfg.Trading.Symbol,
		Qty:                cfg.Trading.Qty,
		OrderType:          models.OrderType(cfg.Trading.OrderType),
		Slippage:           cfg.Trading.Slippage,
		StopLossPercentage: cfg.Trading.StopLossPercentage,
	})
	if err != nil {
		return err
	}

	client := bybit.NewClient(bybit.ClientConfig{
		BaseURL:          cfg.Exchange.RESTURL,
		APIKey:           cfg.Exchange.APIKey,
		APISecret:        cfg.Exchange.APISecret,
		Testnet:          cfg.Exchange.Testnet,
		RequestLookahead: cfg.Exchange.RequestLookahead,
		RateLimit:        cfg.Exchange.RateLimit,
		RateBurst:        cfg.Exchange.RateBurst,
		Timeout:          cfg.Exchange.HTTPTimeout,
	}, logger)

	session := bybit.NewSession(bybit.StreamConfig{
		URL:         cfg.Exchange.WSURL,
		Testnet:     cfg.Exchange.Testnet,
		ReadTimeout: cfg.Stream.ReadTimeout,
	}, client.Signer(), logger)

	engine, err := trader.NewEngine(trader.Config{
		HeartbeatInterval:    cfg.Stream.HeartbeatInterval,
		BookResyncInterval:   cfg.Stream.BookResyncInterval,
		PositionPollInterval: cfg.Trading.PositionPollInterval,
		ReconnectDelay:       cfg.Stream.ReconnectDelay,
		CancelOrphans:        cfg.Trading.CancelOrphans,
		RetentionFactor:      cfg.Trading.CandleRetentionFactor,
	}, client, session, strat, logger)
	if err != nil {
		return err
	}

	// Cancelled on SIGINT/SIGTERM; an in-flight order action is not drained
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Server.Enabled {
		apiServer := api.NewServer(engine, logger, cfg.Server.Port, cfg.Server.JWTSecret)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.WithError(err).Error("API server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			apiServer.Shutdown(shutdownCtx)
		}()
	}

	logger.WithFields(logrus.Fields{
		"strategy": strat.Name(),
		"symbol":   strat.Parameters().Symbol,
		"testnet":  cfg.Exchange.Testnet,
	}).Info("Trader is running. Press Ctrl+C to stop.")

	if err := engine.Run(ctx); err != nil {
		logger.WithError(err).Error("Engine failed to start")
		return err
	}

	logger.Info("Received shutdown signal, trader stopped")
	return nil
}
