package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/RedKier/crypto-trading-bot/api"
	"github.com/RedKier/crypto-trading-bot/internal/config"
	"github.com/RedKier/crypto-trading-bot/internal/logging"
	"github.com/RedKier/crypto-trading-bot/pkg/binance"
	"github.com/RedKier/crypto-trading-bot/pkg/bot"
	"github.com/RedKier/crypto-trading-bot/pkg/metrics"
	"github.com/RedKier/crypto-trading-bot/pkg/workspace"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "binance-trader",
		Short: "Binance USDⓈ-M futures trading bot",
		Long:  `Streams market data from Binance futures, runs trading strategies and serves a polling API`,
		Run:   runTrader,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "contracts",
		Short: "List tradable futures contracts",
		RunE:  runContracts,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "balances",
		Short: "Show account balances",
		RunE:  runBalances,
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// setup loads .env, the configuration and the logger.
func setup() (*config.Config, *logrus.Logger, io.Closer) {
	_ = godotenv.Load()

	bootstrap := logrus.New()
	bootstrap.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(cfgFile)
	if err != nil {
		bootstrap.WithError(err).Fatal("Failed to load configuration")
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		bootstrap.WithError(err).Fatal("Failed to initialize logger")
	}
	return cfg, logger, closer
}

func newClient(cfg *config.Config, logger *logrus.Logger) *binance.Client {
	return binance.NewClient(binance.ClientConfig{
		APIKey:            cfg.Binance.APIKey,
		APISecret:         cfg.Binance.APISecret,
		Testnet:           cfg.Binance.Testnet,
		RequestsPerMinute: cfg.Binance.REST.RequestsPerMinute,
		Timeout:           cfg.Binance.REST.Timeout,
	}, logger)
}

func runTrader(cmd *cobra.Command, args []string) {
	cfg, logger, closer := setup()
	defer closer.Close()

	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := workspace.Open(cfg.Database.Path)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open workspace store")
	}
	defer store.Close()

	streamURL := cfg.Binance.WebSocket.URL
	if streamURL == "" {
		streamURL = binance.StreamURL(cfg.Binance.Testnet)
	}

	tradingBot := bot.New(newClient(cfg, logger), binance.StreamConfig{
		URL:            streamURL,
		ReconnectDelay: cfg.Binance.WebSocket.ReconnectDelay,
	}, store, logger)

	if err := metrics.RegisterOpenTrades(func() float64 {
		return float64(tradingBot.Ledger().OpenTradeCount())
	}); err != nil {
		logger.WithError(err).Warn("Failed to register open trades gauge")
	}

	if err := tradingBot.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start trading bot")
	}

	apiServer := api.NewServer(tradingBot, logger, strconv.Itoa(cfg.Server.Port), cfg.Server.JWTSecret)
	go func() {
		if err := apiServer.Start(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to start API server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Trading bot is running. Press Ctrl+C to stop.")

	<-sigChan
	logger.Info("Received shutdown signal")

	tradingBot.Stop()
	cancel()

	logger.Info("Trading bot stopped")
}

func runContracts(cmd *cobra.Command, args []string) error {
	cfg, logger, closer := setup()
	defer closer.Close()

	contracts, err := newClient(cfg, logger).GetContracts(cmd.Context())
	if err != nil {
		return err
	}

	symbols := make([]string, 0, len(contracts))
	for symbol := range contracts {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tBASE\tQUOTE\tTICK\tLOT")
	for _, symbol := range symbols {
		c := contracts[symbol]
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%v\n", c.Symbol, c.BaseAsset, c.QuoteAsset, c.TickSize, c.LotSize)
	}
	return w.Flush()
}

func runBalances(cmd *cobra.Command, args []string) error {
	cfg, logger, closer := setup()
	defer closer.Close()

	balances, err := newClient(cfg, logger).GetBalances(cmd.Context())
	if err != nil {
		return err
	}

	assets := make([]string, 0, len(balances))
	for asset := range balances {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ASSET\tWALLET\tMARGIN\tUNREALIZED PNL")
	for _, asset := range assets {
		b := balances[asset]
		fmt.Fprintf(w, "%s\t%v\t%v\t%v\n", b.Asset, b.WalletBalance, b.MarginBalance, b.UnrealizedProfit)
	}
	return w.Flush()
}
