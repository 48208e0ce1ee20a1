package bot

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/RedKier/crypto-trading-bot/pkg/binance"
	"github.com/RedKier/crypto-trading-bot/pkg/models"
	"github.com/RedKier/crypto-trading-bot/pkg/strategy"
	"github.com/RedKier/crypto-trading-bot/pkg/trader"
	"github.com/RedKier/crypto-trading-bot/pkg/workspace"
)

// Bot wires the REST client, the market stream, the ledger and the
// workspace store together for one exchange account.
type Bot struct {
	client *binance.Client
	stream *binance.Stream
	ledger *trader.Ledger
	prices *trader.PriceCache
	logs   *trader.LogBook
	store  *workspace.Store
	logger *logrus.Logger

	mu        sync.RWMutex
	contracts map[string]models.Contract
	balances  map[string]models.Balance
	watchlist []workspace.WatchEntry
	instances map[string]strategy.Instance

	// saved configs that failed to restore; kept in the store until removed
	unrestored []strategy.Config

	wg sync.WaitGroup
}

// New builds a bot. store may be nil, in which case nothing is persisted.
func New(client *binance.Client, streamCfg binance.StreamConfig, store *workspace.Store, logger *logrus.Logger) *Bot {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	prices := trader.NewPriceCache()
	ledger := trader.NewLedger(prices, logger)
	client.SetPriceWriter(prices)

	return &Bot{
		client:    client,
		stream:    binance.NewStream(streamCfg, ledger, logger),
		ledger:    ledger,
		prices:    prices,
		logs:      trader.NewLogBook(logger),
		store:     store,
		logger:    logger,
		contracts: make(map[string]models.Contract),
		balances:  make(map[string]models.Balance),
		instances: make(map[string]strategy.Instance),
	}
}

func (b *Bot) Ledger() *trader.Ledger     { return b.ledger }
func (b *Bot) Prices() *trader.PriceCache { return b.prices }
func (b *Bot) Logs() *trader.LogBook      { return b.logs }
func (b *Bot) Stream() *binance.Stream    { return b.stream }
func (b *Bot) Client() *binance.Client    { return b.client }

// Start loads exchange metadata, restores the saved workspace and starts
// the market stream in the background.
func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info("Starting trading bot")

	contracts, err := b.client.GetContracts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load contracts: %w", err)
	}
	b.mu.Lock()
	b.contracts = contracts
	b.mu.Unlock()

	if _, err := b.RefreshBalances(ctx); err != nil {
		b.logger.WithError(err).Warn("Failed to load balances")
	}

	symbols := make([]string, 0, len(contracts))
	for symbol := range contracts {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	if err := b.stream.Subscribe(symbols, binance.ChannelBookTicker); err != nil {
		b.logger.WithError(err).Warn("Failed to register book ticker subscriptions")
	}

	b.restoreWorkspace(ctx)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.stream.Run(ctx); err != nil {
			b.logger.WithError(err).Error("Market stream exited")
		}
	}()

	b.logs.Add("Binance Futures client successfully initialized")
	return nil
}

// Stop shuts the stream down cooperatively and stops every strategy.
func (b *Bot) Stop() {
	b.logger.Info("Stopping trading bot")
	b.stream.Stop()

	b.mu.Lock()
	instances := make([]strategy.Instance, 0, len(b.instances))
	for _, inst := range b.instances {
		instances = append(instances, inst)
	}
	b.mu.Unlock()
	for _, inst := range instances {
		inst.Stop()
	}

	b.wg.Wait()
}

func (b *Bot) Contracts() map[string]models.Contract {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]models.Contract, len(b.contracts))
	for k, v := range b.contracts {
		out[k] = v
	}
	return out
}

func (b *Bot) Contract(symbol string) (models.Contract, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.contracts[symbol]
	return c, ok
}

// RefreshBalances replaces the balance snapshot wholesale.
func (b *Bot) RefreshBalances(ctx context.Context) (map[string]models.Balance, error) {
	balances, err := b.client.GetBalances(ctx)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.balances = balances
	b.mu.Unlock()
	return balances, nil
}

func (b *Bot) Balances() map[string]models.Balance {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]models.Balance, len(b.balances))
	for k, v := range b.balances {
		out[k] = v
	}
	return out
}

func (b *Bot) Watchlist() []workspace.WatchEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]workspace.WatchEntry, len(b.watchlist))
	copy(out, b.watchlist)
	return out
}

// Watch adds symbol to the watch list and persists it.
func (b *Bot) Watch(ctx context.Context, symbol string) error {
	contract, ok := b.Contract(symbol)
	if !ok {
		return fmt.Errorf("unknown symbol %s", symbol)
	}

	b.mu.Lock()
	for _, e := range b.watchlist {
		if e.Symbol == symbol {
			b.mu.Unlock()
			return nil
		}
	}
	b.watchlist = append(b.watchlist, workspace.WatchEntry{Symbol: symbol, Exchange: contract.Exchange})
	b.mu.Unlock()

	if _, ok := b.prices.Get(symbol); !ok {
		if _, err := b.client.GetBidAsk(ctx, contract); err != nil {
			b.logger.WithError(err).WithField("symbol", symbol).Warn("Failed to fetch initial bid/ask")
		}
	}
	return b.saveWatchlist(ctx)
}

func (b *Bot) Unwatch(ctx context.Context, symbol string) error {
	b.mu.Lock()
	for i, e := range b.watchlist {
		if e.Symbol == symbol {
			b.watchlist = append(b.watchlist[:i:i], b.watchlist[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	return b.saveWatchlist(ctx)
}

// WatchedPrices returns the cached price of every watched symbol, fetching
// a REST snapshot for symbols the stream has not priced yet.
func (b *Bot) WatchedPrices(ctx context.Context) map[string]models.Price {
	out := make(map[string]models.Price)
	for _, e := range b.Watchlist() {
		if p, ok := b.prices.Get(e.Symbol); ok {
			out[e.Symbol] = p
			continue
		}
		contract, ok := b.Contract(e.Symbol)
		if !ok {
			continue
		}
		if p, err := b.client.GetBidAsk(ctx, contract); err == nil {
			out[e.Symbol] = p
		}
	}
	return out
}

// ActivateStrategy builds, seeds and registers a strategy, subscribes to
// its trade prints and persists the active set.
func (b *Bot) ActivateStrategy(ctx context.Context, cfg strategy.Config) (strategy.Config, error) {
	started, err := b.activate(ctx, cfg)
	if err != nil {
		return strategy.Config{}, err
	}
	if err := b.saveStrategies(ctx); err != nil {
		b.logger.WithError(err).Warn("Failed to persist strategies")
	}
	return started, nil
}

func (b *Bot) activate(ctx context.Context, cfg strategy.Config) (strategy.Config, error) {
	contract, ok := b.Contract(cfg.Symbol)
	if !ok {
		return strategy.Config{}, fmt.Errorf("unknown symbol %s", cfg.Symbol)
	}

	inst, err := strategy.New(cfg, contract, b.client, b.logger)
	if err != nil {
		return strategy.Config{}, err
	}
	if err := inst.LoadHistory(ctx); err != nil {
		return strategy.Config{}, err
	}

	id := inst.Config().ID
	if err := b.ledger.AddStrategy(id, inst); err != nil {
		return strategy.Config{}, err
	}
	b.mu.Lock()
	b.instances[id] = inst
	b.mu.Unlock()

	if err := b.stream.Subscribe([]string{contract.Symbol}, binance.ChannelAggTrade); err != nil {
		b.logger.WithError(err).WithField("symbol", contract.Symbol).Warn("Failed to subscribe to trade prints")
	}

	b.logs.Add(fmt.Sprintf("%s strategy on %s / %s started", inst.Config().Kind, contract.Symbol, cfg.Timeframe))
	return inst.Config(), nil
}

// DeactivateStrategy unregisters and stops a strategy. The trade print
// subscription is dropped once no strategy trades the symbol. A saved
// config that never restored is simply forgotten.
func (b *Bot) DeactivateStrategy(ctx context.Context, id string) error {
	if err := b.ledger.RemoveStrategy(id); err != nil {
		if b.forgetUnrestored(id) {
			return b.saveStrategies(ctx)
		}
		return err
	}

	b.mu.Lock()
	inst := b.instances[id]
	delete(b.instances, id)
	symbolInUse := false
	for _, other := range b.instances {
		if inst != nil && other.Contract().Symbol == inst.Contract().Symbol {
			symbolInUse = true
			break
		}
	}
	b.mu.Unlock()

	if inst == nil {
		return nil
	}
	inst.Stop()

	if !symbolInUse {
		if err := b.stream.Unsubscribe([]string{inst.Contract().Symbol}, binance.ChannelAggTrade); err != nil {
			b.logger.WithError(err).Warn("Failed to unsubscribe trade prints")
		}
	}
	b.logs.Add(fmt.Sprintf("%s strategy on %s stopped", inst.Config().Kind, inst.Contract().Symbol))
	return b.saveStrategies(ctx)
}

// StrategyConfigs returns the parameter sets of the active strategies in
// registration order.
func (b *Bot) StrategyConfigs() []strategy.Config {
	ids := b.ledger.Strategies()
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]strategy.Config, 0, len(ids))
	for _, id := range ids {
		if inst, ok := b.instances[id]; ok {
			out = append(out, inst.Config())
		}
	}
	return out
}

func (b *Bot) Trades() []models.Trade {
	return b.ledger.Trades()
}

func (b *Bot) StreamState() binance.State {
	return b.stream.State()
}

// DrainLogs returns every undisplayed bot and strategy log entry.
func (b *Bot) DrainLogs() []trader.LogEntry {
	return b.ledger.DrainLogs(b.logs)
}

func (b *Bot) saveWatchlist(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	return b.store.Save(ctx, workspace.KeyWatchlist, b.Watchlist())
}

func (b *Bot) saveStrategies(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	configs := b.StrategyConfigs()
	b.mu.RLock()
	configs = append(configs, b.unrestored...)
	b.mu.RUnlock()
	return b.store.Save(ctx, workspace.KeyStrategies, configs)
}

func (b *Bot) forgetUnrestored(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cfg := range b.unrestored {
		if cfg.ID == id {
			b.unrestored = append(b.unrestored[:i:i], b.unrestored[i+1:]...)
			return true
		}
	}
	return false
}

func (b *Bot) restoreWorkspace(ctx context.Context) {
	if b.store == nil {
		return
	}

	var watchlist []workspace.WatchEntry
	if _, err := b.store.Load(ctx, workspace.KeyWatchlist, &watchlist); err != nil {
		b.logger.WithError(err).Warn("Failed to load saved watch list")
	}
	b.mu.Lock()
	for _, e := range watchlist {
		if _, ok := b.contracts[e.Symbol]; ok {
			b.watchlist = append(b.watchlist, e)
		}
	}
	b.mu.Unlock()

	var configs []strategy.Config
	if _, err := b.store.Load(ctx, workspace.KeyStrategies, &configs); err != nil {
		b.logger.WithError(err).Warn("Failed to load saved strategies")
		return
	}
	for _, cfg := range configs {
		if _, err := b.activate(ctx, cfg); err != nil {
			b.logger.WithError(err).WithField("strategy_id", cfg.ID).Warn("Failed to restore strategy")
			b.mu.Lock()
			b.unrestored = append(b.unrestored, cfg)
			b.mu.Unlock()
		}
	}
}
