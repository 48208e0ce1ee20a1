package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/RedKier/crypto-trading-bot/pkg/binance"
	"github.com/RedKier/crypto-trading-bot/pkg/metrics"
	"github.com/RedKier/crypto-trading-bot/pkg/models"
	"github.com/RedKier/crypto-trading-bot/pkg/strategy"
	"github.com/RedKier/crypto-trading-bot/pkg/trader"
	"github.com/RedKier/crypto-trading-bot/pkg/workspace"
)

// Trader is what the API reads from and drives. *bot.Bot implements it.
type Trader interface {
	Contracts() map[string]models.Contract
	WatchedPrices(ctx context.Context) map[string]models.Price
	Watchlist() []workspace.WatchEntry
	Watch(ctx context.Context, symbol string) error
	Unwatch(ctx context.Context, symbol string) error
	StrategyConfigs() []strategy.Config
	ActivateStrategy(ctx context.Context, cfg strategy.Config) (strategy.Config, error)
	DeactivateStrategy(ctx context.Context, id string) error
	Trades() []models.Trade
	DrainLogs() []trader.LogEntry
	RefreshBalances(ctx context.Context) (map[string]models.Balance, error)
	StreamState() binance.State
}

type Server struct {
	trader    Trader
	logger    *logrus.Logger
	port      string
	jwtSecret []byte
	now       func() time.Time
}

func NewServer(t Trader, logger *logrus.Logger, port, jwtSecret string) *Server {
	return &Server{
		trader:    t,
		logger:    logger,
		port:      port,
		jwtSecret: []byte(jwtSecret),
		now:       time.Now,
	}
}

// Handler builds the routed, middleware-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/contracts", s.handleContracts)
	mux.HandleFunc("/api/prices", s.handlePrices)
	mux.HandleFunc("/api/watchlist", s.handleWatchlist)
	mux.HandleFunc("/api/watchlist/", s.handleWatchlistEntry)
	mux.HandleFunc("/api/strategies", s.handleStrategies)
	mux.HandleFunc("/api/strategies/", s.handleStrategy)
	mux.HandleFunc("/api/trades", s.handleTrades)
	mux.HandleFunc("/api/logs", s.handleLogs)
	mux.HandleFunc("/api/balances", s.handleBalances)
	mux.Handle("/metrics", metrics.Handler())

	return corsMiddleware(s.authMiddleware(mux))
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Infof("Starting API server on port %s", s.port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware requires an HS256 bearer token on every route except the
// health check. It is a no-op when no secret is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	if len(s.jwtSecret) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			http.Error(w, "Missing bearer token", http.StatusUnauthorized)
			return
		}

		_, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			return s.jwtSecret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
		if err != nil {
			s.logger.WithError(err).Debug("Rejected API token")
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"stream":    s.trader.StreamState().String(),
		"timestamp": s.now().UTC(),
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleContracts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	contracts := s.trader.Contracts()
	symbols := make([]string, 0, len(contracts))
	for symbol := range contracts {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	out := make([]models.Contract, 0, len(symbols))
	for _, symbol := range symbols {
		out = append(out, contracts[symbol])
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, s.trader.WatchedPrices(r.Context()))
}

type watchRequest struct {
	Symbol string `json:"symbol"`
}

func (s *Server) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.trader.Watchlist())

	case http.MethodPost:
		var req watchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
		if symbol == "" {
			http.Error(w, "symbol is required", http.StatusBadRequest)
			return
		}
		if err := s.trader.Watch(r.Context(), symbol); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.writeJSON(w, http.StatusCreated, s.trader.Watchlist())

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleWatchlistEntry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	symbol := strings.ToUpper(strings.TrimPrefix(r.URL.Path, "/api/watchlist/"))
	if err := s.trader.Unwatch(r.Context(), symbol); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.trader.StrategyConfigs())

	case http.MethodPost:
		var cfg strategy.Config
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cfg.Symbol = strings.ToUpper(strings.TrimSpace(cfg.Symbol))

		started, err := s.trader.ActivateStrategy(r.Context(), cfg)
		if err != nil {
			s.logger.WithError(err).WithField("symbol", cfg.Symbol).Warn("Failed to start strategy")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.writeJSON(w, http.StatusCreated, started)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleStrategy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/strategies/")
	if err := s.trader.DeactivateStrategy(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	trades := s.trader.Trades()
	if trades == nil {
		trades = []models.Trade{}
	}
	s.writeJSON(w, http.StatusOK, trades)
}

// handleLogs hands out each log entry once.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entries := s.trader.DrainLogs()
	if entries == nil {
		entries = []trader.LogEntry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	balances, err := s.trader.RefreshBalances(r.Context())
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, binance.ErrTransport) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, fmt.Sprintf("failed to load balances: %v", err), status)
		return
	}
	s.writeJSON(w, http.StatusOK, balances)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
