package strategy

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/RedKier/crypto-trading-bot/pkg/models"
)

// New builds the strategy variant named by cfg.Kind.
func New(cfg Config, contract models.Contract, exchange Exchange, logger *logrus.Logger) (Instance, error) {
	var (
		inst Instance
		err  error
	)
	switch cfg.Kind {
	case KindTechnical:
		var s *Technical
		s, err = NewTechnical(cfg, contract, exchange, logger)
		inst = s
	case KindBreakout:
		var s *Breakout
		s, err = NewBreakout(cfg, contract, exchange, logger)
		inst = s
	default:
		return nil, fmt.Errorf("unknown strategy kind %q", cfg.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s strategy: %w", cfg.Kind, err)
	}
	return inst, nil
}
