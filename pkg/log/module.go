package log

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("log",
	fx.Provide(NewLogger),
)

// Config selects the logger profile. Anything other than "production" gets
// the development console encoder.
type Config struct {
	Environment string
	Service     string
}

func NewLogger(cfg Config) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error

	if cfg.Environment == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, err
	}

	return logger.With(zap.String("service", cfg.Service)), nil
}
