// Package logger constructs the service-wide structured logger.
package logger

import (
	"github.com/Gobusters/ectologger"
	"go.uber.org/zap"

	"github.com/zlovtnik/clm-ingest/config"
)

// New builds an ectologger backed by zap. Pretty logs use the development
// encoder for local runs; production uses JSON.
func New(cfg config.Config) ectologger.Logger {
	var zl *zap.Logger
	var err error
	if cfg.PrettyLogs {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		zl = zap.NewNop()
	}
	zl = zl.With(zap.String("app", cfg.AppName))

	return ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		zl.Info("log", zap.Any("entry", msg))
	})
}
