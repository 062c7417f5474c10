package main

import (
	"github.com/motorlog/livelink/internal/config"
	"github.com/motorlog/livelink/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
