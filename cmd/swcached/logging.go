package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/swcache"
	"github.com/unkn0wn-root/swcache/config"
	logruslog "github.com/unkn0wn-root/swcache/log/logrus"
	slogadapter "github.com/unkn0wn-root/swcache/log/slog"
	zaplog "github.com/unkn0wn-root/swcache/log/zap"
)

// newLogger builds the configured backend. flush must run before exit.
func newLogger(cfg config.Config) (swcache.Logger, func(), error) {
	switch cfg.Log.Backend {
	case "zap":
		level, err := zapcore.ParseLevel(cfg.Log.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
		zc := zap.NewProductionConfig()
		if cfg.Log.Development {
			zc = zap.NewDevelopmentConfig()
		}
		zc.Level = zap.NewAtomicLevelAt(level)
		l, err := zc.Build()
		if err != nil {
			return nil, nil, err
		}
		return zaplog.New(l), func() { _ = l.Sync() }, nil
	case "logrus":
		level, err := logrus.ParseLevel(cfg.Log.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
		l := logrus.New()
		l.SetLevel(level)
		if !cfg.Log.Development {
			l.SetFormatter(&logrus.JSONFormatter{})
		}
		return logruslog.New(l), func() {}, nil
	default:
		return slogadapter.New(slogFor(cfg)), func() {}, nil
	}
}

// slogFor backs the sampled event hooks, which log through log/slog.
func slogFor(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Development {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
