package zap

import (
	"errors"
	"testing"

	"github.com/unkn0wn-root/swcache"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFieldsAndErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))

	l.Warn("runtime cache write failed", swcache.Fields{
		"url": "https://example.dev/a.css",
		"err": errors.New("disk full"),
	})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	e := entries[0]
	if e.LoggerName != "swcache" || e.Level != zapcore.WarnLevel {
		t.Fatalf("entry = %+v", e.Entry)
	}
	m := e.ContextMap()
	if m["error"] != "disk full" || m["url"] != "https://example.dev/a.css" {
		t.Fatalf("fields = %v", m)
	}
}

func TestLevelFiltering(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := New(zap.New(core))
	l.Debug("dropped", nil)
	l.Info("kept", nil)
	if logs.Len() != 1 || logs.All()[0].Message != "kept" {
		t.Fatalf("entries = %v", logs.All())
	}
}
