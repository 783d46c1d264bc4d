package zap

import (
	"sort"

	"github.com/unkn0wn-root/swcache"
	"go.uber.org/zap"
)

var _ swcache.Logger = ZapLogger{}

type ZapLogger struct{ L *zap.Logger }

// New names the logger "swcache" so worker lines are easy to filter.
func New(l *zap.Logger) ZapLogger { return ZapLogger{L: l.Named("swcache")} }

func (z ZapLogger) Debug(msg string, f swcache.Fields) { z.L.Debug(msg, zf(f)...) }
func (z ZapLogger) Info(msg string, f swcache.Fields)  { z.L.Info(msg, zf(f)...) }
func (z ZapLogger) Warn(msg string, f swcache.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z ZapLogger) Error(msg string, f swcache.Fields) { z.L.Error(msg, zf(f)...) }

// zf sorts keys for stable output; errors under "err" become zap.Error fields.
func zf(f swcache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		if err, ok := f[k].(error); ok && k == "err" {
			out = append(out, zap.Error(err))
			continue
		}
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}
