// Command swcached serves a site through an offline cache worker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/unkn0wn-root/swcache"
	"github.com/unkn0wn-root/swcache/config"
	asynchook "github.com/unkn0wn-root/swcache/hooks/async"
	"github.com/unkn0wn-root/swcache/metrics"
	"github.com/unkn0wn-root/swcache/notify"
	"github.com/unkn0wn-root/swcache/provider"
	"github.com/unkn0wn-root/swcache/server"
	"github.com/unkn0wn-root/swcache/sloghooks"
)

func main() {
	configPath := flag.String("config", os.Getenv("SWCACHE_CONFIG"), "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "swcached:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, flush, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	var promHooks *metrics.Metrics
	reg := prometheus.NewRegistry()
	hookList := []swcache.Hooks{sloghooks.New(slogFor(cfg), sloghooks.Options{SelfHealEvery: 10, FetchServedEvery: 100})}
	if cfg.Metrics.Enabled {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		promHooks = metrics.New(reg, metrics.Config{})
		hookList = append(hookList, promHooks)
		if sr, ok := st.runtime.(provider.StatsReporter); ok {
			if err := metrics.RegisterProvider(reg, "runtime", sr); err != nil {
				return err
			}
		}
	}
	hooks := asynchook.New(swcache.JoinHooks(hookList...), 1, 1024)
	defer hooks.Close()

	outbox, err := notify.New(st.notify, notify.Options{
		TTL:     cfg.Notify.TTL,
		MaxOpen: cfg.Notify.MaxOpen,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	fetcher := &http.Client{Timeout: cfg.Worker.FetchTimeout}
	w, err := swcache.New(swcache.Options{
		Config:          cfg.WorkerConfig(),
		Provider:        st.caches,
		QueueProvider:   st.queue,
		RuntimeProvider: st.runtime,
		GenStore:        st.gen,
		Codec:           st.codec,
		MaxRecordBytes:  cfg.Cache.MaxRecordBytes,
		Fetcher:         fetcher,
		Notifier:        outbox,
		Logger:          logger,
		Hooks:           hooks,
	})
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := w.Close(cctx); err != nil {
			logger.Error("worker close failed", swcache.Fields{"err": err})
		}
	}()

	// a worker that fails to install stays redundant; the site is then proxied untouched
	if err := w.Start(ctx); err != nil {
		logger.Error("worker did not activate; serving pass-through only", swcache.Fields{"err": err})
	}

	upstream, err := url.Parse(cfg.Upstream)
	if err != nil {
		return fmt.Errorf("upstream: %w", err)
	}
	opts := server.Options{
		Worker:       w,
		Upstream:     upstream,
		ContactPath:  cfg.ContactPath,
		Fetcher:      fetcher,
		MaxBodyBytes: cfg.Worker.MaxBodyBytes,
		Outbox:       outbox,
		Logger:       logger,
	}
	if promHooks != nil {
		opts.Metrics = promHooks
		opts.MetricsEndpoint = cfg.Metrics.Endpoint
		opts.MetricsHandler = metrics.Handler(reg)
	}
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	engine, err := server.New(opts)
	if err != nil {
		return err
	}

	go server.SyncLoop(ctx, w, cfg.WorkerConfig().SyncTag, cfg.Sync.Interval)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", swcache.Fields{"addr": cfg.Listen, "origin": cfg.Origin})
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down", nil)
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}
