// Command cachebolt runs the caching reverse HTTP proxy: a proxy
// listener that serves cached responses and forwards misses to a
// downstream origin, and a separate admin listener for status, purge,
// metrics, and health (spec.md §1, §4.8).
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
	"sync/atomic"
	"syscall"
	"time"

	"github.com/msalinas92/cachebolt/internal/admin"
	"github.com/msalinas92/cachebolt/internal/circuit"
	"github.com/msalinas92/cachebolt/internal/config"
	"github.com/msalinas92/cachebolt/internal/logging"
	"github.com/msalinas92/cachebolt/internal/memcache"
	"github.com/msalinas92/cachebolt/internal/metrics"
	"github.com/msalinas92/cachebolt/internal/objectstore"
	"github.com/msalinas92/cachebolt/internal/proxyhandler"
	"github.com/msalinas92/cachebolt/internal/writer"

	"golang.org/x/sync/semaphore"
)

// writerQueueDepth bounds the async cache writer's backlog. spec.md
// §4.6 requires overflow to drop rather than block; it does not name a
// specific depth, so we pick one generous enough to absorb a burst.
const writerQueueDepth = 256

// pressureSweepInterval is how often the memory tier checks whether it
// is over memory_threshold and needs to evict ahead of the hard LRU
// cap (spec.md §4.3).
const pressureSweepInterval = 30 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cachebolt: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel)

	backend, err := newBackend(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("constructing storage backend")
	}

	mem := memcache.New(cfg.Cache)
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	mem.StartPressureEviction(sweepCtx, pressureSweepInterval)

	storageCircuit := circuit.NewStorageCircuit(cfg.StorageBackendFailures, time.Duration(cfg.BackendRetryIntervalSecs)*time.Second)
	uriCircuit := circuit.NewURICircuit(cfg.LatencyFailover)
	reg := metrics.New()

	probeCtx, stopProbe := context.WithCancel(context.Background())
	defer stopProbe()
	var ready atomic.Bool
	if cfg.StorageBackend == "local" {
		ready.Store(true)
	}
	storageCircuit.StartProbing(probeCtx, time.Duration(cfg.BackendRetryIntervalSecs)*time.Second, func(ctx context.Context) error {
		err := backend.Probe(ctx)
		if err == nil {
			ready.Store(true)
		}
		return err
	})

	w := writer.New(backend, storageCircuit, reg, writerQueueDepth)
	w.Start()

	downstreamURL, err := parseDownstreamURL(cfg.DownstreamBaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("parsing downstream_base_url")
	}

	proxyHandler := &proxyhandler.Handler{
		Config:           cfg,
		Memory:           mem,
		Backend:          backend,
		StorageCircuit:   storageCircuit,
		URICircuit:       uriCircuit,
		Writer:           w,
		Metrics:          reg,
		Log:              log,
		DownstreamBase:   downstreamURL,
		DownstreamClient: &http.Client{},
		Admission:        semaphore.NewWeighted(int64(cfg.MaxConcurrentRequests)),
	}

	adminHandler := admin.New(cfg.AppID, mem, backend, ready.Load, reg, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	proxyServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ProxyPort),
		Handler: proxyHandler,
	}
	adminServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.AdminPort),
		Handler: adminHandler,
	}

	go func() {
		log.Info().Uint16("port", cfg.ProxyPort).Msg("starting proxy listener")
		if err := proxyServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("proxy listener error")
		}
	}()
	go func() {
		log.Info().Uint16("port", cfg.AdminPort).Msg("starting admin listener")
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("admin listener error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownGraceSecs)*time.Second)
	defer cancel()

	stopSweep()

	if err := proxyServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("proxy shutdown error")
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("admin shutdown error")
	}
	if err := w.Stop(); err != nil {
		log.Error().Err(err).Msg("writer shutdown error")
	}

	log.Info().Msg("shutdown complete")
}

func newBackend(ctx context.Context, cfg *config.Config) (objectstore.Backend, error) {
	switch cfg.StorageBackend {
	case "s3":
		return objectstore.NewS3Backend(ctx, cfg.S3Bucket)
	case "gcs":
		return objectstore.NewGCSBackend(ctx, cfg.GCSBucket)
	case "azure":
		return objectstore.NewAzureBackend(cfg.AzureContainer)
	case "local":
		return objectstore.NewLocalFSBackend(cfg.LocalPath)
	default:
		return nil, fmt.Errorf("unknown storage_backend %q", cfg.StorageBackend)
	}
}

func parseDownstreamURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("downstream_base_url %q must be an absolute URL", raw)
	}
	return u, nil
}
