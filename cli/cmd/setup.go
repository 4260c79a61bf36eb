package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	lodelib "github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/fedrun/adapter"
	"github.com/justapithecus/fedrun/adapter/redis"
	"github.com/justapithecus/fedrun/adapter/webhook"
	"github.com/justapithecus/fedrun/cli/config"
	"github.com/justapithecus/fedrun/lode"
	"github.com/justapithecus/fedrun/log"
	"github.com/justapithecus/fedrun/metrics"
	"github.com/justapithecus/fedrun/resolver"
	"github.com/justapithecus/fedrun/runtime"
)

// loadConfig reads the config file and applies flag overrides. A missing
// default config file yields an empty config; a missing explicit one is
// a usage error.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	cfg := &config.Config{}

	if _, err := os.Stat(path); err == nil || c.IsSet("config") {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, cli.Exit(err.Error(), exitUsage)
		}
		cfg = loaded
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, cli.Exit(fmt.Sprintf("cannot stat config file %q: %v", path, err), exitUsage)
	}

	if c.IsSet("name") {
		cfg.Name = c.String("name")
	}
	if c.IsSet("output-dir") {
		cfg.OutputDir = c.String("output-dir")
	}
	if c.IsSet("public-path") {
		cfg.PublicPath = c.String("public-path")
	}
	if c.IsSet("fetch-timeout") {
		cfg.FetchTimeout = config.Duration{Duration: c.Duration("fetch-timeout")}
	}
	if c.IsSet("max-chunk-bytes") {
		cfg.MaxChunkBytes = c.Int64("max-chunk-bytes")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}

	if err := cfg.Validate(); err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid config: %v", err), exitUsage)
	}
	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid config: %v", err), exitUsage)
	}
	return cfg, nil
}

// newRuntime builds the runtime for a session. Replaced in tests.
var newRuntime = runtime.New

// session is one configured runtime plus the collector it reports into.
type session struct {
	rt      *runtime.Runtime
	metrics *metrics.Collector
	logger  *log.Logger
}

// newSession builds a runtime with the journal and adapter observers the
// config enables. Logs go to stderr.
func newSession(ctx context.Context, cfg *config.Config) (*session, error) {
	instanceID := uuid.NewString()
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitUsage)
	}
	logger := log.NewLoggerWithWriter(log.Context{InstanceID: instanceID, Runtime: cfg.Name}, os.Stderr, level)
	collector := metrics.NewCollector(cfg.Name, instanceID)

	remotes, err := cfg.RemoteDescriptors()
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid config: %v", err), exitUsage)
	}
	// The runtime builds the same table; a rejection here is a config error,
	// anything runtime.New reports afterwards is not.
	if _, err := resolver.New(remotes); err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid config: %v", err), exitUsage)
	}

	observers, err := buildObservers(ctx, cfg, collector)
	if err != nil {
		return nil, err
	}

	rt, err := newRuntime(ctx, runtime.Config{
		Name:          cfg.Name,
		InstanceID:    instanceID,
		OutputDir:     cfg.OutputDir,
		PublicPath:    cfg.PublicPath,
		ChunkFilename: cfg.ChunkFilename,
		Remotes:       remotes,
		FetchTimeout:  cfg.FetchTimeout.Duration,
		MaxChunkBytes: cfg.MaxChunkBytes,
		Logger:        logger,
		Metrics:       collector,
		Observers:     observers,
	})
	if err != nil {
		for _, o := range observers {
			_ = o.Close()
		}
		return nil, cli.Exit(fmt.Sprintf("failed to start runtime: %v", err), exitError)
	}
	return &session{rt: rt, metrics: collector, logger: logger}, nil
}

// close flushes observers and releases the runtime.
func (s *session) close(ctx context.Context) error {
	err := s.rt.Close(ctx)
	_ = s.logger.Sync()
	return err
}

func buildObservers(ctx context.Context, cfg *config.Config, collector *metrics.Collector) ([]runtime.Observer, error) {
	var observers []runtime.Observer

	if cfg.Journal.Backend != "" {
		factory, err := journalFactory(ctx, cfg.Journal)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize journal: %w", err)
		}
		j, err := lode.NewJournal(factory, collector)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize journal: %w", err)
		}
		observers = append(observers, j)
	}

	if cfg.Adapter.Type != "" {
		a, err := buildAdapter(cfg.Adapter)
		if err != nil {
			for _, o := range observers {
				_ = o.Close()
			}
			return nil, cli.Exit(fmt.Sprintf("invalid adapter config: %v", err), exitUsage)
		}
		observers = append(observers, adapter.NewNotifier(a))
	}
	return observers, nil
}

// defaultAdapterRetries applies when the config leaves retries unset.
const defaultAdapterRetries = 3

func buildAdapter(ac config.AdapterConfig) (adapter.Adapter, error) {
	retries := defaultAdapterRetries
	if ac.Retries != nil {
		retries = *ac.Retries
	}
	enc := adapter.Encoding(ac.Encoding)

	switch ac.Type {
	case "webhook":
		return webhook.New(webhook.Config{
			URL:      ac.URL,
			Headers:  ac.Headers,
			Encoding: enc,
			Timeout:  ac.Timeout.Duration,
			Retries:  retries,
		})
	case "redis":
		return redis.New(redis.Config{
			URL:      ac.URL,
			Channel:  ac.Channel,
			Encoding: enc,
			Timeout:  ac.Timeout.Duration,
			Retries:  retries,
		})
	default:
		return nil, fmt.Errorf("unsupported adapter type: %s (must be webhook or redis)", ac.Type)
	}
}

func journalFactory(ctx context.Context, jc config.JournalConfig) (lodelib.StoreFactory, error) {
	switch jc.Backend {
	case "fs":
		return lode.NewFSFactory(jc.Path), nil
	case "s3":
		bucket, prefix := lode.ParseS3Path(jc.Path)
		return lode.NewS3Factory(ctx, lode.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       jc.Region,
			Endpoint:     jc.Endpoint,
			UsePathStyle: jc.S3PathStyle,
		})
	default:
		return nil, fmt.Errorf("unsupported journal backend: %s (must be fs or s3)", jc.Backend)
	}
}

// openJournal opens the configured journal dataset for reading.
func openJournal(ctx context.Context, jc config.JournalConfig) (lodelib.Dataset, error) {
	factory, err := journalFactory(ctx, jc)
	if err != nil {
		return nil, err
	}
	return lode.NewDataset(factory)
}

// isStderrTTY returns true if stderr is a TTY.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
