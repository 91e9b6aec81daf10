package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"epcal/internal/bangumi"
	"epcal/internal/cache"
	"epcal/internal/config"
	appLog "epcal/internal/log"
	"epcal/internal/metrics"
	"epcal/internal/prefetch"
	"epcal/internal/service"
	"epcal/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	once       bool
	user       string
}

func main() {
	flags := parseFlags()

	if err := config.LoadDotEnv(flags.envFile); err != nil {
		appLog.Error("failed to load env file", err, "path", flags.envFile)
		os.Exit(1)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv(os.LookupEnv)

	// CLI --listen overrides config file and environment.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.SetOutput(os.Stderr, conf.LogFormat == "json")
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("epcal starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"cache_backend", conf.Cache.Backend,
		"bangumi", conf.Bangumi.BaseURL,
		"max_concurrency", conf.MaxConcurrency,
		"metrics", conf.Metrics,
		"prefetch_cron", conf.Prefetch.Cron,
		"prefetch_users", len(conf.Prefetch.Users),
		"once", flags.once,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("epcal failed", err)
		stop()
		os.Exit(1)
	}
	appLog.Info("epcal exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	var m *metrics.Metrics
	if conf.Metrics {
		m = metrics.New()
	}

	store, closeStore, err := openCache(ctx, conf.Cache)
	if err != nil {
		return err
	}
	defer closeStore()

	client := bangumi.NewClient(conf.Bangumi.BaseURL,
		bangumi.WithUserAgent(conf.Bangumi.UserAgent),
		bangumi.WithTimeout(conf.Bangumi.Timeout),
		bangumi.WithRateLimit(conf.Bangumi.RateLimit, conf.Bangumi.Burst),
		bangumi.WithRetry(conf.Bangumi.RetryAttempts, conf.Bangumi.RetryDelay),
		bangumi.WithMetrics(m),
	)

	svc := service.New(client, store, service.Options{
		MaxConcurrency: conf.MaxConcurrency,
		Metrics:        m,
		TTL: service.TTLs{
			Calendar: conf.Cache.TTL.Calendar,
			Settled:  conf.Cache.TTL.Settled,
			Open:     conf.Cache.TTL.Open,
			Missing:  conf.Cache.TTL.Missing,
		},
	})

	if flags.once {
		if flags.user == "" {
			return errors.New("-once requires -user")
		}
		doc, err := svc.BuildICS(ctx, flags.user)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(os.Stdout, doc)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return web.NewServer(conf, svc, m).Run(gctx)
	})
	if conf.Prefetch.Cron != "" {
		runner := prefetch.New(svc, conf.Prefetch.Users, conf.Prefetch.Timeout)
		g.Go(func() error {
			return runner.Run(gctx, conf.Prefetch.Cron)
		})
	}
	return g.Wait()
}

// openCache selects the configured backend. The returned func releases it.
func openCache(ctx context.Context, cc config.CacheConfig) (cache.Cache, func(), error) {
	if cc.Backend == config.BackendMemory {
		appLog.Warn("using in-process cache; entries are lost on restart")
		return cache.NewMemory(10*time.Minute), func() {}, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	r, err := cache.DialRedis(dialCtx, cache.RedisConfig{
		URL:      cc.Redis.URL,
		Host:     cc.Redis.Host,
		Port:     cc.Redis.Port,
		DB:       cc.Redis.DB,
		Username: cc.Redis.Username,
		Password: cc.Redis.Password,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	return r, func() {
		if err := r.Close(); err != nil {
			appLog.Warn("redis close failed", "error", err.Error())
		}
	}, nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/epcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.envFile, "env-file", ".env", "Optional .env file applied before the environment is read")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Build one user's calendar to stdout and exit")
	flag.StringVar(&cfg.user, "user", "", "Username for -once")

	flag.Parse()

	return cfg
}
