// Command studioflow runs the generation catalogue against the simulated
// studio and prints what every job left behind.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davidroman0O/studioflow"
	"github.com/davidroman0O/studioflow/internal/capability/simulated"
	"github.com/davidroman0O/studioflow/internal/notify"
	"github.com/k0kubun/pp/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sasha-s/go-deadlock"
	"github.com/spf13/viper"
	"go.uber.org/automaxprocs/maxprocs"
)

// pose extraction fails this many times so the transfer exhausts its budget
// and the demo has something to retry
const poseFailures = 2

var logger = studioflow.NewDefaultLogger(studioflow.LevelInfo, studioflow.TextFormat)

func init() {
	maxprocs.Set()
	deadlock.Opts.DeadlockTimeout = time.Second * 2
	deadlock.Opts.OnPotentialDeadlock = func() {
		logger.Error(context.Background(), "potential deadlock detected")
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.Error(ctx, "studioflow stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := loadConfig(viper.New())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	format := studioflow.TextFormat
	if cfg.Log.Format == string(studioflow.JSONFormat) {
		format = studioflow.JSONFormat
	}
	logger = studioflow.NewDefaultLogger(studioflow.ParseLevel(cfg.Log.Level), format)

	studio := simulated.New(
		simulated.WithQualityScores(cfg.Demo.QualityScores...),
		simulated.WithFailures("pose", poseFailures),
	)

	opts := []studioflow.Option{
		studioflow.WithLogger(logger),
		studioflow.WithWorkers(cfg.Workers),
		studioflow.WithAdapters(studio.Adapters()),
		studioflow.WithRetryInterval(cfg.Retry.Interval, cfg.Retry.MaxInterval),
	}
	if cfg.DB.Path == "" {
		opts = append(opts, studioflow.WithMemory())
	} else {
		opts = append(opts, studioflow.WithSQLite(cfg.DB.Path))
		if cfg.DB.Destructive {
			opts = append(opts, studioflow.WithDestructive())
		}
	}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		opts = append(opts,
			studioflow.WithRedisGuard(client, cfg.Redis.TTL),
			studioflow.WithRedisPrefix(cfg.Redis.Prefix))
	}
	if cfg.Resend.APIKey != "" {
		sender, err := notify.NewResend(cfg.Resend.APIKey, notify.WithResendFrom(cfg.Resend.From))
		if err != nil {
			return err
		}
		opts = append(opts, studioflow.WithNotifier(sender))
	}

	var registry *prometheus.Registry
	if cfg.Metrics.Addr != "" {
		registry = prometheus.NewRegistry()
		opts = append(opts, studioflow.WithMetrics(registry))
	}

	sf, err := studioflow.New(ctx, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := sf.Close(); err != nil {
			logger.Error(ctx, "close", "error", err)
		}
	}()

	if registry != nil {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(sf)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(ctx, "metrics server", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info(ctx, "metrics listening", "addr", cfg.Metrics.Addr)
	}

	report, err := demo(ctx, sf, cfg)
	if err != nil {
		return err
	}
	pp.Println(report)
	return nil
}

func metricsMux(sf *studioflow.Studioflow) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", sf.MetricsHandler())
	return mux
}
