package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/eddielth/digitanimal-trans/actions"
	"github.com/eddielth/digitanimal-trans/config"
	"github.com/eddielth/digitanimal-trans/digitanimal"
	"github.com/eddielth/digitanimal-trans/dispatcher"
	"github.com/eddielth/digitanimal-trans/ingest"
	"github.com/eddielth/digitanimal-trans/logger"
	"github.com/eddielth/digitanimal-trans/runner"
	"github.com/eddielth/digitanimal-trans/server"
	"github.com/eddielth/digitanimal-trans/storage"
	"github.com/eddielth/digitanimal-trans/transformer"
)

const actionServe = "serve"

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	action := flag.String("action", actionServe, "auth | pull_observations | pull_historical_observations | serve")
	startDate := flag.String("start", "", "historical start date, overrides the configured one")
	endDate := flag.String("end", "", "historical end date, overrides the configured one")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	l := cfg.Logger
	if err := logger.InitFromConfig(l.Level, l.FilePath, l.MaxSize, l.MaxBackups, l.Console); err != nil {
		log.Fatalf("failed to initialise logger: %v", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	// A second signal terminates immediately.
	context.AfterFunc(ctx, stop)

	if err := run(ctx, *configPath, cfg, *action, runner.Params{StartDate: *startDate, EndDate: *endDate}); err != nil {
		logger.Error("%v", err)
		logger.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, cfg *config.Config, action string, params runner.Params) error {
	state, err := storage.NewStateStore(ctx, cfg.State)
	if err != nil {
		return fmt.Errorf("init state store: %w", err)
	}
	defer state.Close()

	sink, err := ingest.New(ctx, cfg.Ingestion)
	if err != nil {
		return fmt.Errorf("init ingestion sink: %w", err)
	}
	defer sink.Close()

	tr, err := transformer.New(cfg.Transformer)
	if err != nil {
		return fmt.Errorf("init transformer: %w", err)
	}

	v := cfg.Vendor
	client := digitanimal.NewClient(digitanimal.Timeouts{
		Connect: v.ConnectTimeout,
		Read:    v.ReadTimeout,
		Write:   v.WriteTimeout,
		Pool:    v.PoolTimeout,
	}, digitanimal.WithMaxConnections(v.MaxConnections))

	d := dispatcher.New(sink,
		dispatcher.WithBatchSize(cfg.Dispatch.BatchSize),
		dispatcher.WithRateLimit(cfg.Dispatch.RateLimit),
	)

	r := runner.New(actions.NewHandler(client, state, tr, d), cfg)

	if action != actionServe {
		result, err := r.Run(context.WithoutCancel(ctx), action, params)
		if err != nil {
			return err
		}
		out, err := json.Marshal(result)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	return serve(ctx, configPath, cfg, r, tr)
}

func serve(ctx context.Context, configPath string, cfg *config.Config, r *runner.Runner, tr *transformer.Transformer) error {
	err := config.WatchConfig(configPath, func(newCfg *config.Config) error {
		r.UpdateConfig(newCfg)
		if err := tr.Reload(newCfg.Transformer); err != nil {
			return err
		}
		logger.Info("state, ingestion and server settings take effect after restart")
		return nil
	})
	if err != nil {
		logger.Warn("config watch disabled: %v", err)
	}

	srv := server.New(cfg.Server.Addr, r)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	logger.Info("connector for integration %s started", cfg.Integration.ID)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
