package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"folio/internal/app"
	"folio/internal/config"
	"folio/internal/gather"
	"folio/internal/httpapi"
	"folio/internal/rpc"
	"folio/internal/util"
)

func main() {
	_ = godotenv.Load(".env")

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	schedule, err := parseSchedule(cfg.Sync.Schedule)
	if err != nil {
		log.Fatalf("sync.schedule: %v", err)
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		log.Fatalf("initializing: %v", err)
	}
	defer a.Close()

	if err := a.Primary.Validate(); err != nil {
		logger.Warn("alpaca credentials not configured; sync requests will fail", "error", err)
	}

	api := httpapi.NewServer(a.Syncer, a.Store, a.Store, a, cfg.Sync.StartDate, logger,
		httpapi.WithSyncTimeout(cfg.Sync.Timeout))
	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	gs := grpc.NewServer()
	rpc.NewServer(a.Syncer, logger).RegisterGRPC(gs)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var scheduler *cron.Cron
	if schedule != nil {
		scheduler = cron.New(cron.WithLocation(time.UTC))
		scheduler.Schedule(schedule, cron.FuncJob(func() {
			_ = gather.RunOnce(ctx, a.Syncer, cfg.Sync.Timeout, logger)
		}))
		scheduler.Start()
		logger.Info("scheduled sync enabled", "schedule", cfg.Sync.Schedule)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCAddr())
		if err != nil {
			return err
		}
		logger.Info("gRPC server listening", "addr", lis.Addr().String())
		return gs.Serve(lis)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down folio-server")

		if scheduler != nil {
			<-scheduler.Stop().Done()
		}
		gs.GracefulStop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
	}
}

// parseSchedule parses a standard five-field cron expression. An empty
// spec disables scheduled syncs and returns a nil schedule.
func parseSchedule(spec string) (cron.Schedule, error) {
	if spec == "" {
		return nil, nil
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", spec, err)
	}
	return sched, nil
}
