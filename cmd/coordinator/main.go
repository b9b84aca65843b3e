package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/rendermesh/internal/cluster"
	"github.com/dreamware/rendermesh/internal/config"
	"github.com/dreamware/rendermesh/internal/coordinator"
	"github.com/dreamware/rendermesh/internal/job"
	"github.com/dreamware/rendermesh/internal/logging"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "rendermesh: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("rendermesh", flag.ContinueOnError)
	path := fs.String("config", getenv(config.EnvConfig, ""), "path to a TOML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*path)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	client := cluster.NewClient(cfg.Backend.URL, cfg.Backend.Timeout)
	rec := coordinator.NewReconciler(log)
	sess := coordinator.NewSession(client, rec, job.NewPipeline(log), coordinator.Options{
		Interval:    cfg.Poll.Interval,
		AutoReelect: cfg.Failover.AutoReelect,
	}, log)
	srv := newServer(sess, log, cfg.Metrics.Enabled)

	httpSrv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return sess.Run(gctx) })
	g.Go(func() error {
		log.WithFields(logrus.Fields{"addr": cfg.Server.Listen, "backend": client.BaseURL()}).Info("rendermesh listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("rendermesh stopped")
	return err
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
