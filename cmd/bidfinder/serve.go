package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/oakbuilders/bid-finder/internal/api"
	"github.com/oakbuilders/bid-finder/internal/auth"
	"github.com/oakbuilders/bid-finder/internal/ingest"
	"github.com/oakbuilders/bid-finder/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the review API and metrics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		e, err := setup(ctx, true)
		if err != nil {
			return err
		}
		defer e.close()

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			metrics.NewStoreCollector(e.store, e.log),
		)
		m := metrics.New(reg)

		registry, err := ingest.LoadRegistry(viper.GetString("sources"))
		if err != nil {
			return err
		}
		configs, err := registry.Enabled()
		if err != nil {
			return err
		}
		sources, err := ingest.Sources(configs, e.log)
		if err != nil {
			return err
		}
		normalizer := ingest.NewNormalizer(e.profile, e.store.Engine().Matcher())
		pipeline := ingest.NewPipeline(e.store, normalizer, m, e.log).
			WithConcurrency(viper.GetInt("concurrency"))

		authSvc, err := auth.NewService(e.store.Backend(), e.log)
		if err != nil {
			return err
		}

		var origins []string
		if v := os.Getenv("CORS_ORIGINS"); v != "" {
			origins = strings.Split(v, ",")
		}
		srv, err := api.NewServer(e.store, authSvc, api.Options{
			CORSOrigins: origins,
			Gatherer:    reg,
			Pipeline:    pipeline,
			Sources:     sources,
		}, e.log)
		if err != nil {
			return err
		}

		errCh := make(chan error, 1)
		go func() {
			if err := srv.Start(viper.GetString("listen")); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		e.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			e.log.Error("shutdown", zap.Error(err))
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", ":8080", "address the API listens on")

	viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
}
