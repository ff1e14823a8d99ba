package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fund-crawler/internal/api"
	"github.com/sells-group/fund-crawler/internal/model"
	"github.com/sells-group/fund-crawler/internal/monitoring"
	"github.com/sells-group/fund-crawler/internal/schedule"
)

var servePort int

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the crawl scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		// srvAPI is assigned before the scheduler can start a run.
		var srvAPI *api.Server
		env, err := buildCrawler(cfg, st, func(*model.CrawlRun) {
			if srvAPI != nil {
				srvAPI.FlushCache()
			}
		})
		if err != nil {
			return err
		}
		defer env.Close()
		defer env.Orchestrator.Wait()

		// On-demand runs finish on their own even after a shutdown signal.
		collector := monitoring.NewCollector(st)
		srvAPI = api.New(context.WithoutCancel(ctx), st, env.Orchestrator, cfg.Server).WithMetrics(collector)

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		sched, err := schedule.New(env.Orchestrator, cfg.Crawl.Schedule)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()

		if cfg.Crawl.RunOnStart {
			if err := env.Orchestrator.Start(context.WithoutCancel(ctx), model.CrawlTriggerSchedule, func(_ *model.CrawlRun, err error) {
				if err != nil {
					zap.L().Error("initial crawl failed", zap.Error(err))
				}
			}); err != nil {
				zap.L().Warn("initial crawl not started", zap.Error(err))
			}
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           srvAPI.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
