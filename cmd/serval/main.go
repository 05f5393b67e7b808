package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/spf13/cobra"

	"github.com/serval/serval/config"
	"github.com/serval/serval/database"
	"github.com/serval/serval/pkg/log"
	"github.com/serval/serval/pkg/metrics"
	"github.com/serval/serval/scheduler"
	"github.com/serval/serval/server"
	"github.com/serval/serval/site"
	"github.com/serval/serval/stats"
	"github.com/serval/serval/tracker"
)

var version = "dev"

func main() {
	var (
		configPath string
		daemonize  bool
	)

	rootCmd := &cobra.Command{
		Use:     "serval",
		Short:   "Private BitTorrent tracker",
		Long:    "A private gazelle-backed BitTorrent tracker.",
		Version: version,
		Run: func(cmd *cobra.Command, args []string) {
			if daemonize {
				log.Warn("daemonization is not supported; use a service manager instead")
			}
			if err := run(configPath); err != nil {
				log.Fatal("startup failed", log.Err(err))
			}
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the configuration file")
	rootCmd.Flags().BoolVarP(&daemonize, "daemonize", "d", false, "run in the background")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(cfg *config.Config) {
	if !cfg.Logging.Log {
		log.Discard()
		return
	}
	log.SetLevel(cfg.Logging.LogLevel)
	if !cfg.Logging.LogConsole {
		log.SetOutput(io.Discard)
	}
	if cfg.Logging.LogFile {
		if err := log.OpenFile(cfg.Logging.LogPath); err != nil {
			log.Warn("could not open log file", log.Err(err))
		}
	}
}

func run(configPath string) error {
	cfg, err := config.Open(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg)
	log.Info("starting serval", log.Fields{"version": version})
	if cfg.Debug.Readonly {
		log.Warn("readonly mode: nothing will be written to the database or site")
	}

	db, err := database.Open(cfg)
	if err != nil {
		return err
	}

	clk := clock.New()
	st := stats.New(clk.Now())
	siteClient := site.New(cfg)
	tr := tracker.New(cfg, clk, st, db, siteClient)

	if err := tr.ReloadLists(db); err != nil {
		return err
	}
	if err := db.ResetPeerData(); err != nil {
		return err
	}

	db.Start()
	siteClient.Start()

	sched := scheduler.New(cfg, clk, st, db, siteClient, tr)
	sched.Start()

	var metricsSrv *metrics.Server
	if cfg.Internal.MetricsListen != "" {
		metricsSrv = metrics.NewServer(cfg.Internal.MetricsListen, st.Collector())
	}

	srv := server.New(cfg, tr, st)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)

	stopping := false
	for {
		select {
		case err := <-serveErr:
			if err != nil {
				return err
			}
			return nil
		case sig := <-sigs:
			switch sig {
			case syscall.SIGHUP:
				reloadConfig(configPath, tr)
			case syscall.SIGUSR1:
				log.Info("reloading lists from database")
				go func() {
					// Announces see "temporarily unavailable" while the
					// maps rebuild.
					tr.SetStatus(tracker.StatusPaused)
					if err := tr.ReloadLists(db); err != nil {
						log.Error("list reload failed", log.Err(err))
					}
					tr.SetStatus(tracker.StatusOpen)
				}()
			case syscall.SIGINT, syscall.SIGTERM:
				if stopping {
					log.Warn("forced shutdown")
					os.Exit(1)
				}
				stopping = true
				log.Info("shutting down, interrupt again to force")
				go func() {
					shutdown(srv, sched, siteClient, db, metricsSrv, tr)
					serveErr <- nil
				}()
			}
		}
	}
}

// reloadConfig re-reads the configuration file and applies the knobs
// that can change at runtime.
func reloadConfig(configPath string, tr *tracker.Tracker) {
	cfg, err := config.Open(configPath)
	if err != nil {
		log.Error("config reload failed", log.Err(err))
		return
	}
	setupLogging(cfg)
	tr.SetAnnounceInterval(int64(cfg.Tracker.AnnounceInterval))
	log.Info("configuration reloaded")
}

func shutdown(srv *server.Server, sched *scheduler.Scheduler, siteClient *site.Client,
	db *database.Database, metricsSrv *metrics.Server, tr *tracker.Tracker) {
	tr.SetStatus(tracker.StatusClosing)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown failed", log.Err(err))
	}

	sched.Stop()
	siteClient.Close()
	if err := db.Close(); err != nil {
		log.Error("database close failed", log.Err(err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Stop(); err != nil {
			log.Error("metrics shutdown failed", log.Err(err))
		}
	}
	log.Info("shutdown complete")
}
