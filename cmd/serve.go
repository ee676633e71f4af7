package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sunbk201/netrule/internal/api"
	"github.com/sunbk201/netrule/internal/config"
	applog "github.com/sunbk201/netrule/internal/log"
	"github.com/sunbk201/netrule/internal/rule"
	"github.com/sunbk201/netrule/internal/rule/common"
	"github.com/sunbk201/netrule/internal/statistics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load the settings and serve the rule API until signalled",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringP("api", "a", "", "API listen address, e.g. 127.0.0.1:9000")
	serveCmd.Flags().String("secret", "", "API bearer secret")
	_ = viper.BindPFlag("api-server", serveCmd.Flags().Lookup("api"))
	_ = viper.BindPFlag("api-server-secret", serveCmd.Flags().Lookup("secret"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.BuildConfigFromViper()
	if err != nil {
		return err
	}

	lb := applog.NewBroadcaster()
	addShutdown("log.Close", applog.SetLogConf(cfg.LogLevel, cfg.LogFile, lb).Close)
	applog.LogHeader(AppVersion, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, _, err := newRuntime(ctx, cfg)
	if err != nil {
		slog.Error("newRuntime", slog.Any("error", err))
		shutdown()
		return err
	}

	statsFile := cfg.StatsFile
	if statsFile == "" {
		statsFile = applog.GetStatsFilePath("rule_hits.log")
	}
	stats := statistics.New(statsFile)
	statsDone := stats.Run(ctx)
	addShutdown("stats.Dump", func() error {
		cancel()
		<-statsDone
		return nil
	})

	engine := rt.engine(rule.WithRecorder(stats))

	if cfg.APIServer != "" {
		srv := api.New(AppVersion, cfg, rt.holder, engine, stats, rt.local, lb)
		if err := srv.Start(); err != nil {
			slog.Error("api.Start", slog.Any("error", err))
			shutdown()
			return err
		}
		addShutdown("api.Close", srv.Close)
	} else {
		slog.Warn("No api-server configured, rules are loaded but not served")
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	for s := range signals {
		slog.Info("Received signal", slog.String("signal", s.String()))
		switch s {
		case syscall.SIGHUP:
			if _, err := rt.holder.Reload(ctx); err != nil {
				slog.Error("Settings reload failed", slog.Any("error", err))
				continue
			}
			for _, d := range common.Domains {
				stats.Reset(d)
			}
		default:
			shutdown()
			return nil
		}
	}
	return nil
}
