// The offline-agent binary exercises the page-side stack headlessly: it
// polls the dashboard API through the cache-aside gateway on the configured
// refresh interval, keeps local snapshots current, and lets the connectivity
// monitor replay queued writes whenever the origin comes back.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stevedore-dashboard/offline-edge/gateway"
	"github.com/stevedore-dashboard/offline-edge/monitor"
	"github.com/stevedore-dashboard/offline-edge/queue"
	"github.com/stevedore-dashboard/offline-edge/store"
)

var (
	originFlag         string
	dbFilenameFlag     string
	verbosityTraceFlag bool
)

func init() {
	flag.StringVar(&originFlag, "origin", "", "Origin URL of the dashboard backend")
	flag.StringVar(&dbFilenameFlag, "db", "agent-store.db", "Snapshot store DB file name (use 'memory' for in-memory db)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
}

func main() {
	flag.Parse()

	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}
	log.Logger = log.Level(logLevel).Output(zerolog.ConsoleWriter{Out: os.Stdout})

	if originFlag == "" {
		log.Fatal().Msg("Please specify origin")
	}

	dbFilename := dbFilenameFlag
	if dbFilename == "memory" {
		dbFilename = "file::memory:?cache=shared"
	}

	snapshots := store.New(store.Config{
		KV:     store.NewSQLiteKV(dbFilename),
		Logger: &log.Logger,
	})

	var mon *monitor.Monitor
	ops := queue.New(queue.Config{
		Store:  snapshots,
		Logger: &log.Logger,
		Online: func() bool { return mon.Online() },
	})
	gw := gateway.New(gateway.Config{
		Store:  snapshots,
		Queue:  ops,
		Logger: &log.Logger,
	})
	mon = monitor.New(monitor.Config{
		Queue:  ops,
		Prober: monitor.HTTPProber{URL: originFlag + "/healthz"},
		OnChange: func(online bool) {
			log.Info().Bool("online", online).Msg("Connectivity changed")
		},
		OnReplayed: func(processed int) {
			log.Info().Int("processed", processed).Msg("Replayed queued operations")
		},
		Logger: &log.Logger,
	})

	ctx := context.Background()
	go mon.Run(ctx)

	interval := time.Duration(snapshots.Settings().RefreshIntervalMs) * time.Millisecond
	log.Info().Msgf("Polling %s every %s", originFlag, interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		refresh(ctx, gw)
		<-ticker.C
	}
}

func refresh(ctx context.Context, gw *gateway.Gateway) {
	for _, path := range []string{"/api/ships", "/api/analytics"} {
		result, err := gw.Call(ctx, originFlag+path, gateway.Options{})
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Refresh failed")
			continue
		}
		log.Debug().
			Str("path", path).
			Str("outcome", result.Outcome.String()).
			Msg("Refreshed snapshot")
	}
}
