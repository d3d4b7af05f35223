package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	offlineedge "github.com/stevedore-dashboard/offline-edge"
	"github.com/stevedore-dashboard/offline-edge/cache"
	"github.com/stevedore-dashboard/offline-edge/syncstore"
)

var (
	// CLI flags
	portFlag           int
	originFlag         string
	hostFlag           string
	dbFilenameFlag     string
	syncDbFlag         string
	manifestFlag       string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&originFlag, "origin", "", "Origin URL of the dashboard backend")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin")
	flag.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flag.StringVar(&dbFilenameFlag, "db", "edge-cache.db", "Cache DB file name (use 'memory' for in-memory db)")
	flag.StringVar(&syncDbFlag, "sync-db", "StevedoreDB", "Background sync DB file name")
	flag.StringVar(&manifestFlag, "manifest", "", "Path to precache manifest yaml (built-in manifest if empty)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	if originFlag == "" {
		log.Fatal().Msg("Please specify origin")
	}
	originUrl, err := url.Parse(originFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse origin url")
	}

	manifest := offlineedge.DefaultManifest()
	if manifestFlag != "" {
		manifest, err = offlineedge.LoadManifest(manifestFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not load manifest")
		}
	}

	dbFilename := dbFilenameFlag
	if dbFilename == "memory" {
		dbFilename = "file::memory:?cache=shared"
	}

	syncer := &syncstore.Syncer{
		Open: func() (*syncstore.Store, error) {
			return syncstore.Open(syncDbFlag)
		},
		Endpoint: originUrl.ResolveReference(&url.URL{Path: "/api/ship-status"}).String(),
		Logger:   &log.Logger,
	}

	edge := offlineedge.New(offlineedge.Config{
		Cache:      cache.NewSQLiteCache(dbFilename),
		OriginURL:  *originUrl,
		OriginHost: hostFlag,
		Manifest:   manifest,
		Syncer:     syncer,
	})

	// Install the new generation. A failed install is not fatal: any
	// previously activated generation keeps serving.
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	if err := edge.InstallAndActivate(ctx); err != nil {
		log.Error().Err(err).Msg("Precache install failed, previous generation remains active")
	}
	cancel()

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Post("/-/sync", func(w http.ResponseWriter, req *http.Request) {
		synced, err := edge.HandleSync(req.Context(), offlineedge.SyncTagShipStatus)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]int{"synced": len(synced)})
	})
	r.Handle("/*", edge)

	log.Info().Msgf("Serving port %v for origin %s (generation '%s')",
		portFlag, originUrl.String(), manifest.Generation)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", portFlag), r); err != nil {
		panic(err)
	}
}
