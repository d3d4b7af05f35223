// Package gateway implements the cache-aside entry point used by dashboard
// code for every API call. A successful call refreshes the local snapshot
// for its resource class; a failed call falls back to the cached snapshot
// and, for mutating verbs, durably queues the operation for later replay.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stevedore-dashboard/offline-edge/queue"
	"github.com/stevedore-dashboard/offline-edge/store"
)

// ErrNoData reports a failed call with nothing useful cached: the network was
// unreachable and no prior snapshot exists for the resource class.
var ErrNoData = errors.New("network failed and no cached data available")

// Outcome distinguishes the three observable results of a call. Callers must
// branch on it rather than conflating "offline" with "error".
type Outcome int

const (
	// OutcomeLive means the network succeeded and the value is fresh.
	OutcomeLive Outcome = iota
	// OutcomeFallback means the network failed and the value is the last
	// cached snapshot. If the call was mutating, the operation was queued
	// first (queued-with-fallback).
	OutcomeFallback
	// OutcomeNoData means the network failed and nothing useful was cached.
	// Calls with this outcome also return a non-nil error wrapping ErrNoData;
	// mutating calls still queued their operation before failing.
	OutcomeNoData
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLive:
		return "live"
	case OutcomeFallback:
		return "fallback"
	case OutcomeNoData:
		return "no-data"
	}
	return "unknown"
}

// Result is the value and provenance of a completed call.
type Result struct {
	Outcome Outcome
	// Value is the parsed JSON body (live) or cached snapshot (fallback).
	Value json.RawMessage
	// Queued is true if the call appended an operation to the mutation queue.
	Queued bool
}

// Options carries the request parameters of a call.
type Options struct {
	// Method defaults to GET.
	Method  string
	Headers map[string]string
	// Body is serialized as JSON when non-nil.
	Body interface{}
}

// resource classes recognized for snapshot caching; anything else passes
// through uncached
type class int

const (
	classNone class = iota
	classShips
	classAnalytics
)

func classOf(url string) class {
	switch {
	case strings.Contains(url, "/api/ships"):
		return classShips
	case strings.Contains(url, "/api/analytics"):
		return classAnalytics
	}
	return classNone
}

type Config struct {
	// Local snapshot store.
	Store *store.Store
	// Mutation queue for failed writes.
	Queue *queue.Queue
	// HTTP client. http.DefaultClient if nil.
	Client queue.Doer
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

type Gateway struct {
	store  *store.Store
	queue  *queue.Queue
	client queue.Doer
	log    zerolog.Logger
}

func New(config Config) *Gateway {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	client := config.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &Gateway{
		store:  config.Store,
		queue:  config.Queue,
		client: client,
		log:    logger.With().Str("component", "gateway").Logger(),
	}
}

// Call performs the request with cache-aside semantics and returns one of
// three outcomes: live, fallback, or no-data (with error).
func (g *Gateway) Call(ctx context.Context, url string, opts Options) (Result, error) {
	if opts.Method == "" {
		opts.Method = http.MethodGet
	}

	body, err := g.fetch(ctx, url, opts)
	if err == nil {
		g.cacheResult(url, opts.Method, body)
		g.log.Debug().
			Str("method", opts.Method).
			Str("url", url).
			Str("outcome", OutcomeLive.String()).
			Msg("Call completed")
		return Result{Outcome: OutcomeLive, Value: body}, nil
	}

	// Network failed. Queue the write, then try the cached snapshot.
	queued := false
	if opts.Method != http.MethodGet {
		if qErr := g.enqueue(url, opts); qErr != nil {
			g.log.Error().Err(qErr).Str("url", url).Msg("Could not queue operation")
		} else {
			queued = true
		}
	}

	if snapshot, ok := g.snapshot(url); ok {
		g.log.Debug().
			Str("method", opts.Method).
			Str("url", url).
			Str("outcome", OutcomeFallback.String()).
			Bool("queued", queued).
			Msg("Call completed from cache")
		return Result{Outcome: OutcomeFallback, Value: snapshot, Queued: queued}, nil
	}

	g.log.Warn().Err(err).
		Str("method", opts.Method).
		Str("url", url).
		Bool("queued", queued).
		Msg("Call failed with no cached data")
	return Result{Outcome: OutcomeNoData, Queued: queued},
		fmt.Errorf("%w: %v", ErrNoData, err)
}

// fetch performs the network request and returns the parsed body,
// or an error on transport failure or a non-2xx status.
func (g *Gateway) fetch(ctx context.Context, url string, opts Options) (json.RawMessage, error) {
	var reqBody io.Reader
	if opts.Body != nil {
		encoded, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, opts.Method, url, reqBody)
	if err != nil {
		return nil, err
	}
	if opts.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, value := range opts.Headers {
		req.Header.Set(name, value)
	}

	res, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &queue.StatusError{Code: res.StatusCode}
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		body = []byte("null")
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("response body is not valid JSON")
	}
	return body, nil
}

// cacheResult writes the parsed result into the snapshot store for the
// resource class. POSTs to the ships endpoint return the created ship, not
// the full list, so they are excluded from snapshot caching.
func (g *Gateway) cacheResult(url, method string, body json.RawMessage) {
	switch classOf(url) {
	case classShips:
		if method == http.MethodPost {
			return
		}
		if err := g.store.SaveShipsRaw(body); err != nil {
			g.log.Error().Err(err).Msg("Could not cache ships snapshot")
		}
	case classAnalytics:
		if err := g.store.SaveAnalyticsRaw(body); err != nil {
			g.log.Error().Err(err).Msg("Could not cache analytics snapshot")
		}
	}
}

// snapshot returns the cached value for the url's resource class.
func (g *Gateway) snapshot(url string) (json.RawMessage, bool) {
	switch classOf(url) {
	case classShips:
		if _, ok := g.store.GetRaw(store.KeyShips); ok {
			return g.store.ShipsRaw(), true
		}
	case classAnalytics:
		if _, ok := g.store.GetRaw(store.KeyAnalytics); ok {
			return g.store.AnalyticsRaw(), true
		}
	}
	return nil, false
}

func (g *Gateway) enqueue(url string, opts Options) error {
	op := queue.Operation{
		Target:  url,
		Method:  opts.Method,
		Headers: opts.Headers,
	}
	if opts.Body != nil {
		encoded, err := json.Marshal(opts.Body)
		if err != nil {
			return err
		}
		op.Body = encoded
	}
	return g.queue.Enqueue(op)
}
