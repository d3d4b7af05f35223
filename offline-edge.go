// Package offlineedge implements the request interception layer for the
// stevedore dashboard: a handler registered in front of the origin that
// applies a per-request-class caching strategy and keeps a versioned
// precache of critical assets so the dashboard stays usable offline.
//
// Strategy per request class (fixed policy):
//
//   - navigation requests: network-first, offline fallback page on failure
//   - API requests: network-first, cached response on failure, else a
//     structured 503 body
//   - everything else (static assets): cache-first, with write-back of
//     fetched assets
//
// The layer keeps no request state in memory. Every dispatch decision
// consults only its config and the durable cache, so the process can be
// torn down and restarted between requests without losing behavior.
package offlineedge

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stevedore-dashboard/offline-edge/cache"
	tee "github.com/stevedore-dashboard/offline-edge/pkg/response-tee"
	"github.com/stevedore-dashboard/offline-edge/syncstore"
)

type Config struct {
	// Storage for cached responses.
	Cache cache.Provider
	// URL of the origin server.
	// Origins with paths are not supported.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Manifest describes the cache generation and precache contents.
	Manifest Manifest
	// Syncer for the background-sync trigger. Optional.
	Syncer *syncstore.Syncer
	// Notifier displays push notifications. Optional.
	Notifier Notifier
	// Windows locates and opens dashboard windows on notification clicks.
	// Optional.
	Windows WindowClients
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

type OfflineEdge struct {
	cache      cache.Provider
	originURL  url.URL
	originHost string
	manifest   Manifest
	httpClient http.Client
	syncer     *syncstore.Syncer
	notifier   Notifier
	windows    WindowClients
	log        zerolog.Logger
}

// New initializes the interception layer. It does not install the precache;
// call Install and Activate (or InstallAndActivate) separately so a failed
// install leaves the previous generation serving.
func New(config Config) *OfflineEdge {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	logger = logger.With().
		Str("origin", config.OriginURL.String()).
		Str("generation", config.Manifest.Generation).
		Logger()

	o := &OfflineEdge{
		cache:      config.Cache,
		originURL:  config.OriginURL,
		originHost: config.OriginHost,
		manifest:   config.Manifest.withDefaults(),
		syncer:     config.Syncer,
		notifier:   config.Notifier,
		windows:    config.Windows,
		log:        logger,
		httpClient: http.Client{
			// do not follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}

	// use provided hostname for origin if configured
	if o.originHost != "" {
		o.httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				ServerName: o.originHost,
			},
		}
	}

	return o
}

// ServeHTTP implements the http.Handler interface.
func (o *OfflineEdge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case o.isAPI(r):
		o.handleAPI(w, r)
	case isNavigation(r):
		o.handleNavigation(w, r)
	default:
		o.handleStatic(w, r)
	}
}

func (o *OfflineEdge) isAPI(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, o.manifest.APIPrefix)
}

// isNavigation reports whether the request is a top-level page load.
func isNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// requestKey is the cache key for a request within a generation bucket.
// Only GET responses are ever cached.
func requestKey(r *http.Request) string {
	return r.URL.RequestURI()
}

// handleNavigation tries the network and serves the precached offline page
// when the origin is unreachable.
func (o *OfflineEdge) handleNavigation(w http.ResponseWriter, r *http.Request) {
	res, err := o.fetchOrigin(r)
	if err == nil {
		o.sendLive(w, r, res, false)
		return
	}
	o.log.Debug().Err(err).Str("url", r.URL.String()).Msg("Navigation fetch failed, serving offline page")
	if o.sendCached(w, r, o.manifest.OfflinePath, "FALLBACK") {
		return
	}
	http.Error(w, "Offline and no fallback page cached", http.StatusServiceUnavailable)
}

// handleAPI is network-first with write-through caching: successful GET
// responses are stored keyed by request, and served again when the network
// fails. With no cached response the client gets a structured 503 so the
// UI can tell "offline" apart from a hard failure.
func (o *OfflineEdge) handleAPI(w http.ResponseWriter, r *http.Request) {
	res, err := o.fetchOrigin(r)
	if err == nil {
		o.sendLive(w, r, res, r.Method == http.MethodGet)
		return
	}
	o.log.Debug().Err(err).Str("url", r.URL.String()).Msg("API fetch failed, trying cache")
	if r.Method == http.MethodGet && o.sendCached(w, r, requestKey(r), "HIT") {
		return
	}
	o.sendOfflineError(w, r)
}

// handleStatic is cache-first: a cached asset is served immediately, and
// fetched assets are written back for next time.
func (o *OfflineEdge) handleStatic(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && o.sendCached(w, r, requestKey(r), "HIT") {
		return
	}
	res, err := o.fetchOrigin(r)
	if err != nil {
		o.log.Error().Err(err).Str("url", r.URL.String()).Msg("Error connecting to origin")
		http.Error(w, "Could not connect to origin", http.StatusBadGateway)
		return
	}
	o.sendLive(w, r, res, r.Method == http.MethodGet)
}

// fetchOrigin forwards the request to the origin. The returned response has
// its body fully read and replaced with an in-memory reader.
func (o *OfflineEdge) fetchOrigin(r *http.Request) (*http.Response, error) {
	target := o.originURL.ResolveReference(&url.URL{
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	})
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		return nil, err
	}
	copyHeader(req.Header, r.Header)
	if o.originHost != "" {
		req.Host = o.originHost
	}
	res, err := o.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		return nil, err
	}
	res.Body = io.NopCloser(strings.NewReader(string(body)))
	res.ContentLength = int64(len(body))
	return res, nil
}

// sendLive writes the origin response to the client, storing a copy in the
// active generation bucket when store is set and the response is a 2xx.
func (o *OfflineEdge) sendLive(w http.ResponseWriter, r *http.Request, res *http.Response, store bool) {
	body, err := io.ReadAll(res.Body)
	if err != nil {
		o.log.Error().Err(err).Msg("Could not read origin response body")
		http.Error(w, "Could not read origin response", http.StatusBadGateway)
		return
	}

	if store && res.StatusCode >= 200 && res.StatusCode <= 299 {
		recorder := tee.NewRecorder(nil)
		copyHeader(recorder.Header(), res.Header)
		recorder.WriteHeader(res.StatusCode)
		recorder.Write(body)
		if err := o.cache.Put(o.manifest.Generation, requestKey(r), recorder.Bytes()); err != nil {
			o.log.Error().Err(err).Str("key", requestKey(r)).Msg("Could not write to cache")
		}
	}

	copyHeader(w.Header(), res.Header)
	w.Header().Set("X-Cache", "MISS")
	w.WriteHeader(res.StatusCode)
	if _, err := w.Write(body); err != nil {
		o.log.Error().Err(err).Msg("Could not write response body to client")
	}
	o.logRequest(r, "MISS")
}

// sendCached serves the stored response for key from the active bucket.
// It returns false if no usable entry exists.
func (o *OfflineEdge) sendCached(w http.ResponseWriter, r *http.Request, key, cacheStatus string) bool {
	recorded, ok, err := o.cache.Get(o.manifest.Generation, key)
	if err != nil {
		o.log.Error().Err(err).Str("key", key).Msg("Could not retrieve from cache")
		return false
	}
	if !ok {
		return false
	}
	res, err := tee.ReadResponse(recorded)
	if err != nil {
		o.log.Error().Err(err).Str("key", key).Msg("Could not parse cached response")
		return false
	}
	defer res.Body.Close()
	copyHeader(w.Header(), res.Header)
	w.Header().Set("X-Cache", cacheStatus)
	w.WriteHeader(res.StatusCode)
	if _, err := io.Copy(w, res.Body); err != nil {
		o.log.Error().Err(err).Msg("Could not write response body to client")
	}
	o.logRequest(r, cacheStatus)
	return true
}

// sendOfflineError writes the structured offline body so the presentation
// layer can distinguish "offline, nothing cached" from a hard failure.
func (o *OfflineEdge) sendOfflineError(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "MISS")
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "offline",
		"message": "Network unavailable and no cached data for this request",
	})
	o.logRequest(r, "MISS")
}

// SyncTagShipStatus names the background-sync trigger for queued ship
// status updates.
const SyncTagShipStatus = "ship-status-sync"

// HandleSync runs the background-sync replay for a recognized tag,
// returning the records confirmed synced. Unknown tags are ignored.
// The replay reads this layer's own durable store, never the page-side
// mutation queue: the two queues are intentionally disjoint.
func (o *OfflineEdge) HandleSync(ctx context.Context, tag string) ([]syncstore.Record, error) {
	if tag != SyncTagShipStatus {
		return nil, nil
	}
	return o.SyncNow(ctx)
}

// SyncNow runs one background-sync replay pass immediately.
func (o *OfflineEdge) SyncNow(ctx context.Context) ([]syncstore.Record, error) {
	if o.syncer == nil {
		return []syncstore.Record{}, nil
	}
	return o.syncer.Sync(ctx)
}

func (o *OfflineEdge) logRequest(r *http.Request, cacheStatus string) {
	hit := 0
	if cacheStatus != "MISS" {
		hit = 1
	}
	o.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("status", cacheStatus).
		Int("hit", hit).
		Msg("Sending response to client")
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// strip hop-forwarding headers some origins reject
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
