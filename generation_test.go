package offlineedge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stevedore-dashboard/offline-edge/cache"
)

func TestInstallPrecachesManifest(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("content of " + r.URL.Path))
	}))
	defer origin.Close()

	provider := cache.NewMemCache()
	edge := newEdgeWithCache(t, origin, provider, Manifest{
		Generation: "v1",
		Precache:   []string{"/", "/static/app.css", "/offline"},
	})

	if err := edge.Install(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, path := range []string{"/", "/static/app.css", "/offline"} {
		if !provider.Has("v1", path) {
			t.Fatalf("Path %s not precached", path)
		}
	}
}

func TestInstallIsAllOrNothing(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer origin.Close()

	provider := cache.NewMemCache()
	edge := newEdgeWithCache(t, origin, provider, Manifest{
		Generation: "v2",
		Precache:   []string{"/", "/missing", "/offline"},
	})

	if err := edge.Install(context.Background()); err == nil {
		t.Fatal("Install succeeded despite missing manifest entry")
	}
	// nothing from the failed generation may remain
	if provider.Has("v2", "/") {
		t.Fatal("Partial precache was committed")
	}
	buckets, _ := provider.Buckets()
	if len(buckets) != 0 {
		t.Fatalf("Buckets after failed install: %v", buckets)
	}
}

func TestActivationIsExclusive(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer origin.Close()

	provider := cache.NewMemCache()
	// a previous generation with a cached entry
	provider.Put("v1", "/offline", []byte("old generation entry"))

	edge := newEdgeWithCache(t, origin, provider, Manifest{
		Generation: "v2",
		Precache:   []string{"/offline"},
	})
	if err := edge.InstallAndActivate(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := provider.Get("v1", "/offline"); ok {
		t.Fatal("v1 entry still retrievable after v2 activation")
	}
	buckets, _ := provider.Buckets()
	if len(buckets) != 1 || buckets[0] != "v2" {
		t.Fatalf("Buckets after activation: %v", buckets)
	}
}

func TestFailedInstallLeavesPreviousGenerationActive(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer origin.Close()

	provider := cache.NewMemCache()
	provider.Put("v1", "/offline", []byte("old generation entry"))

	edge := newEdgeWithCache(t, origin, provider, Manifest{
		Generation: "v2",
		Precache:   []string{"/offline"},
	})
	if err := edge.InstallAndActivate(context.Background()); err == nil {
		t.Fatal("Install succeeded against a failing origin")
	}

	if _, ok, _ := provider.Get("v1", "/offline"); !ok {
		t.Fatal("Previous generation was discarded by the failed install")
	}
}

func newEdgeWithCache(t *testing.T, origin *httptest.Server, provider cache.Provider, manifest Manifest) *OfflineEdge {
	originUrl, err := url.Parse(origin.URL)
	if err != nil {
		t.Fatal(err)
	}
	return New(Config{
		Cache:     provider,
		OriginURL: *originUrl,
		Manifest:  manifest,
	})
}
