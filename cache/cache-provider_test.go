package cache

import (
	"testing"
)

func providers(t *testing.T) map[string]Provider {
	return map[string]Provider{
		"mem":    NewMemCache(),
		"sqlite": NewSQLiteCache(t.TempDir() + "/cache.db"),
	}
}

func TestPutGet(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := p.Get("v1", "/missing"); err != nil || ok {
				t.Fatalf("Missing entry read as present (err %v)", err)
			}
			if err := p.Put("v1", "/a", []byte("one")); err != nil {
				t.Fatal(err)
			}
			if err := p.Put("v1", "/a", []byte("two")); err != nil {
				t.Fatal(err)
			}
			bytes, ok, err := p.Get("v1", "/a")
			if err != nil || !ok || string(bytes) != "two" {
				t.Fatalf("Got %s (present %v, err %v)", bytes, ok, err)
			}
			if !p.Has("v1", "/a") || p.Has("v2", "/a") {
				t.Fatal("Has answers wrong")
			}
		})
	}
}

func TestBucketsAndDelete(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			p.Put("v1", "/a", []byte("old"))
			p.Put("v2", "/a", []byte("new"))

			buckets, err := p.Buckets()
			if err != nil || len(buckets) != 2 {
				t.Fatalf("Buckets are %v (err %v)", buckets, err)
			}

			if err := p.DeleteBucket("v1"); err != nil {
				t.Fatal(err)
			}
			if _, ok, _ := p.Get("v1", "/a"); ok {
				t.Fatal("Deleted bucket entry still retrievable")
			}
			if bytes, ok, _ := p.Get("v2", "/a"); !ok || string(bytes) != "new" {
				t.Fatalf("Surviving bucket entry is %s (present %v)", bytes, ok)
			}
			buckets, _ = p.Buckets()
			if len(buckets) != 1 || buckets[0] != "v2" {
				t.Fatalf("Buckets after delete are %v", buckets)
			}
		})
	}
}

func TestKeysCallback(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			p.Put("v1", "/a", []byte("a"))
			p.Put("v1", "/b", []byte("b"))
			p.Put("v2", "/c", []byte("c"))

			seen := map[string]bool{}
			p.Keys("v1", func(key string) { seen[key] = true })
			if len(seen) != 2 || !seen["/a"] || !seen["/b"] {
				t.Fatalf("Keys saw %v", seen)
			}
		})
	}
}
