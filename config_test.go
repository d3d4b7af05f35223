package offlineedge

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadManifest(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "manifest.yaml")
	content := `generation: stevedore-dashboard-v7
precache:
  - /
  - /offline
offlinePath: /offline
apiPrefix: /api/
`
	if err := os.WriteFile(filename, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	manifest, err := LoadManifest(filename)
	if err != nil {
		t.Fatal(err)
	}
	if manifest.Generation != "stevedore-dashboard-v7" {
		t.Fatalf("Generation is %s", manifest.Generation)
	}
	if len(manifest.Precache) != 2 {
		t.Fatalf("Precache is %v", manifest.Precache)
	}
}

func TestLoadManifestFillsDefaults(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "manifest.yaml")
	if err := os.WriteFile(filename, []byte("generation: v9\n"), 0644); err != nil {
		t.Fatal(err)
	}

	manifest, err := LoadManifest(filename)
	if err != nil {
		t.Fatal(err)
	}
	if manifest.Generation != "v9" {
		t.Fatalf("Generation is %s", manifest.Generation)
	}
	if manifest.OfflinePath != "/offline" || manifest.APIPrefix != "/api/" {
		t.Fatalf("Defaults missing: %+v", manifest)
	}
	if len(manifest.Precache) == 0 {
		t.Fatal("Precache default missing")
	}
}
