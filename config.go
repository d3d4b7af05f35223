package offlineedge

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest describes one deployable cache generation: its identifier, the
// URLs precached at install time, the offline fallback page, and the API
// path prefix used for request classification. The manifest is fixed at
// deploy time and agreed with the serving backend.
type Manifest struct {
	Generation  string   `yaml:"generation"`
	Precache    []string `yaml:"precache"`
	OfflinePath string   `yaml:"offlinePath"`
	APIPrefix   string   `yaml:"apiPrefix"`
}

// DefaultManifest is the built-in manifest for the stevedore dashboard.
func DefaultManifest() Manifest {
	return Manifest{
		Generation: "stevedore-dashboard-v1",
		Precache: []string{
			"/",
			"/static/css/main.css",
			"/static/js/main.js",
			"/ship-status",
			"/berth-management",
			"/vessel-schedules",
			"/safety-protocols",
			"/emergency-contacts",
			"/tide-tables",
			"/offline",
		},
		OfflinePath: "/offline",
		APIPrefix:   "/api/",
	}
}

func (m Manifest) withDefaults() Manifest {
	defaults := DefaultManifest()
	if m.Generation == "" {
		m.Generation = defaults.Generation
	}
	if len(m.Precache) == 0 {
		m.Precache = defaults.Precache
	}
	if m.OfflinePath == "" {
		m.OfflinePath = defaults.OfflinePath
	}
	if m.APIPrefix == "" {
		m.APIPrefix = defaults.APIPrefix
	}
	return m
}

// LoadManifest reads a manifest from a yaml file. Fields left unset fall
// back to the built-in defaults.
func LoadManifest(filename string) (Manifest, error) {
	var manifest Manifest
	manifestBytes, err := os.ReadFile(filename)
	if err != nil {
		return manifest, err
	}
	if err := yaml.Unmarshal(manifestBytes, &manifest); err != nil {
		return manifest, err
	}
	return manifest.withDefaults(), nil
}
