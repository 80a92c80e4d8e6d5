package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manifest describes a batch upload:
//
//	dataset: doi:10.5072/FK2/ABCDEF
//	files:
//	  - path: raw/run1.csv
//	    description: First run
//	    directoryLabel: raw
//	    categories: [Data]
//	    restrict: false
//	    mimeType: text/csv
//	    tabIngest: false
//
// Relative paths are resolved against the manifest's directory.
type Manifest struct {
	Dataset string          `yaml:"dataset"`
	Files   []ManifestEntry `yaml:"files"`
}

// ManifestEntry is one file and its dataset metadata.
type ManifestEntry struct {
	Path           string   `yaml:"path"`
	Description    string   `yaml:"description"`
	DirectoryLabel string   `yaml:"directoryLabel"`
	Categories     []string `yaml:"categories"`
	Restrict       bool     `yaml:"restrict"`
	MimeType       string   `yaml:"mimeType"`
	TabIngest      *bool    `yaml:"tabIngest"`
}

// loadManifest reads and validates a manifest file.
func loadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	if len(m.Files) == 0 {
		return nil, errors.New("manifest lists no files")
	}

	base := filepath.Dir(path)
	seen := make(map[string]bool, len(m.Files))
	for i := range m.Files {
		e := &m.Files[i]
		if e.Path == "" {
			return nil, fmt.Errorf("manifest entry %d has no path", i+1)
		}
		if !filepath.IsAbs(e.Path) {
			e.Path = filepath.Join(base, e.Path)
		}
		if seen[e.Path] {
			return nil, fmt.Errorf("manifest lists %s twice", e.Path)
		}
		seen[e.Path] = true
	}
	return &m, nil
}
