package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest records what a run published.
type Manifest struct {
	RunID       string          `yaml:"run_id"`
	PublishedAt time.Time       `yaml:"published_at"`
	Compression string          `yaml:"compression"`
	Tables      []TableManifest `yaml:"tables"`
}

// TableManifest describes one published table.
type TableManifest struct {
	Name        string   `yaml:"name"`
	Dir         string   `yaml:"dir"`
	PartitionBy []string `yaml:"partition_by,omitempty"`
	Rows        int      `yaml:"rows"`
	Files       []string `yaml:"files"`
}

// ReadManifest loads the manifest of the last published run under root.
func ReadManifest(root string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(root, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}

// Marshal encodes the manifest as YAML.
func (m *Manifest) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return data, nil
}

// writeManifest replaces the manifest under root via a temp file and rename.
func writeManifest(root string, m *Manifest) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	tmp := filepath.Join(root, ManifestFile+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(root, ManifestFile)); err != nil {
		return fmt.Errorf("renaming manifest: %w", err)
	}
	return nil
}
