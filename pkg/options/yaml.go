package options

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// Load reads an Options value from a YAML file at path. sigs.k8s.io/yaml
// round-trips through the struct's existing JSON tags, so the on-disk
// vaultd.yaml uses the same field names as the JSON representation without
// a second set of struct tags.
func Load(path string) (Options, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("reading options file %s: %w", path, err)
	}

	opts := NewDefaultOptions()
	if err := yaml.Unmarshal(raw, &opts); err != nil {
		return Options{}, fmt.Errorf("parsing options file %s: %w", path, err)
	}
	return opts, nil
}

// Save writes opts to path as YAML with 0644 permissions.
func Save(path string, opts Options) error {
	raw, err := yaml.Marshal(opts)
	if err != nil {
		return fmt.Errorf("encoding options: %w", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("writing options file %s: %w", path, err)
	}
	return nil
}
