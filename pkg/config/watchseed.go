package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WatchSeed describes one watch to create automatically at startup,
// identifying the target GPU by its discovery index rather than its key
// (which is not known until after discovery runs). Seeding is
// non-persistent: it only ever runs once, at process start.
type WatchSeed struct {
	GPUIndexes []int    `yaml:"gpu_indexes"`
	Attributes []string `yaml:"attributes"`
	IntervalMS uint32   `yaml:"interval_ms"`
}

type watchSeedFile struct {
	Watches []WatchSeed `yaml:"watches"`
}

// LoadWatchSeeds parses path as a YAML watch-seed file. An empty path is
// not an error: it simply yields no seeds.
func LoadWatchSeeds(path string) ([]WatchSeed, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading watch seed file %s: %w", path, err)
	}
	var f watchSeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parsing watch seed file %s: %w", path, err)
	}
	return f.Watches, nil
}
