package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WorkerSpec describes how to start the worker binary for one game type.
type WorkerSpec struct {
	GameType string   `yaml:"game_type"`
	Path     string   `yaml:"path"`
	Args     []string `yaml:"args"`
}

type workersFile struct {
	Workers []WorkerSpec `yaml:"workers"`
}

// DefaultWorkerArgs is passed to a worker binary when its entry lists none.
var DefaultWorkerArgs = []string{"--gamehub"}

// LoadWorkers reads the worker catalog keyed by game type. A missing file
// yields an empty catalog.
func LoadWorkers(path string) (map[string]WorkerSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]WorkerSpec{}, nil
		}
		return nil, err
	}
	return ParseWorkers(data)
}

func ParseWorkers(data []byte) (map[string]WorkerSpec, error) {
	var file workersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse workers config: %w", err)
	}
	catalog := make(map[string]WorkerSpec, len(file.Workers))
	for _, spec := range file.Workers {
		if spec.GameType == "" || spec.Path == "" {
			return nil, fmt.Errorf("workers config: game_type and path are required")
		}
		if _, dup := catalog[spec.GameType]; dup {
			return nil, fmt.Errorf("workers config: duplicate game type %q", spec.GameType)
		}
		if spec.Args == nil {
			spec.Args = append([]string(nil), DefaultWorkerArgs...)
		}
		catalog[spec.GameType] = spec
	}
	return catalog, nil
}
