// Package config loads the project-root .dl/config.yml top-level
// configuration (spec.md §6) and the environment variables the core
// consumes, grounded on the teacher's internal/config/config_file.go
// (JSON load/save) generalized to YAML plus envconfig struct tags for
// the environment-sourced knobs.
package config

import (
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/devloop-run/devloop/internal/model"
)

// TopLevel is the parsed .dl/config.yml (all fields optional per spec.md §6).
type TopLevel struct {
	DefaultExecutor    *model.ExecutorSpec `yaml:"default_executor,omitempty"`
	EnsureDirectories  []string            `yaml:"ensure_directories,omitempty"`
	ExecutorLocations  []model.Location    `yaml:"executor_locations,omitempty"`
	HelperLocations    []model.Location    `yaml:"helper_locations,omitempty"`
	TaskLocations      []model.Location    `yaml:"task_locations,omitempty"`
	Presets            []model.Preset      `yaml:"presets,omitempty"`
}

// Load reads and parses <projectRoot>/.dl/config.yml. A missing file is
// not an error: it yields a zero-value TopLevel, since every field is
// optional.
func Load(projectRoot string) (*TopLevel, error) {
	path := filepath.Join(projectRoot, ".dl", "config.yml")
	bytes, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &TopLevel{}, nil
		}
		return nil, err
	}
	var cfg TopLevel
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Env holds the environment variables the core consumes (spec.md §6).
type Env struct {
	TMPDir               string `envconfig:"TMPDIR" default:"/tmp"`
	WorkerCount          int    `envconfig:"DL_WORKER_COUNT" default:"0"`
	NoColor              bool   `envconfig:"NO_COLOR"`
	ForceColor           bool   `envconfig:"DL_FORCE_COLOR"`
	ForceStdoutColor     bool   `envconfig:"DL_FORCE_STDOUT_COLOR"`
	ForceStderrColor     bool   `envconfig:"DL_FORCE_STDERR_COLOR"`
	RustBacktrace        string `envconfig:"RUST_BACKTRACE"`
	ContainerEngine      string `envconfig:"DL_CONTAINER_ENGINE" default:"docker"`
}

// LoadEnv reads the Env struct from the process environment.
func LoadEnv() (*Env, error) {
	var e Env
	if err := envconfig.Process("", &e); err != nil {
		return nil, err
	}
	if e.TMPDir == "" {
		e.TMPDir = "/tmp"
	}
	return &e, nil
}

// ScratchRoot is the per-invocation scratch directory root under the
// project's .dl directory (spec.md §6 "Persistent state").
func ScratchRoot(projectRoot string) string {
	return filepath.Join(projectRoot, ".dl", "scratch")
}
