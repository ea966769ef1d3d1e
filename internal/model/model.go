// Package model holds the corpus data model: the YAML-shaped types for
// locations, executors, tasks, steps, options, and presets described by
// the project's dl-tasks.yml/dl-executors.yml/.dl/config.yml files.
package model

import (
	"fmt"

	"github.com/Masterminds/semver"
	"github.com/mitchellh/mapstructure"
)

// LocationKind discriminates the Location tagged union.
type LocationKind int

const (
	// LocationPath is a filesystem path, relative to the file that
	// introduced it (or the project root for top-level locations).
	LocationPath LocationKind = iota
	// LocationHTTP is a location fetched over HTTP(S).
	LocationHTTP
)

// Location is a fetchable reference to bytes on disk or over HTTP.
//
// Recurse is only meaningful when Kind is LocationPath and At names a
// directory; HTTP locations never recurse.
type Location struct {
	Kind    LocationKind
	At      string `yaml:"at"`
	Recurse bool   `yaml:"recurse"`
	URL     string `yaml:"url"`
}

// UnmarshalYAML decodes whichever of {at, recurse} or {url} is present
// into the right Kind, since the YAML schema doesn't use an explicit
// discriminant field.
func (l *Location) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw struct {
		At      string `yaml:"at"`
		Recurse bool   `yaml:"recurse"`
		URL     string `yaml:"url"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch {
	case raw.URL != "":
		l.Kind = LocationHTTP
		l.URL = raw.URL
	case raw.At != "":
		l.Kind = LocationPath
		l.At = raw.At
		l.Recurse = raw.Recurse
	default:
		return fmt.Errorf("location must set either `at` or `url`")
	}
	return nil
}

// ProvideEntry is a capability an executor advertises.
type ProvideEntry struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version,omitempty"`
}

// SemVersion parses Version, returning nil if it is empty.
func (p ProvideEntry) SemVersion() (*semver.Version, error) {
	if p.Version == "" {
		return nil, nil
	}
	return semver.NewVersion(p.Version)
}

// NeedEntry is a capability requirement a task declares.
type NeedEntry struct {
	Name    string `yaml:"name"`
	Matcher string `yaml:"matcher,omitempty"`
}

// Satisfies reports whether the given ProvideEntry satisfies this need:
// names must be equal, and if Matcher is set the provide's version (when
// present) must satisfy the constraint. An absent matcher matches any
// version; a provide with no version satisfies a matcher-less need only.
func (n NeedEntry) Satisfies(p ProvideEntry) (bool, error) {
	if n.Name != p.Name {
		return false, nil
	}
	if n.Matcher == "" {
		return true, nil
	}
	v, err := p.SemVersion()
	if err != nil {
		return false, fmt.Errorf("provide %q: invalid version %q: %w", p.Name, p.Version, err)
	}
	if v == nil {
		return false, nil
	}
	c, err := semver.NewConstraint(n.Matcher)
	if err != nil {
		return false, fmt.Errorf("need %q: invalid matcher %q: %w", n.Name, n.Matcher, err)
	}
	return c.Check(v), nil
}

// ExecutorKind discriminates the ExecutorSpec tagged union.
type ExecutorKind string

const (
	ExecutorHost      ExecutorKind = "host"
	ExecutorContainer ExecutorKind = "container"
)

// ContainerParams holds the parameters specific to a container executor.
// The mapstructure tags mirror the yaml ones so the same field names
// work whether the struct is decoded directly by gopkg.in/yaml.v3 or,
// as ExecutorSpec.UnmarshalYAML does, from an already-parsed
// map[string]interface{} via github.com/mitchellh/mapstructure.
type ContainerParams struct {
	Image                      string   `yaml:"image" mapstructure:"image"`
	NamePrefix                 string   `yaml:"name_prefix" mapstructure:"name_prefix"`
	User                       string   `yaml:"user,omitempty" mapstructure:"user"`
	Hostname                   string   `yaml:"hostname,omitempty" mapstructure:"hostname"`
	ExtraMounts                []string `yaml:"extra_mounts,omitempty" mapstructure:"extra_mounts"`
	ExportEnv                  []string `yaml:"export_env,omitempty" mapstructure:"export_env"`
	TCPPortsToExpose           []int    `yaml:"tcp_ports_to_expose,omitempty" mapstructure:"tcp_ports_to_expose"`
	UDPPortsToExpose           []int    `yaml:"udp_ports_to_expose,omitempty" mapstructure:"udp_ports_to_expose"`
	ExperimentalPermissionHelp bool     `yaml:"experimental_permission_helper,omitempty" mapstructure:"experimental_permission_helper"`
}

// ExecutorSpec is a named runtime environment: the host shell, or a
// container image, plus the capabilities it Provides.
type ExecutorSpec struct {
	Name      string       `yaml:"name"`
	Type      ExecutorKind `yaml:"type"`
	Container ContainerParams `yaml:"params,omitempty"`
	Provides  []ProvideEntry  `yaml:"provides,omitempty"`
}

// UnmarshalYAML decodes `params` into a loosely typed map first, then
// into ContainerParams via github.com/mitchellh/mapstructure: dl-executors.yml
// only constrains params' shape for container executors, so a host
// executor's params (currently always empty) doesn't need a dedicated
// Go type of its own.
func (e *ExecutorSpec) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw struct {
		Name     string                 `yaml:"name"`
		Type     ExecutorKind           `yaml:"type"`
		Params   map[string]interface{} `yaml:"params,omitempty"`
		Provides []ProvideEntry         `yaml:"provides,omitempty"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	e.Name = raw.Name
	e.Type = raw.Type
	e.Provides = raw.Provides
	if len(raw.Params) > 0 {
		if err := mapstructure.Decode(raw.Params, &e.Container); err != nil {
			return fmt.Errorf("executor %q: invalid params: %w", raw.Name, err)
		}
	}
	return nil
}

// Validate checks the ExecutorSpec invariants from spec.md §3.
func (e *ExecutorSpec) Validate() error {
	switch e.Type {
	case ExecutorHost:
		return nil
	case ExecutorContainer:
		if e.Container.Image == "" {
			return fmt.Errorf("executor %q: container image must not be empty", e.Name)
		}
		if e.Container.NamePrefix == "" {
			e.Container.NamePrefix = e.Name + "-"
		}
		if e.Container.NamePrefix[len(e.Container.NamePrefix)-1] != '-' {
			return fmt.Errorf("executor %q: name_prefix must end with '-'", e.Name)
		}
		return nil
	default:
		return fmt.Errorf("executor %q: unknown type %q", e.Name, e.Type)
	}
}

// TaskKind discriminates the TaskSpec tagged union.
type TaskKind string

const (
	TaskCommand         TaskKind = "command"
	TaskOneof           TaskKind = "oneof"
	TaskPipeline        TaskKind = "pipeline"
	TaskParallelPipeline TaskKind = "parallel-pipeline"
)

// Step is one element of a pipeline's Steps list.
type Step struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Task        string   `yaml:"task"`
	Args        []string `yaml:"args,omitempty"`
}

// Option is one element of a oneof's Options list.
type Option struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Task        string   `yaml:"task"`
	Args        []string `yaml:"args,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
}

// TaskSpec is a named unit of work.
type TaskSpec struct {
	Name            string     `yaml:"name"`
	Kind            TaskKind   `yaml:"kind"`
	Description     string     `yaml:"description,omitempty"`
	Location        *Location  `yaml:"location,omitempty"`
	Needs           []NeedEntry `yaml:"needs,omitempty"`
	CustomExecutor  *ExecutorSpec `yaml:"custom_executor,omitempty"`
	Steps           []Step     `yaml:"steps,omitempty"`
	Options         []Option   `yaml:"options,omitempty"`
	Tags            []string   `yaml:"tags,omitempty"`
	Internal        bool       `yaml:"internal,omitempty"`
}

// Validate checks the TaskSpec shape invariants from spec.md §3.
func (t *TaskSpec) Validate() error {
	switch t.Kind {
	case TaskCommand:
		if t.Location == nil {
			return fmt.Errorf("task %q: command requires a location", t.Name)
		}
		if len(t.Steps) > 0 || len(t.Options) > 0 {
			return fmt.Errorf("task %q: command must not declare steps or options", t.Name)
		}
	case TaskOneof:
		if t.Location != nil {
			return fmt.Errorf("task %q: oneof must not declare a location", t.Name)
		}
	case TaskPipeline, TaskParallelPipeline:
		if len(t.Steps) == 0 {
			return fmt.Errorf("task %q: %s requires at least one step", t.Name, t.Kind)
		}
	default:
		return fmt.Errorf("task %q: unknown kind %q", t.Name, t.Kind)
	}
	return nil
}

// Preset is a named set of tags; resolving it collects the public tasks
// whose tag set intersects Tags.
type Preset struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
}
