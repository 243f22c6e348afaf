// Package compose is the file-backed authority for service definitions: each
// scene is a directory under the scenes root holding a docker-compose.yml.
package compose

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileName is the compose file of every scene directory.
const FileName = "docker-compose.yml"

// TypeLabel is the service label carrying the node kind shown on the canvas.
const TypeLabel = "serviceType"

// File is the part of a compose file the workbench edits. Every other key is
// kept in Extra and written back unchanged.
type File struct {
	Include  []Include              `yaml:"include,omitempty"`
	Services map[string]*Service    `yaml:"services"`
	Extra    map[string]interface{} `yaml:",inline"`
}

// Service is one compose service.
type Service struct {
	Labels    Labels                 `yaml:"labels,omitempty"`
	DependsOn DependsOn              `yaml:"depends_on,omitempty"`
	Extra     map[string]interface{} `yaml:",inline"`
}

// Dependency is one depends_on entry.
type Dependency struct {
	Condition string                 `yaml:"condition"`
	Extra     map[string]interface{} `yaml:",inline"`
}

// DependsOn maps a service id to the dependency on it. Compose also allows
// a plain list of ids; that form is read with the default condition and
// written back as a mapping.
type DependsOn map[string]*Dependency

func (d *DependsOn) UnmarshalYAML(value *yaml.Node) error {
	out := DependsOn{}
	switch value.Kind {
	case yaml.SequenceNode:
		var ids []string
		if err := value.Decode(&ids); err != nil {
			return fmt.Errorf("failed to decode depends_on list: %w", err)
		}
		for _, id := range ids {
			out[id] = &Dependency{Condition: defaultCondition}
		}
	case yaml.MappingNode:
		var m map[string]*Dependency
		if err := value.Decode(&m); err != nil {
			return fmt.Errorf("failed to decode depends_on: %w", err)
		}
		for id, dep := range m {
			if dep == nil {
				dep = &Dependency{}
			}
			if dep.Condition == "" {
				dep.Condition = defaultCondition
			}
			out[id] = dep
		}
	default:
		return fmt.Errorf("depends_on must be a list or a mapping (line %d)", value.Line)
	}
	*d = out
	return nil
}

// Labels accepts both the mapping and the "key=value" list form.
type Labels map[string]string

func (l *Labels) UnmarshalYAML(value *yaml.Node) error {
	out := Labels{}
	switch value.Kind {
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return fmt.Errorf("failed to decode labels list: %w", err)
		}
		for _, item := range items {
			k, v, _ := strings.Cut(item, "=")
			out[k] = v
		}
	case yaml.MappingNode:
		var m map[string]string
		if err := value.Decode(&m); err != nil {
			return fmt.Errorf("failed to decode labels: %w", err)
		}
		for k, v := range m {
			out[k] = v
		}
	default:
		return fmt.Errorf("labels must be a list or a mapping (line %d)", value.Line)
	}
	*l = out
	return nil
}

// Include is one entry of the top-level include list. The short form is a
// bare path; the long form is a mapping whose path is a string or a list.
type Include struct {
	Paths []string
	// Short and List record the form read so it is written back the same way.
	Short bool
	List  bool
	Extra map[string]interface{}
}

// Path returns the first path of the entry, which names the included scene.
func (i Include) Path() string {
	if len(i.Paths) == 0 {
		return ""
	}
	return i.Paths[0]
}

func (i *Include) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*i = Include{Paths: []string{value.Value}, Short: true}
		return nil
	case yaml.MappingNode:
		var raw map[string]interface{}
		if err := value.Decode(&raw); err != nil {
			return fmt.Errorf("failed to decode include: %w", err)
		}
		out := Include{Extra: map[string]interface{}{}}
		switch p := raw["path"].(type) {
		case string:
			out.Paths = []string{p}
		case []interface{}:
			out.List = true
			for _, item := range p {
				s, ok := item.(string)
				if !ok {
					return fmt.Errorf("include path must be a string (line %d)", value.Line)
				}
				out.Paths = append(out.Paths, s)
			}
		case nil:
		default:
			return fmt.Errorf("include path must be a string or a list (line %d)", value.Line)
		}
		for k, v := range raw {
			if k != "path" {
				out.Extra[k] = v
			}
		}
		*i = out
		return nil
	}
	return fmt.Errorf("include entry must be a string or a mapping (line %d)", value.Line)
}

func (i Include) MarshalYAML() (interface{}, error) {
	if i.Short && len(i.Paths) == 1 {
		return i.Paths[0], nil
	}
	out := make(map[string]interface{}, len(i.Extra)+1)
	for k, v := range i.Extra {
		out[k] = v
	}
	switch {
	case i.List || len(i.Paths) > 1:
		out["path"] = i.Paths
	case len(i.Paths) == 1:
		out["path"] = i.Paths[0]
	}
	return out, nil
}

func parseFile(b []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("cannot parse %s: %w", FileName, err)
	}
	if f.Services == nil {
		f.Services = map[string]*Service{}
	}
	for id, svc := range f.Services {
		if svc == nil {
			f.Services[id] = &Service{}
		}
	}
	return &f, nil
}

func (f *File) marshal() ([]byte, error) {
	b, err := yaml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", FileName, err)
	}
	return b, nil
}

// ServiceIDs returns the ids of the services defined in the file, sorted.
func (f *File) ServiceIDs() []string {
	ids := make([]string, 0, len(f.Services))
	for id := range f.Services {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
