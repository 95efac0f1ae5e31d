package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML accepts a single path, a list of paths or a name to path mapping.
func (e *Entry) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var path string
		if err := node.Decode(&path); err != nil {
			return err
		}
		*e = Entry{DefaultEntryName: path}
		return nil

	case yaml.SequenceNode:
		var paths []string
		if err := node.Decode(&paths); err != nil {
			return err
		}
		entry := make(Entry, len(paths))
		for _, path := range paths {
			name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			if _, exists := entry[name]; exists {
				return fmt.Errorf("line %d: duplicate entry name %q derived from %s", node.Line, name, path)
			}
			entry[name] = path
		}
		*e = entry
		return nil

	case yaml.MappingNode:
		var m map[string]string
		if err := node.Decode(&m); err != nil {
			return err
		}
		*e = Entry(m)
		return nil
	}

	return fmt.Errorf("line %d: entry must be a path, a list or a mapping", node.Line)
}

// UnmarshalYAML accepts a loader name or a {loader, options} mapping.
func (l *LoaderRef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&l.Loader)
	}

	type plain LoaderRef
	var ref plain
	if err := node.Decode(&ref); err != nil {
		return err
	}
	*l = LoaderRef(ref)
	return nil
}

// UnmarshalYAML accepts a single loader or a list of loaders.
func (l *LoaderList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		var ref LoaderRef
		if err := node.Decode(&ref); err != nil {
			return err
		}
		*l = LoaderList{ref}
		return nil
	}

	var refs []LoaderRef
	if err := node.Decode(&refs); err != nil {
		return err
	}
	*l = refs
	return nil
}

// UnmarshalYAML accepts a plugin name or a {name, options} mapping.
func (p *PluginRef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&p.Name)
	}

	type plain PluginRef
	var ref plain
	if err := node.Decode(&ref); err != nil {
		return err
	}
	*p = PluginRef(ref)
	return nil
}
