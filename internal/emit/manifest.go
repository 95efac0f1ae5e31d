package emit

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
)

// ManifestFile is written into the output directory when output.manifest is set.
const ManifestFile = "manifest.json"

var ErrUnknownEntry = errors.New("entry not found in manifest")

// Manifest describes the emitted assets.
type Manifest struct {
	PublicPath  string                    `json:"publicPath"`
	Outputs     map[string]OutputInfo     `json:"outputs"`
	Entrypoints map[string]EntrypointInfo `json:"entrypoints"`
}

type OutputInfo struct {
	EntryPoint string   `json:"entryPoint,omitempty"`
	Kind       Kind     `json:"kind"`
	Bytes      int      `json:"bytes"`
	Hash       string   `json:"hash"`
	Inputs     []string `json:"inputs,omitempty"`
}

// EntrypointInfo lists the URLs a page needs for an entry, in load order.
type EntrypointInfo struct {
	Scripts []string `json:"scripts"`
	Styles  []string `json:"styles,omitempty"`
}

// NewManifest describes the assets, which are grouped by entry.
func NewManifest(publicPath string, assets []Asset) *Manifest {
	m := &Manifest{
		PublicPath:  publicPath,
		Outputs:     map[string]OutputInfo{},
		Entrypoints: map[string]EntrypointInfo{},
	}

	for _, a := range assets {
		if a.Kind == KindCompressed {
			continue
		}
		m.Outputs[a.Name] = OutputInfo{
			EntryPoint: a.Source,
			Kind:       a.Kind,
			Bytes:      a.Size,
			Hash:       a.Hash,
			Inputs:     a.Inputs,
		}

		if a.Entry == "" {
			continue
		}
		info := m.Entrypoints[a.Entry]
		switch a.Kind {
		case KindScript:
			info.Scripts = append(info.Scripts, publicPath+a.Name)
		case KindStyle:
			info.Styles = append(info.Styles, publicPath+a.Name)
		}
		m.Entrypoints[a.Entry] = info
	}

	for name, info := range m.Entrypoints {
		sort.Strings(info.Scripts)
		sort.Strings(info.Styles)
		m.Entrypoints[name] = info
	}

	return m
}

// LoadManifest reads a manifest written by a previous build.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// Scripts returns the ordered script URLs needed for the given entry.
func (m *Manifest) Scripts(entry string) ([]string, error) {
	info, ok := m.Entrypoints[entry]
	if !ok {
		return nil, fmt.Errorf("%q: %w", entry, ErrUnknownEntry)
	}
	return info.Scripts, nil
}

// Styles returns the stylesheet URLs for the given entry.
func (m *Manifest) Styles(entry string) ([]string, error) {
	info, ok := m.Entrypoints[entry]
	if !ok {
		return nil, fmt.Errorf("%q: %w", entry, ErrUnknownEntry)
	}
	return info.Styles, nil
}

func (m *Manifest) marshal() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
