// Package resolve maps import specifiers to module files on disk.
package resolve

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/wolfeidau/gopack/internal/config"
)

// ExternalPrefix marks a virtual module provided by a global at runtime.
const ExternalPrefix = "external:"

var ErrNotFound = errors.New("module not found")

// NotFoundError reports a specifier that could not be resolved and the
// candidate paths that were tried.
type NotFoundError struct {
	Specifier string
	From      string
	Tried     []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("can't resolve %q in %s", e.Specifier, e.From)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// IsExternal reports whether a resolved path refers to an external module.
func IsExternal(path string) bool {
	return strings.HasPrefix(path, ExternalPrefix)
}

// Resolver resolves specifiers using the configured extensions, aliases and
// module directories. It is safe for concurrent use.
type Resolver struct {
	extensions []string
	alias      map[string]string
	modules    []string
	mainFields []string
	externals  map[string]string

	mu   sync.Mutex
	memo map[memoKey]memoResult
}

type memoKey struct {
	specifier string
	dir       string
}

type memoResult struct {
	path string
	err  error
}

// New creates a resolver from the resolve and externals settings.
func New(opts config.Resolve, externals map[string]string) *Resolver {
	r := &Resolver{
		extensions: opts.Extensions,
		alias:      opts.Alias,
		modules:    opts.Modules,
		mainFields: opts.MainFields,
		externals:  externals,
		memo:       make(map[memoKey]memoResult),
	}
	if len(r.modules) == 0 {
		r.modules = []string{"node_modules"}
	}
	if len(r.mainFields) == 0 {
		r.mainFields = []string{"browser", "main"}
	}
	return r
}

// Reset drops memoised results, files may have appeared or disappeared.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memo = make(map[memoKey]memoResult)
}

// Resolve returns the absolute path of the module referenced by specifier
// from a module located in fromDir.
func (r *Resolver) Resolve(specifier, fromDir string) (string, error) {
	key := memoKey{specifier: specifier, dir: fromDir}

	r.mu.Lock()
	if res, ok := r.memo[key]; ok {
		r.mu.Unlock()
		return res.path, res.err
	}
	r.mu.Unlock()

	path, err := r.resolve(specifier, fromDir)

	r.mu.Lock()
	r.memo[key] = memoResult{path: path, err: err}
	r.mu.Unlock()

	return path, err
}

func (r *Resolver) resolve(specifier, fromDir string) (string, error) {
	if specifier == "" {
		return "", &NotFoundError{Specifier: specifier, From: fromDir}
	}

	if global, ok := r.externals[specifier]; ok && global != "" {
		return ExternalPrefix + specifier, nil
	}

	var tried []string

	if isRelative(specifier) || filepath.IsAbs(specifier) {
		target := specifier
		if !filepath.IsAbs(target) {
			target = filepath.Join(fromDir, filepath.FromSlash(specifier))
		}
		if path, ok := r.try(target, &tried); ok {
			return path, nil
		}
		return "", &NotFoundError{Specifier: specifier, From: fromDir, Tried: tried}
	}

	if target, ok := r.applyAlias(specifier); ok {
		if filepath.IsAbs(target) {
			if path, ok := r.try(target, &tried); ok {
				return path, nil
			}
			return "", &NotFoundError{Specifier: specifier, From: fromDir, Tried: tried}
		}
		specifier = target
	}

	for _, dir := range r.moduleDirs(fromDir) {
		if path, ok := r.try(filepath.Join(dir, filepath.FromSlash(specifier)), &tried); ok {
			return path, nil
		}
	}

	return "", &NotFoundError{Specifier: specifier, From: fromDir, Tried: tried}
}

// applyAlias rewrites an exact alias match or an alias prefix followed by a slash.
func (r *Resolver) applyAlias(specifier string) (string, bool) {
	if target, ok := r.alias[specifier]; ok {
		return target, true
	}
	// longest alias wins so "lib/ui" beats "lib"
	var best, rest string
	for name := range r.alias {
		if tail, ok := strings.CutPrefix(specifier, name+"/"); ok && len(name) > len(best) {
			best, rest = name, tail
		}
	}
	if best == "" {
		return "", false
	}
	target := r.alias[best]
	if filepath.IsAbs(target) {
		return filepath.Join(target, filepath.FromSlash(rest)), true
	}
	return target + "/" + rest, true
}

// moduleDirs lists the module directories from fromDir up to the root. An
// absolute entry in the modules list is used as is.
func (r *Resolver) moduleDirs(fromDir string) []string {
	var dirs []string
	for _, name := range r.modules {
		if filepath.IsAbs(name) {
			dirs = append(dirs, name)
			continue
		}
		dir := fromDir
		for {
			if filepath.Base(dir) != name {
				dirs = append(dirs, filepath.Join(dir, name))
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	return dirs
}

// try tests target as a file, then with every extension, then as a directory.
func (r *Resolver) try(target string, tried *[]string) (string, bool) {
	if path, ok := r.tryFile(target, tried); ok {
		return path, true
	}
	return r.tryDir(target, tried)
}

func (r *Resolver) tryFile(target string, tried *[]string) (string, bool) {
	*tried = append(*tried, target)
	if isFile(target) {
		return target, true
	}
	for _, ext := range r.extensions {
		candidate := target + ext
		*tried = append(*tried, candidate)
		if isFile(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func (r *Resolver) tryDir(dir string, tried *[]string) (string, bool) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", false
	}

	if main := r.packageMain(dir); main != "" {
		if path, ok := r.tryFile(filepath.Join(dir, filepath.FromSlash(main)), tried); ok {
			return path, true
		}
		if path, ok := r.tryIndex(filepath.Join(dir, filepath.FromSlash(main)), tried); ok {
			return path, true
		}
	}

	return r.tryIndex(dir, tried)
}

func (r *Resolver) tryIndex(dir string, tried *[]string) (string, bool) {
	for _, ext := range r.extensions {
		candidate := filepath.Join(dir, "index"+ext)
		*tried = append(*tried, candidate)
		if isFile(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// packageMain reads the first string main field from dir/package.json.
func (r *Resolver) packageMain(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return ""
	}

	var pkg map[string]any
	if err := json.Unmarshal(data, &pkg); err != nil {
		return ""
	}

	for _, field := range r.mainFields {
		if value, ok := pkg[field].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

func isRelative(specifier string) bool {
	return specifier == "." || specifier == ".." ||
		strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../")
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
