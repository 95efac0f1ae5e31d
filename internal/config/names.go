package config

import "strings"

// Canonical loader names.
const (
	LoaderEsbuild    = "esbuild"
	LoaderCSS        = "css"
	LoaderCSSExtract = "css-extract"
	LoaderJSON       = "json"
	LoaderRaw        = "raw"
	LoaderExec       = "exec"
)

// Canonical plugin names.
const (
	PluginCSSExtract = "css-extract"
	PluginHTML       = "html"
)

var loaderAliases = map[string]string{
	"babel":                          LoaderEsbuild,
	"minicssextractplugin.loader":    LoaderCSSExtract,
	"mini-css-extract":               LoaderCSSExtract,
	"mini-css-extract-plugin":        LoaderCSSExtract,
	"mini-css-extract-plugin/loader": LoaderCSSExtract,
	"text":                           LoaderRaw,
}

var pluginAliases = map[string]string{
	"minicssextractplugin":    PluginCSSExtract,
	"mini-css-extract-plugin": PluginCSSExtract,
	"mini-css-extract":        PluginCSSExtract,
	"htmlwebpackplugin":       PluginHTML,
	"html-webpack-plugin":     PluginHTML,
	"html-webpack":            PluginHTML,
}

// CanonicalLoader maps webpack style loader names to the built-in loader names,
// "babel-loader" becomes "esbuild" and "css-loader" becomes "css".
func CanonicalLoader(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if alias, ok := loaderAliases[name]; ok {
		return alias
	}
	name = strings.TrimSuffix(name, "-loader")
	if alias, ok := loaderAliases[name]; ok {
		return alias
	}
	return name
}

// CanonicalPlugin maps webpack plugin names to the built-in plugin names.
func CanonicalPlugin(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if alias, ok := pluginAliases[name]; ok {
		return alias
	}
	return name
}
