package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"path/filepath"
	"strings"

	"github.com/wolfeidau/gopack/internal/config"
	"github.com/wolfeidau/gopack/internal/emit"
)

const defaultPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{ .Title }}</title>
{{- range .Styles }}
<link rel="stylesheet" href="{{ . }}">
{{- end }}
</head>
<body>
{{- range .Scripts }}
<script src="{{ . }}"></script>
{{- end }}
</body>
</html>
`

// PageData is passed to the page template.
type PageData struct {
	Title      string
	PublicPath string
	Entries    []string
	Scripts    []string
	Styles     []string
}

// html renders a page loading the scripts and stylesheets of the entries.
type html struct {
	filename string
	title    string
	chunks   []string
	tmpl     *template.Template
}

func newHTML(ref config.PluginRef, cfg *config.Config) (Plugin, error) {
	p := &html{}

	var err error
	if p.filename, err = stringOption(ref.Options, "filename", "index.html"); err != nil {
		return nil, err
	}
	if p.title, err = stringOption(ref.Options, "title", "gopack App"); err != nil {
		return nil, err
	}

	if raw, ok := ref.Options["chunks"].([]any); ok {
		for _, c := range raw {
			p.chunks = append(p.chunks, fmt.Sprint(c))
		}
	}
	for _, c := range p.chunks {
		if _, ok := cfg.Entry[c]; !ok {
			return nil, fmt.Errorf("chunk %q is not an entry", c)
		}
	}

	funcs := template.FuncMap{
		"marshal": marshal,
		"safe": func(s string) template.HTML {
			return template.HTML(s) //nolint:gosec
		},
	}

	templatePath, err := stringOption(ref.Options, "template", "")
	if err != nil {
		return nil, err
	}

	if templatePath == "" {
		p.tmpl, err = template.New("page").Funcs(funcs).Parse(defaultPage)
	} else {
		if !filepath.IsAbs(templatePath) {
			templatePath = filepath.Join(cfg.Context, templatePath)
		}
		p.tmpl, err = template.New(filepath.Base(templatePath)).Funcs(funcs).ParseFiles(templatePath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}

	return p, nil
}

func (p *html) Name() string { return config.PluginHTML }

func (p *html) Apply(ctx context.Context, b *Build) error {
	entries := p.chunks
	if len(entries) == 0 {
		entries = b.Graph.EntryNames()
	}

	rebuilt := false
	for _, name := range entries {
		if b.Rebuilt(name) {
			rebuilt = true
			break
		}
	}
	if !rebuilt {
		return nil
	}

	manifest := b.Emitter.Manifest()
	data := PageData{
		Title:      p.title,
		PublicPath: b.Config.Output.PublicPath,
		Entries:    entries,
	}

	for _, name := range entries {
		scripts, err := manifest.Scripts(name)
		if err != nil {
			return err
		}
		styles, err := manifest.Styles(name)
		if err != nil {
			return err
		}
		data.Scripts = append(data.Scripts, scripts...)
		data.Styles = append(data.Styles, styles...)
	}

	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("failed to render %s: %w", p.filename, err)
	}

	name := strings.ReplaceAll(p.filename, "[name]", strings.Join(entries, "-"))
	_, err := b.Emitter.Write(ctx, name, emit.KindPage, buf.Bytes())
	return err
}

func marshal(value any) (template.JS, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", errors.New("value must be json serializable")
	}
	return template.JS(data), nil //nolint:gosec
}
