package transform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	consolestream "github.com/wolfeidau/console-stream"
	"github.com/wolfeidau/gopack/internal/config"
)

const defaultExecTimeout = 60 * time.Second

// execLoader pipes a module through an external command. The placeholders
// {file}, {source} and {out} in the arguments are replaced with the path of a
// temporary copy of the current code, the original module path and a path
// the command may write its result to. Without {out} the command output is
// the result.
type execLoader struct {
	command string
	args    []string
	env     map[string]string
	timeout time.Duration
}

func newExecLoader(opts map[string]any, _ Env) (Loader, error) {
	command, err := stringOption(opts, "command", "")
	if err != nil {
		return nil, err
	}
	if command == "" {
		return nil, errors.New("exec loader requires a command")
	}

	args, err := stringsOption(opts, "args")
	if err != nil {
		return nil, err
	}

	seconds, err := intOption(opts, "timeout", int(defaultExecTimeout/time.Second))
	if err != nil {
		return nil, err
	}
	if seconds <= 0 {
		return nil, fmt.Errorf("exec loader timeout must be positive, got %d", seconds)
	}

	env := map[string]string{}
	if raw, ok := opts["env"].(map[string]any); ok {
		for k, v := range raw {
			env[k] = fmt.Sprint(v)
		}
	}

	return &execLoader{
		command: command,
		args:    args,
		env:     env,
		timeout: time.Duration(seconds) * time.Second,
	}, nil
}

func (l *execLoader) Name() string { return config.LoaderExec }

func (l *execLoader) Transform(ctx context.Context, asset *Asset) error {
	dir, err := os.MkdirTemp("", "gopack-exec-")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	ext := filepath.Ext(asset.Path)
	in := filepath.Join(dir, "input"+ext)
	out := filepath.Join(dir, "output"+ext)

	if err := os.WriteFile(in, asset.Code, 0600); err != nil {
		return fmt.Errorf("failed to write temp input: %w", err)
	}

	args, usesOut := l.expandArgs(in, asset.Path, out)

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	process := consolestream.NewProcess(l.command, args,
		consolestream.WithPipeMode(),
		consolestream.WithEnvMap(l.env),
	)

	var output []byte
	for event, err := range process.ExecuteAndStream(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%s timed out after %s: %w", l.command, l.timeout, ctx.Err())
			}
			return fmt.Errorf("%s failed: %w", l.command, err)
		}

		switch e := event.Event.(type) {
		case *consolestream.ProcessStart:
			log.Debug().Str("module", asset.Path).Str("command", l.command).Int("pid", e.PID).Msg("Started loader command")
		case *consolestream.OutputData:
			output = append(output, e.Data...)
		case *consolestream.ProcessEnd:
			if e.ExitCode != 0 {
				return fmt.Errorf("%s exited with code %d: %s", l.command, e.ExitCode, strings.TrimSpace(string(output)))
			}
			log.Debug().Str("module", asset.Path).Dur("duration", e.Duration).Msg("Loader command finished")
		}
	}

	if usesOut {
		data, err := os.ReadFile(out)
		if err != nil {
			return fmt.Errorf("%s did not write its output: %w", l.command, err)
		}
		output = data
	}

	asset.Code = output
	return nil
}

func (l *execLoader) expandArgs(in, source, out string) ([]string, bool) {
	r := strings.NewReplacer("{file}", in, "{source}", source, "{out}", out)

	usesIn, usesOut := false, false
	args := make([]string, 0, len(l.args)+1)
	for _, arg := range l.args {
		if strings.Contains(arg, "{file}") {
			usesIn = true
		}
		if strings.Contains(arg, "{out}") {
			usesOut = true
		}
		args = append(args, r.Replace(arg))
	}
	if !usesIn {
		args = append(args, in)
	}
	return args, usesOut
}
