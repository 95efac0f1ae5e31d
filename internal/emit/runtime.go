package emit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/wolfeidau/gopack/internal/config"
	"github.com/wolfeidau/gopack/internal/graph"
	"github.com/wolfeidau/gopack/internal/resolve"
)

const runtimePrelude = `(function() {
var process = {env: %s};
var modules = {
`

// The module table value is [factory, map of specifier to module id].
const runtimeLoader = `};
var installed = {};
function load(id) {
  var cached = installed[id];
  if (cached !== undefined) {
    return cached.exports;
  }
  var record = modules[id];
  var module = installed[id] = {id: id, exports: {}};
  var resolve = record[1];
  record[0].call(module.exports, module, module.exports, function require(specifier) {
    var dep = resolve[specifier];
    if (dep === undefined) {
      var err = new Error("Cannot find module '" + specifier + "'");
      err.code = "MODULE_NOT_FOUND";
      throw err;
    }
    return load(dep);
  });
  return module.exports;
}
load(0);
})();
`

// renderBundle writes a chunk whose first module is the entry. Module IDs
// are positions in the chunk order.
func renderBundle(mode config.Mode, chunk []*graph.Module, externals map[string]string) ([]byte, error) {
	ids := make(map[string]int, len(chunk))
	for i, mod := range chunk {
		ids[mod.Path] = i
	}

	env := map[string]string{}
	if mode == config.ModeDevelopment || mode == config.ModeProduction {
		env["NODE_ENV"] = string(mode)
	}
	envJSON, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, runtimePrelude, envJSON)

	for i, mod := range chunk {
		deps := make(map[string]int, len(mod.Deps))
		for _, dep := range mod.Deps {
			id, ok := ids[dep.Path]
			if !ok {
				return nil, fmt.Errorf("module %s depends on %s which is not in the chunk", mod.Path, dep.Path)
			}
			deps[dep.Specifier] = id
		}
		depsJSON, err := json.Marshal(deps)
		if err != nil {
			return nil, err
		}

		code := mod.Code
		if mod.External {
			code, err = externalCode(mod.Path, externals)
			if err != nil {
				return nil, err
			}
		}

		buf.WriteString(strconv.Itoa(i))
		buf.WriteString(": [function(module, exports, require) {\n")
		buf.Write(code)
		if len(code) > 0 && code[len(code)-1] != '\n' {
			buf.WriteByte('\n')
		}
		buf.WriteString("}, ")
		buf.Write(depsJSON)
		buf.WriteString("],\n")
	}

	buf.WriteString(runtimeLoader)
	return buf.Bytes(), nil
}

func externalCode(path string, externals map[string]string) ([]byte, error) {
	name := path[len(resolve.ExternalPrefix):]
	global, ok := externals[name]
	if !ok {
		return nil, fmt.Errorf("no global configured for external %q", name)
	}
	key, err := json.Marshal(global)
	if err != nil {
		return nil, err
	}
	return []byte("module.exports = window[" + string(key) + "];\n"), nil
}
