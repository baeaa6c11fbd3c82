package scenario

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/warp/qurban-ledger/engine"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Info describes a built-in scenario.
type Info struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// Builtin returns the scenarios shipped with the binary, sorted by name.
func Builtin() ([]*Scenario, error) {
	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil, err
	}

	var out []*Scenario
	for _, e := range entries {
		data, err := builtinFS.ReadFile(path.Join("builtin", e.Name()))
		if err != nil {
			return nil, err
		}
		sc, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		if want := strings.TrimSuffix(e.Name(), ".yaml"); sc.Name != want {
			return nil, fmt.Errorf("%s: name %q does not match file name", e.Name(), sc.Name)
		}
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// List describes the built-in scenarios.
func List() ([]Info, error) {
	all, err := Builtin()
	if err != nil {
		return nil, err
	}
	infos := make([]Info, 0, len(all))
	for _, sc := range all {
		infos = append(infos, Info{ID: sc.Name, Description: sc.Description})
	}
	return infos, nil
}

// Lookup returns the built-in scenario with the given name.
func Lookup(name string) (*Scenario, error) {
	data, err := builtinFS.ReadFile(path.Join("builtin", name+".yaml"))
	if err != nil || strings.ContainsAny(name, "/\\") {
		return nil, &engine.NotFoundError{Resource: "scenario", ID: name}
	}
	return Parse(data)
}
