// File: internal/store/files.go
// Hand-authored script files. Scripts can be edited as yaml or json on disk
// and imported into the store (or hot-swapped into a running session via the
// watcher). Decoding is deliberately tolerant about numeric types since these
// files are written by humans, but structurally unknown keys are rejected so
// a typoed field name fails loudly instead of silently dropping a rule.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/riftlab/automaton/api/schemas"
)

var scriptFileExts = map[string]bool{".yaml": true, ".yml": true, ".json": true}

// LoadScriptFile reads and validates one script file.
func LoadScriptFile(path string) (*schemas.Script, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read script file %q: %w", path, err)
	}

	var script schemas.Script
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &script,
		ErrorUnused: true,
		DecodeHook:  valueDecodeHook,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decode script file %q: %w", path, err)
	}

	if script.Name == "" {
		base := filepath.Base(path)
		script.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if err := ValidateScript(&script); err != nil {
		return nil, fmt.Errorf("script file %q: %w", path, err)
	}
	return &script, nil
}

// LoadScriptDir loads every script file in dir, sorted by file name.
func LoadScriptDir(dir string) ([]*schemas.Script, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read script dir %q: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && scriptFileExts[filepath.Ext(e.Name())] {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	scripts := make([]*schemas.Script, 0, len(names))
	for _, name := range names {
		script, err := LoadScriptFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, script)
	}
	return scripts, nil
}

// LoadMachineFile reads one state machine definition file.
func LoadMachineFile(path string) (*schemas.MachineSpec, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read machine file %q: %w", path, err)
	}

	var spec schemas.MachineSpec
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &spec,
		ErrorUnused: true,
		DecodeHook:  valueDecodeHook,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decode machine file %q: %w", path, err)
	}
	if spec.Name == "" {
		base := filepath.Base(path)
		spec.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return &spec, nil
}

// ValidateScript rejects scripts that cannot run: every rule needs a name and
// a condition, and every action identifier a rule or default references must
// resolve to a declared action sequence.
func ValidateScript(s *schemas.Script) error {
	if s.Name == "" {
		return fmt.Errorf("script name is required")
	}
	seen := make(map[string]bool, len(s.Rules))
	for i, r := range s.Rules {
		if r.Name == "" {
			return fmt.Errorf("rule %d has no name", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate rule name %q", r.Name)
		}
		seen[r.Name] = true
		if r.Condition == "" {
			return fmt.Errorf("rule %q has no condition", r.Name)
		}
		for _, id := range append(append([]string{}, r.ThenActions...), r.ElseActions...) {
			if _, ok := s.Actions[id]; !ok {
				return fmt.Errorf("rule %q references undeclared action %q", r.Name, id)
			}
		}
	}
	for _, id := range s.DefaultActions {
		if _, ok := s.Actions[id]; !ok {
			return fmt.Errorf("default actions reference undeclared action %q", id)
		}
	}
	return nil
}

// valueDecodeHook converts plain yaml/json scalars into the typed Value union
// used for state variable bags. Maps carrying x/y become positions.
func valueDecodeHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(schemas.Value{}) {
		return data, nil
	}
	switch v := data.(type) {
	case bool:
		return schemas.Boolean(v), nil
	case string:
		return schemas.String(v), nil
	case int:
		return schemas.Number(float64(v)), nil
	case int64:
		return schemas.Number(float64(v)), nil
	case float64:
		return schemas.Number(v), nil
	case map[string]any:
		x, xok := toInt(v["x"])
		y, yok := toInt(v["y"])
		if xok && yok && len(v) == 2 {
			return schemas.Position(schemas.Point{X: x, Y: y}), nil
		}
		return data, nil
	default:
		return data, nil
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
