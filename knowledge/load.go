package knowledge

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed builtin.yaml
var builtinYAML []byte

// tableFile is the on-disk YAML shape of a rule table.
type tableFile struct {
	Version  int             `yaml:"version"`
	Messages []ExpertMessage `yaml:"messages"`
}

// Parse builds a Table from YAML data.
func Parse(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("knowledge: parse table: %w", err)
	}
	return New(f.Version, f.Messages)
}

// Load reads a YAML rule table from disk.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("knowledge: read table: %w", err)
	}
	return Parse(data)
}

var builtinOnce = sync.OnceValue(func() *Table {
	t, err := Parse(builtinYAML)
	if err != nil {
		panic("knowledge: embedded table invalid: " + err.Error())
	}
	return t
})

// Builtin returns the rule table shipped with the engine.
func Builtin() *Table { return builtinOnce() }
