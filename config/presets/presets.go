// Package presets contains named configurations overriding the defaults.
package presets

import (
	"fmt"
	"maps"
	"slices"

	"github.com/texmesh/go-texmesh/config"
)

var presets = map[string]config.Config{}

func register(name string, preset config.Config) {
	if _, exist := presets[name]; exist {
		panic(fmt.Sprintf("preset with name %s already exists", name))
	}
	preset.Preset = name
	presets[name] = preset
}

// Options returns the names of registered presets.
func Options() []string {
	return slices.Sorted(maps.Keys(presets))
}

// Get the preset by name.
func Get(name string) (config.Config, error) {
	preset, exist := presets[name]
	if !exist {
		return config.Config{}, fmt.Errorf("preset %s is not registered. select one from %v", name, Options())
	}
	return preset, nil
}
