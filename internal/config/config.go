// Package config loads and validates the plugin configuration (spec §2,
// §4.1): a YAML document mapping FileType to Plugin.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/standardbeagle/dispatchd/internal/errors"
	"github.com/standardbeagle/dispatchd/internal/types"
)

// document is the on-disk YAML shape: a flat list under "plugins", each
// entry keyed by the FileType it handles.
type document struct {
	Plugins []pluginEntry `yaml:"plugins"`
}

type pluginEntry struct {
	Type string `yaml:"type"`
	types.Plugin `yaml:",inline"`
}

// Load reads path, parses it as YAML, and validates it into a *types.Config
// ready for Lookup. Any problem is returned wrapped in an
// *errors.ConfigError (spec §7: configuration errors are fatal, surfaced
// at startup).
func Load(path string) (*types.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigError("path", path, err)
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.NewConfigError("yaml", path, err)
	}

	cfg := &types.Config{Plugins: make(map[types.FileType]types.Plugin, len(doc.Plugins))}
	for _, entry := range doc.Plugins {
		cfg.Plugins[types.FileType(entry.Type)] = entry.Plugin
	}

	v := NewValidator()
	if err := v.ValidateAndSetDefaults(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validator checks a loaded Config for structural problems and fills in
// the defaults spec §4.1/§6 describe (input=file, output=file when
// omitted), in the teacher's validate-then-default shape
// (internal/config/validator.go).
type Validator struct{}

// NewValidator creates a Validator.
func NewValidator() *Validator { return &Validator{} }

// ValidateAndSetDefaults checks every plugin entry in cfg and applies
// defaults in place. It returns the first problem found wrapped in an
// *errors.ConfigError.
func (v *Validator) ValidateAndSetDefaults(cfg *types.Config) error {
	if len(cfg.Plugins) == 0 {
		return errors.NewConfigError("plugins", "", fmt.Errorf("config declares no plugins"))
	}

	for ft, p := range cfg.Plugins {
		if ft == "" {
			return errors.NewConfigError("type", "", fmt.Errorf("plugin entry has an empty type"))
		}
		if err := v.validatePlugin(&p); err != nil {
			return errors.NewConfigError("plugin", string(ft), err)
		}
		cfg.Plugins[ft] = p
	}
	return nil
}

func (v *Validator) validatePlugin(p *types.Plugin) error {
	if p.Name == "" {
		return fmt.Errorf("plugin name cannot be empty")
	}
	if p.Path == "" {
		return fmt.Errorf("plugin %s: path cannot be empty", p.Name)
	}

	switch p.Input {
	case "":
		p.Input = types.InputFile
	case types.InputFile, types.InputStdin:
	default:
		return fmt.Errorf("plugin %s: invalid input mode %q", p.Name, p.Input)
	}

	switch p.Output {
	case "":
		p.Output = types.OutputFile
	case types.OutputFile, types.OutputDir, types.OutputStdout:
	default:
		return fmt.Errorf("plugin %s: invalid output mode %q", p.Name, p.Output)
	}

	return nil
}
