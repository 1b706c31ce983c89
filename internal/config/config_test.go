package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/dispatchd/internal/errors"
	"github.com/standardbeagle/dispatchd/internal/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plugins.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
plugins:
  - type: script/sh
    name: foo
    path: /bin/sh
    args: ["$INPUT"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	p, ok := cfg.Lookup("script/sh")
	require.True(t, ok)
	assert.Equal(t, types.InputFile, p.Input)
	assert.Equal(t, types.OutputFile, p.Output)
	assert.False(t, p.Unpacker)
}

func TestLoadRejectsEmptyPluginList(t *testing.T) {
	path := writeConfig(t, "plugins: []\n")

	_, err := Load(path)
	require.Error(t, err)
	var cfgErr *errors.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLoadRejectsInvalidInputMode(t *testing.T) {
	path := writeConfig(t, `
plugins:
  - type: script/sh
    name: foo
    path: /bin/sh
    input: carrier-pigeon
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingPath(t *testing.T) {
	path := writeConfig(t, `
plugins:
  - type: script/sh
    name: foo
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestKnownTypesCoversEveryPlugin(t *testing.T) {
	path := writeConfig(t, `
plugins:
  - type: script/sh
    name: foo
    path: /bin/sh
  - type: archive/zip
    name: unzip
    path: /usr/bin/unzip
    output: dir
    unpacker: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.ElementsMatch(t, []types.FileType{"script/sh", "archive/zip"}, cfg.KnownTypes())

	unzip, ok := cfg.Lookup("archive/zip")
	require.True(t, ok)
	assert.True(t, unzip.Unpacker)
	assert.Equal(t, types.OutputDir, unzip.Output)
}
