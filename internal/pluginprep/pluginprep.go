// Package pluginprep turns a declared Plugin plus an optional existing
// input path into a PreparedPlugin: a concrete command with concrete I/O
// bindings (spec §4.3).
package pluginprep

import (
	"os"
	"os/exec"

	"github.com/standardbeagle/dispatchd/internal/pathgen"
	"github.com/standardbeagle/dispatchd/internal/types"
)

// Prepare resolves plugin into a PreparedPlugin. existingInput is the path
// of an already-on-disk input file when the caller's Input.Data is a
// FileInputData (so the plugin can read it in place); pass "" when the
// input will arrive as a stream and PluginPrep should allocate a fresh
// path via gen.
func Prepare(plugin types.Plugin, existingInput string, gen *pathgen.Generator) (*types.PreparedPlugin, error) {
	cmd := exec.Command(plugin.Path)
	cmd.Env = os.Environ()

	args := append([]string(nil), plugin.Args...)

	prepared := &types.PreparedPlugin{
		PluginName: plugin.Name,
		Cmd:        cmd,
		Unpacker:   plugin.Unpacker,
	}

	inputMode := plugin.Input
	if inputMode == "" {
		inputMode = types.InputFile
	}

	switch inputMode {
	case types.InputStdin:
		cmd.Stdin = nil // wired by TaskRunner via a pipe it owns
		prepared.InputPath = types.StdinInputPath{}
	default:
		inputPath := existingInput
		if inputPath == "" {
			inputPath = gen.Next()
		}
		cmd.Env = append(cmd.Env, "INPUT="+inputPath)
		args = substituteToken(args, "$INPUT", inputPath)
		prepared.InputPath = types.FileInputPath{Path: inputPath}
	}

	outputMode := plugin.Output
	if outputMode == "" {
		outputMode = types.OutputFile
	}

	switch outputMode {
	case types.OutputStdout:
		prepared.OutputPath = types.StdoutOutputPath{}
	case types.OutputDir:
		outputPath := gen.Next()
		cmd.Dir = outputPath
		cmd.Env = append(cmd.Env, "OUTPUT="+outputPath)
		args = substituteToken(args, "$OUTPUT", outputPath)
		prepared.OutputPath = types.DirOutputPath{Path: outputPath}
	default:
		outputPath := gen.Next()
		cmd.Env = append(cmd.Env, "OUTPUT="+outputPath)
		args = substituteToken(args, "$OUTPUT", outputPath)
		prepared.OutputPath = types.FileOutputPath{Path: outputPath}
	}

	cmd.Args = append([]string{plugin.Path}, args...)
	return prepared, nil
}

// substituteToken replaces every exact-match occurrence of token in args
// with value (whole-argument substitution, never a substring splice —
// spec §4.3).
func substituteToken(args []string, token, value string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if a == token {
			out[i] = value
		} else {
			out[i] = a
		}
	}
	return out
}
