package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_ShowsHelp(t *testing.T) {
	// Given: a root command

	// When: executing with --help
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	err := cmd.Execute()

	// Then: it should show usage information
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "searchd", "Help should mention program name")
	assert.Contains(t, output, "Usage:", "Help should show usage")
}

func TestRootCmd_NoArgsShowsHelp(t *testing.T) {
	// Given: a root command with no default action

	// When: executing with no arguments
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()

	// Then: it should print help instead of starting anything
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "Available Commands:", "Bare invocation should show help")
	assert.Contains(t, output, "serve", "Help should list the serve command")
}

func TestRootCmd_ShowsVersion(t *testing.T) {
	// Given: a root command

	// When: executing with --version
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--version"})

	err := cmd.Execute()

	// Then: it should show the version template
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "searchd version", "Version output should use the template")
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	// Given: a root command

	// When: checking available commands
	cmd := NewRootCmd()
	subcommands := cmd.Commands()

	// Then: the service, indexer and diagnostic commands should exist
	var commandNames []string
	for _, subcmd := range subcommands {
		commandNames = append(commandNames, subcmd.Name())
	}

	assert.Contains(t, commandNames, "serve", "Should have serve subcommand")
	assert.Contains(t, commandNames, "index", "Should have index subcommand")
	assert.Contains(t, commandNames, "health", "Should have health subcommand")
	assert.Contains(t, commandNames, "metrics", "Should have metrics subcommand")
	assert.Contains(t, commandNames, "config", "Should have config subcommand")
	assert.Contains(t, commandNames, "version", "Should have version subcommand")
}

func TestRootCmd_HasConfigFlag(t *testing.T) {
	// Given: a root command
	cmd := NewRootCmd()

	// Then: it should have a persistent --config flag
	flag := cmd.PersistentFlags().Lookup("config")
	assert.NotNil(t, flag, "Should have --config flag")
	assert.Equal(t, "", flag.DefValue)
}

func TestRootCmd_HasDebugFlag(t *testing.T) {
	// Given: a root command
	cmd := NewRootCmd()

	// Then: it should have a persistent --debug flag
	flag := cmd.PersistentFlags().Lookup("debug")
	assert.NotNil(t, flag, "Should have --debug flag")
	assert.Equal(t, "false", flag.DefValue)
}

func TestRootCmd_HasProfileFlags(t *testing.T) {
	// Given: a root command
	cmd := NewRootCmd()

	// Then: the profiling flags should exist and default to off
	for _, name := range []string{"profile-cpu", "profile-mem", "profile-trace"} {
		flag := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, flag, "Should have --%s flag", name)
		assert.Equal(t, "", flag.DefValue)
	}
}

func TestRootCmd_ProfileFlagsWriteFiles(t *testing.T) {
	// Given: profile targets in a temp directory
	dir := t.TempDir()
	cpu := filepath.Join(dir, "cpu.prof")
	mem := filepath.Join(dir, "heap.prof")

	// When: a quick command runs with the profile flags
	_, err := execute(t, "version", "--profile-cpu", cpu, "--profile-mem", mem)
	require.NoError(t, err)

	// Then: both profiles exist on exit
	for _, path := range []string{cpu, mem} {
		info, serr := os.Stat(path)
		require.NoError(t, serr, path)
		assert.Greater(t, info.Size(), int64(0), path)
	}
}

func TestServeCmd_ShowsHelp(t *testing.T) {
	// Given: a root command

	// When: executing serve --help
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"serve", "--help"})

	err := cmd.Execute()

	// Then: it should show serve usage including the addr flag
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "serve", "Serve help should mention serve")
	assert.Contains(t, output, "--addr", "Serve help should list the addr flag")
}

func TestIndexCmd_HasSubcommands(t *testing.T) {
	// Given: the index command group
	root := NewRootCmd()
	var indexCmd *cobra.Command
	for _, sub := range root.Commands() {
		if sub.Name() == "index" {
			indexCmd = sub
		}
	}
	require.NotNil(t, indexCmd, "index command should exist")

	// Then: run, history and indices should exist
	var commandNames []string
	for _, subcmd := range indexCmd.Commands() {
		commandNames = append(commandNames, subcmd.Name())
	}

	assert.Contains(t, commandNames, "run", "Should have index run")
	assert.Contains(t, commandNames, "history", "Should have index history")
	assert.Contains(t, commandNames, "indices", "Should have index indices")
}

func TestIndexRunCmd_HasFlags(t *testing.T) {
	// Given: the index run command
	runCmd := newIndexRunCmd()

	// Then: the pipeline flags should exist
	for _, name := range []string{"batch-size", "dry-run", "yes", "no-tui", "schema"} {
		assert.NotNil(t, runCmd.Flags().Lookup(name), "Should have --%s flag", name)
	}
}

func TestHealthCmd_ShowsHelp(t *testing.T) {
	// Given: a root command

	// When: executing health --help
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"health", "--help"})

	err := cmd.Execute()

	// Then: it should show the diagnostics description
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "diagnostics", "Health help should describe the checks")
	assert.Contains(t, output, "--json", "Health help should list the json flag")
}
