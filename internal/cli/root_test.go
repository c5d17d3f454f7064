package cli

import (
	"bytes"
	"testing"

	"github.com/leapstack-labs/leapmetrics/internal/cli/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	root := NewRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"datasource", "layer", "deploy", "describe", "ask", "chat", "feedback", "serve", "mcp", "version", "doctor", "init", "completion"} {
		assert.Contains(t, names, want)
	}
	for _, flag := range []string{"config", "home", "layer-dir", "database", "state", "cutoff", "verbose", "output"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestRootCommand_LoadsConfigFromFlags(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Cleanup(config.ResetConfig)
	home := t.TempDir()

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"--home", home, "-o", "json", "version"})
	require.NoError(t, root.Execute())

	cfg := config.GetCurrentConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, home, cfg.Home)
	assert.Equal(t, "json", cfg.OutputFormat)
	assert.Contains(t, out.String(), "leapmetrics v"+Version)
}

func TestRootCommand_InvalidConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Cleanup(config.ResetConfig)

	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"-o", "xml", "version"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output must be one of")
}

func TestCompletionCommand(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"completion", "bash"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "leapmetrics")
}
