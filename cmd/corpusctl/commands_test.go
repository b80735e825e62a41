package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"migrate", "run", "status", "cursor"} {
		assert.True(t, names[want], want)
	}
}

func TestArgs(t *testing.T) {
	assert.Error(t, statusCmd.Args(statusCmd, nil))
	assert.NoError(t, statusCmd.Args(statusCmd, []string{"b6f1"}))
	assert.Error(t, cursorCmd.Args(cursorCmd, []string{"x"}))
}

func TestRunFlags(t *testing.T) {
	f := runCmd.Flags().Lookup("sample-size")
	require.NotNil(t, f)
	assert.Equal(t, "0", f.DefValue)
	require.NotNil(t, runCmd.Flags().Lookup("all"))
	require.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}
