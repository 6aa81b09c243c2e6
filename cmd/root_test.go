package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subcommandNames(cmds []*cobra.Command) map[string]bool {
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}
	return names
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := subcommandNames(rootCmd.Commands())

	expected := []string{"cycle", "watch", "serve", "incidents", "runs", "stations", "migrate"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "envintel", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestCycleCommand_Flags(t *testing.T) {
	flag := cycleCmd.Flags().Lookup("json")
	require.NotNil(t, flag, "cycle command should have --json flag")
	assert.Equal(t, "false", flag.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestWatchCommand_Flags(t *testing.T) {
	for _, name := range []string{"interval", "no-serve"} {
		assert.NotNil(t, watchCmd.Flags().Lookup(name), "watch should have --%s flag", name)
	}
}

func TestIncidentsCommand_HasSubcommands(t *testing.T) {
	names := subcommandNames(incidentsCmd.Commands())
	assert.True(t, names["list"])
	assert.True(t, names["show"])

	for _, name := range []string{"since", "limit", "offset"} {
		assert.NotNil(t, incidentsListCmd.Flags().Lookup(name), "incidents list should have --%s flag", name)
	}
	assert.Equal(t, "50", incidentsListCmd.Flags().Lookup("limit").DefValue)
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := subcommandNames(runsCmd.Commands())
	for _, name := range []string{"list", "show", "stats"} {
		assert.True(t, names[name], "runs should have subcommand %q", name)
	}
	assert.Equal(t, "7", runsStatsCmd.Flags().Lookup("days").DefValue)
}

func TestStationsCommand_HasSubcommands(t *testing.T) {
	names := subcommandNames(stationsCmd.Commands())
	assert.True(t, names["sync"])
	assert.True(t, names["load"])

	flag := stationsLoadCmd.Flags().Lookup("file")
	require.NotNil(t, flag)
	assert.Equal(t, "stations.yaml", flag.DefValue)
}
