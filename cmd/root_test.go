package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	// Verify expected subcommands are registered.
	expected := []string{"crawl", "serve", "migrate", "funds", "runs", "config"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "fund-crawler", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestCrawlCommand_Flags(t *testing.T) {
	flag := crawlCmd.Flags().Lookup("max-pages")
	require.NotNil(t, flag, "crawl command should have --max-pages flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestFundsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range fundsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "search", "charts"} {
		assert.True(t, names[name], "expected funds subcommand %q not found", name)
	}
	assert.NotNil(t, fundsCmd.PersistentFlags().Lookup("json"))
}

func TestRunsCommand_LimitFlag(t *testing.T) {
	flag := runsCmd.PersistentFlags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "20", flag.DefValue)
}
