package commands

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avionicsdev/mach/internal/bundle"
)

// TestRootCommand_ShowsHelpWhenNoSubcommand tests that the root command
// shows help instead of silently succeeding when invoked without a subcommand
func TestRootCommand_ShowsHelpWhenNoSubcommand(t *testing.T) {
	// Create a fresh root command for testing
	testRoot := &cobra.Command{
		Use:   "mach",
		Short: "Test root command",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	buf := new(bytes.Buffer)
	testRoot.SetOut(buf)
	testRoot.SetErr(buf)

	err := testRoot.Execute()

	assert.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "Usage:", "Help should be displayed")
	assert.Contains(t, output, "mach", "Help should show command name")
}

// TestRootCommand_RejectsUnknownFlags tests that unknown flags passed to the
// root command cause an error instead of being silently ignored
func TestRootCommand_RejectsUnknownFlags(t *testing.T) {
	testRoot := &cobra.Command{
		Use:   "mach",
		Short: "Test root command",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		FParseErrWhitelist: cobra.FParseErrWhitelist{},
	}

	testRoot.SetArgs([]string{"--unknown-flag", "value"})

	buf := new(bytes.Buffer)
	testRoot.SetOut(buf)
	testRoot.SetErr(buf)

	err := testRoot.Execute()
	assert.Error(t, err, "Unknown flag should cause an error")
	assert.Contains(t, err.Error(), "unknown flag", "Error should mention unknown flag")
}

func TestCompileFilter(t *testing.T) {
	t.Run("empty expression means no filter", func(t *testing.T) {
		re, err := compileFilter("")
		require.NoError(t, err)
		assert.Nil(t, re)
	})

	t.Run("valid expression compiles", func(t *testing.T) {
		re, err := compileFilter("^(PFD|MFD)$")
		require.NoError(t, err)
		require.NotNil(t, re)
		assert.True(t, re.MatchString("PFD"))
		assert.False(t, re.MatchString("ISI"))
	})

	t.Run("invalid expression is rejected", func(t *testing.T) {
		_, err := compileFilter("[unclosed")
		require.Error(t, err)
	})
}

func TestParseSourcemaps(t *testing.T) {
	tests := []struct {
		mode string
		want bundle.Sourcemap
	}{
		{"", bundle.SourcemapNone},
		{"none", bundle.SourcemapNone},
		{"inline", bundle.SourcemapInline},
		{"linked", bundle.SourcemapLinked},
		{"external", bundle.SourcemapExternal},
	}
	for _, tt := range tests {
		got, err := parseSourcemaps(tt.mode)
		require.NoError(t, err, "mode %q", tt.mode)
		assert.Equal(t, tt.want, got)
	}

	_, err := parseSourcemaps("sideways")
	require.Error(t, err)
}

func TestEnvSnapshot(t *testing.T) {
	t.Setenv("MACH_TEST_CHANNEL", "beta")

	env := envSnapshot()
	assert.Equal(t, "beta", env["MACH_TEST_CHANNEL"])
	assert.NotEmpty(t, env["PATH"])
}
