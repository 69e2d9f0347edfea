package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/minitest/packages/core/config"
	"github.com/abdul-hamid-achik/minitest/packages/core/runner"
	"github.com/abdul-hamid-achik/minitest/packages/core/script"
	"github.com/abdul-hamid-achik/minitest/packages/logging"
)

func TestParseMillis(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"250", 250, false},
		{"1.5s", 1500, false},
		{"2m", 120000, false},
		{"0", 0, false},
		{"-1", 0, true},
		{"-3s", 0, true},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseMillis(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// flagCommand returns a command whose run flags are bound to the package
// variables, with the given flags marked as set.
func flagCommand(t *testing.T, set map[string]string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "test"}
	c.Flags().BoolVar(&parallelFlag, "parallel", false, "")
	c.Flags().IntVar(&maxWorkersFlag, "max-workers", config.DefaultMaxWorkers, "")
	c.Flags().StringVar(&timeoutFlag, "timeout", "", "")
	c.Flags().StringVar(&fileTimeoutFlag, "file-timeout", "", "")
	c.Flags().StringVar(&isolationFlag, "isolation", config.IsolationGoroutine, "")
	for name, value := range set {
		require.NoError(t, c.Flags().Set(name, value))
	}
	return c
}

func withConfigFile(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "minitest.config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	prev := configFlag
	configFlag = path
	t.Cleanup(func() { configFlag = prev })
}

func TestResolveConfig_Precedence(t *testing.T) {
	withConfigFile(t, `{"maxWorkers": 3, "timeout": 1000, "fileTimeout": 9000}`)
	t.Setenv("MINITEST_TIMEOUT", "2000")
	t.Setenv("MINITEST_PARALLEL", "true")

	cfg, err := resolveConfig(flagCommand(t, map[string]string{
		"file-timeout": "30s",
		"isolation":    "process",
	}))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.GetMaxWorkers(), "config file")
	assert.Equal(t, 2000, cfg.Timeout, "environment over file")
	assert.True(t, cfg.GetParallel(), "environment")
	assert.Equal(t, 30000, cfg.FileTimeout, "flag over file")
	assert.Equal(t, config.IsolationProcess, cfg.GetIsolation())
}

func TestResolveConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		set  map[string]string
	}{
		{"zero workers", `{}`, map[string]string{"max-workers": "0"}},
		{"bad timeout", `{}`, map[string]string{"timeout": "soon"}},
		{"bad isolation", `{}`, map[string]string{"isolation": "thread"}},
		{"invalid file", `{"isolation": "vm"}`, nil},
		{"malformed file", `{`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withConfigFile(t, tt.file)
			_, err := resolveConfig(flagCommand(t, tt.set))
			assert.Error(t, err)
		})
	}
}

func TestInitProject_ExampleRuns(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	c := &cobra.Command{}
	c.SetOut(&out)

	require.NoError(t, initProject(c, dir))
	assert.Contains(t, out.String(), "minitest project initialized!")

	cfg, err := config.LoadConfig(filepath.Join(dir, "minitest.config.json"))
	require.NoError(t, err)
	assert.True(t, cfg.IsDefault())

	files, err := collectFiles(nil, []string{filepath.Join(dir, cfg.TestMatch[0])}, cfg.Ignore)
	require.NoError(t, err)
	require.Len(t, files, 1)

	_, err = script.Check(files[0])
	require.NoError(t, err)

	agg, err := runner.New(cfg, scriptLoaders(logging.Discard())).Run(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, 2, agg.Passed, "%+v", agg.Files[0])
	assert.Equal(t, 0, agg.Failed)
	assert.Equal(t, 1, agg.Skipped)

	// refuses to overwrite without --force
	err = initProject(c, dir)
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, exitCode(err))
}
