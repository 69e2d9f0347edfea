package cmd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanRerun(t *testing.T) {
	collected := []string{"test/a.mt", "test/b.mt", "test/sub/c.mt"}
	isConfig := func(name string) bool { return filepath.Base(name) == "minitest.config.json" }

	tests := []struct {
		name    string
		changed []string
		want    rerunPlan
	}{
		{
			name:    "single changed script",
			changed: []string{"test/b.mt"},
			want:    rerunPlan{files: []string{"test/b.mt"}},
		},
		{
			name:    "several scripts deduplicated and sorted",
			changed: []string{"test/sub/c.mt", "./test/a.mt", "test/a.mt"},
			want:    rerunPlan{files: []string{"test/a.mt", "test/sub/c.mt"}},
		},
		{
			name:    "config change runs everything",
			changed: []string{"test/a.mt", "minitest.config.json"},
			want:    rerunPlan{all: true},
		},
		{
			name:    "uncollected script is skipped",
			changed: []string{"other/x.mt"},
			want:    rerunPlan{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := planRerun(tt.changed, collected, isConfig)
			assert.Equal(t, tt.want.all, got.all)
			assert.Equal(t, tt.want.files, got.files)
			assert.Equal(t, tt.want.empty(), got.empty())
		})
	}
}

func TestConfigMatcher(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	t.Run("explicit path", func(t *testing.T) {
		isConfig := configMatcher("conf/ci.yaml")
		assert.True(t, isConfig("conf/ci.yaml"))
		assert.True(t, isConfig(filepath.Join(dir, "conf", "ci.yaml")))
		assert.False(t, isConfig("minitest.config.json"))
	})

	t.Run("search in working directory", func(t *testing.T) {
		isConfig := configMatcher("")
		assert.True(t, isConfig("minitest.config.json"))
		assert.True(t, isConfig(".minitest.config.json"))
		assert.True(t, isConfig("minitest.config.yml"))
		assert.False(t, isConfig("test/minitest.config.json"))
		assert.False(t, isConfig("test/a.mt"))
	})
}
