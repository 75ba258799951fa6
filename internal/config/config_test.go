package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obfusk8/obfusk8/pkg/types"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	def := DefaultConfig()
	assert.Equal(t, def.Build, cfg.Build)
	assert.Equal(t, def.Output, cfg.Output)
	assert.Equal(t, def.Log, cfg.Log)
	assert.Equal(t, def.Passes.MBADepth, cfg.Passes.MBADepth)
	assert.Empty(t, cfg.Passes.Disabled)
	assert.Equal(t, types.Light, cfg.Profile())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obfusk8.yaml")
	cfg := DefaultConfig()
	cfg.Build.Seed = 0xdeadbeef
	cfg.Build.Profile = "heavy"
	cfg.Passes.Disabled = []string{"vm"}
	cfg.Output.Format = "json"
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdeadbeef), got.Build.Seed)
	assert.Equal(t, types.Heavy, got.Profile())
	assert.Equal(t, []string{"vm"}, got.Passes.Disabled)
	assert.Equal(t, "json", got.Output.Format)
	assert.Equal(t, 2, got.Passes.MBADepth)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OBFUSK8_SEED", "77")
	t.Setenv("OBFUSK8_PROFILE", "medium")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, uint64(77), cfg.Build.Seed)
	assert.Equal(t, types.Medium, cfg.Profile())
}

func TestLoadRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"profile":  "build:\n  profile: extreme\n",
		"format":   "output:\n  format: html\n",
		"decoys":   "passes:\n  decoy_ratio: 12\n",
		"negative": "passes:\n  decoy_ratio: -1\n",
	} {
		path := filepath.Join(dir, name+".yaml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		_, err := Load(path)
		assert.Error(t, err, name)
	}

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&LogConfig{Level: "warn", Format: "json"}, &buf)
	assert.Equal(t, logrus.WarnLevel, log.GetLevel())

	log.Info("hidden")
	log.WithField("region", "hello").Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"region":"hello"`)

	assert.Equal(t, logrus.InfoLevel, NewLogger(&LogConfig{Level: "nope"}, &buf).GetLevel())
}
