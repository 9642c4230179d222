package netconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func withConfigDir(t *testing.T) string {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return dir
}

func TestLoadReturnsDefaultWhenMissing(t *testing.T) {
	withConfigDir(t)
	cfg := Load()
	require.Equal(t, Default(), cfg)
}

func TestLoadReturnsDefaultOnCorruptFile(t *testing.T) {
	withConfigDir(t)
	path, err := Path()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	cfg := Load()
	require.Equal(t, Default(), cfg)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	withConfigDir(t)
	cfg := Default()
	cfg.DisplayName = "Nova"
	cfg.LastHostAddr = "10.0.0.5:7000"

	require.NoError(t, Save(cfg))
	loaded := Load()
	require.Equal(t, cfg, loaded)
}
