package paths

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withPlatform replaces the platform lookups for the duration of a test.
func withPlatform(t *testing.T, home, cwd string) {
	t.Helper()
	saved := platformDir
	t.Cleanup(func() { platformDir = saved })
	platformDir.homeDir = func() (string, error) { return home, nil }
	platformDir.userConfigDir = func() (string, error) { return filepath.Join(home, "config"), nil }
	platformDir.getwd = func() (string, error) { return cwd, nil }
}

func TestUserDirsOnLinux(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("linux-only test")
	}
	withPlatform(t, "/home/ada", "/work")

	tests := []struct {
		name   string
		env    string
		value  string
		dir    func() (string, error)
		expect string
	}{
		{"config from XDG", "XDG_CONFIG_HOME", "/xdg/config", DefaultConfigDir, "/xdg/config/tracker"},
		{"config in home", "XDG_CONFIG_HOME", "", DefaultConfigDir, "/home/ada/.config/tracker"},
		{"data from XDG", "XDG_DATA_HOME", "/xdg/data", DefaultDataDir, "/xdg/data/tracker"},
		{"data in home", "XDG_DATA_HOME", "", DefaultDataDir, "/home/ada/.local/share/tracker"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.env, tt.value)
			got, err := tt.dir()
			require.NoError(t, err)
			assert.Equal(t, tt.expect, got)
		})
	}
}

func TestResolveConfigDir(t *testing.T) {
	cwd := t.TempDir()
	withPlatform(t, "/home/ada", cwd)
	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	def, err := DefaultConfigDir()
	require.NoError(t, err)

	t.Run("flag wins over env", func(t *testing.T) {
		t.Setenv(EnvConfigDir, "/env/config")
		got, err := ResolveConfigDir("/explicit/config")
		require.NoError(t, err)
		assert.Equal(t, "/explicit/config", got)
	})
	t.Run("env wins when flag empty", func(t *testing.T) {
		t.Setenv(EnvConfigDir, "/env/config")
		got, err := ResolveConfigDir("")
		require.NoError(t, err)
		assert.Equal(t, "/env/config", got)
	})
	t.Run("user default without a local directory", func(t *testing.T) {
		t.Setenv(EnvConfigDir, "")
		got, err := ResolveConfigDir("")
		require.NoError(t, err)
		assert.Equal(t, def, got)
	})
	t.Run("local directory when present", func(t *testing.T) {
		t.Setenv(EnvConfigDir, "")
		local := filepath.Join(cwd, DefaultConfigDirName)
		require.NoError(t, os.Mkdir(local, 0o755))
		got, err := ResolveConfigDir("")
		require.NoError(t, err)
		assert.Equal(t, local, got)
	})
	t.Run("relative flag becomes absolute", func(t *testing.T) {
		got, err := ResolveConfigDir("relative/path")
		require.NoError(t, err)
		assert.True(t, filepath.IsAbs(got), "expected absolute path, got %s", got)
	})
}

func TestResolveDataDir(t *testing.T) {
	withPlatform(t, "/home/ada", "/work")

	tests := []struct {
		name   string
		flag   string
		config string
		env    string
		want   string
	}{
		{"flag wins over all", "/flag/data", "/config/data", "/env/data", "/flag/data"},
		{"config wins over env", "", "/config/data", "/env/data", "/config/data"},
		{"env when flag and config empty", "", "", "/env/data", "/env/data"},
		{"working directory default", "", "", "", "/work/.tracker-db"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvDataDir, tt.env)
			got, err := ResolveDataDir(tt.flag, tt.config)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("relative config value becomes absolute", func(t *testing.T) {
		t.Setenv(EnvDataDir, "")
		got, err := ResolveDataDir("", "relative/config")
		require.NoError(t, err)
		assert.True(t, filepath.IsAbs(got), "expected absolute path, got %s", got)
	})
}
