package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	s := &Store{Path: filepath.Join(t.TempDir(), "settings.json")}
	got, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, Defaults(), got)
	require.Equal(t, uint16(4873), got.DefaultPort)
	require.True(t, got.MinimizeToTray)
	require.False(t, got.AllowLAN)
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	s := &Store{Path: filepath.Join(t.TempDir(), "nested", "settings.json")}
	want := Settings{
		AutoStart:         true,
		MinimizeToTray:    false,
		AutoStartRegistry: true,
		DefaultPort:       5000,
		AllowLAN:          true,
	}
	require.NoError(t, s.Save(want))

	got, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"auto_start": true}`), 0o644))

	s := &Store{Path: path}
	got, err := s.Load()
	require.NoError(t, err)
	require.True(t, got.AutoStart)
	require.True(t, got.MinimizeToTray)
	require.Equal(t, uint16(4873), got.DefaultPort)
}

func TestLoadZeroPortFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"default_port": 0}`), 0o644))

	s := &Store{Path: path}
	got, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, uint16(4873), got.DefaultPort)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := &Store{Path: path}
	_, err := s.Load()
	require.Error(t, err)
}
