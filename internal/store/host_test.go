package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHostKeeperPersistsAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.json")

	k := NewHostKeeper(path, zap.NewNop())
	_, ok := k.ID()
	require.False(t, ok)
	assert.Equal(t, HostAbsent, k.State())

	require.NoError(t, k.Set(42))
	assert.Equal(t, HostValid, k.State())

	restored := NewHostKeeper(path, zap.NewNop())
	id, ok := restored.ID()
	require.True(t, ok)
	assert.Equal(t, 42, id)
	// Persistence never implies validity.
	assert.Equal(t, HostPending, restored.State())
}

func TestHostKeeperClearRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.json")
	k := NewHostKeeper(path, zap.NewNop())
	require.NoError(t, k.Set(7))

	k.Clear()
	_, ok := k.ID()
	assert.False(t, ok)
	assert.Equal(t, HostAbsent, k.State())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestHostKeeperIgnoresCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	k := NewHostKeeper(path, zap.NewNop())
	_, ok := k.ID()
	assert.False(t, ok)
	assert.Equal(t, HostAbsent, k.State())
}

func TestHostKeeperInvalidTransitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.json")
	k := NewHostKeeper(path, zap.NewNop())

	// Marks without an identity stay absent.
	k.markInvalid()
	assert.Equal(t, HostAbsent, k.State())

	require.NoError(t, k.Set(7))
	k.markInvalid()
	assert.Equal(t, HostInvalid, k.State())
	k.markValid()
	assert.Equal(t, HostValid, k.State())
}
