package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/i5heu/moonblokz-storage/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, BackendMemory, c.Backend)
	assert.Equal(t, uint64(DefaultMemorySize), c.Size)
	assert.Equal(t, uint64(DefaultPageSize), c.PageSize)
	assert.Equal(t, DefaultDataDir, c.DataDir)
	assert.Equal(t, "info", c.Log.Level)
	assert.NoError(t, c.Validate())
}

func TestParse_FlashDefaults(t *testing.T) {
	c, err := Parse([]byte("backend: flash\n"))
	require.NoError(t, err)
	assert.Equal(t, uint64(DefaultFlashSize), c.Size)
	assert.Equal(t, uint64(3*DefaultPageSize), c.StartOffset)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "moonblokz.yaml")
	data := `
backend: flash
size: 65536
pageSize: 4096
startOffset: 16384
dataDir: /tmp/mb
node:
  privateKey: "0101010101010101010101010101010101010101010101010101010101010101"
  ownNodeID: 12
  initParams: "000102030405060708090a0b0c0d0e0f"
log:
  level: debug
  noColor: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendFlash, c.Backend)
	assert.Equal(t, uint64(16384), c.StartOffset)
	assert.Equal(t, "/tmp/mb", c.DataDir)
	assert.Equal(t, uint32(12), c.Node.OwnNodeID)
	assert.True(t, c.Log.NoColor)

	key, err := c.Node.Key()
	require.NoError(t, err)
	assert.Equal(t, byte(1), key[storage.PrivateKeySize-1])

	params, err := c.Node.Params()
	require.NoError(t, err)
	assert.Equal(t, byte(0x0f), params[15])
}

func TestLoad_EmptyPathIsDefault(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown backend": "backend: tape\n",
		"unaligned flash": "backend: flash\nsize: 5000\n",
		"short key":       "node:\n  privateKey: \"0102\"\n",
		"bad hex":         "node:\n  initParams: \"zz\"\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}

	_, err := Parse([]byte("unknownField: 1\n"))
	assert.Error(t, err)
}

func TestOverride(t *testing.T) {
	c, err := Default().Override(BackendFlash, "/tmp/other")
	require.NoError(t, err)
	assert.Equal(t, BackendFlash, c.Backend)
	assert.Equal(t, "/tmp/other", c.DataDir)
	assert.Equal(t, uint64(DefaultMemorySize), c.Size)
	assert.Equal(t, uint64(3*DefaultPageSize), c.StartOffset)

	same, err := c.Override("", "")
	require.NoError(t, err)
	assert.Equal(t, c, same)

	_, err = Default().Override("tape", "")
	assert.ErrorIs(t, err, ErrInvalid)
}
