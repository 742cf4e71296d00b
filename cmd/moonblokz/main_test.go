package main

import (
	"bytes"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/i5heu/moonblokz-storage/internal/config"
	"github.com/i5heu/moonblokz-storage/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, backend string) config.Config {
	t.Helper()
	conf, err := config.Default().Override(backend, t.TempDir())
	require.NoError(t, err)
	conf.Node.OwnNodeID = 1001
	return conf
}

// exec runs one command and returns its standard output.
func exec(t *testing.T, conf config.Config, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(conf, args, &out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return out.String(), err
}

func mustExec(t *testing.T, conf config.Config, args ...string) string {
	t.Helper()
	out, err := exec(t, conf, args...)
	require.NoError(t, err, args)
	return out
}

func TestParseFlags(t *testing.T) {
	cfg, err := parseFlags([]string{"-debug", "-backend", "flash", "-data", "/tmp/x", "read", "3"}, io.Discard)
	require.NoError(t, err)
	assert.True(t, cfg.debug)
	assert.Equal(t, "flash", cfg.backend)
	assert.Equal(t, "/tmp/x", cfg.dataDir)
	assert.Equal(t, []string{"read", "3"}, cfg.args)
	assert.Equal(t, "read", cfg.command())

	_, err = parseFlags([]string{"-nope"}, io.Discard)
	assert.Error(t, err)
}

func TestCLIConfigLoad(t *testing.T) {
	conf, err := cliConfig{backend: config.BackendFlash, dataDir: "/tmp/y"}.load()
	require.NoError(t, err)
	assert.Equal(t, config.BackendFlash, conf.Backend)
	assert.Equal(t, "/tmp/y", conf.DataDir)
}

func TestRun_Usage(t *testing.T) {
	conf := testConfig(t, config.BackendMemory)
	for _, args := range [][]string{nil, {"bogus"}, {"read"}, {"save", "1"}, {"export", "a", "b", "c"}} {
		_, err := exec(t, conf, args...)
		assert.ErrorIs(t, err, errUsage, args)
	}
}

func TestRun_MemoryPersistsBetweenRuns(t *testing.T) {
	conf := testConfig(t, config.BackendMemory)

	assert.Contains(t, mustExec(t, conf, "info"), "control plane:  uninitialized")
	mustExec(t, conf, "init")
	mustExec(t, conf, "save", "3", "hello chain")

	out := mustExec(t, conf, "read", "3")
	assert.Contains(t, out, `"hello chain"`)
	assert.Contains(t, out, "creator:      1001")

	out = mustExec(t, conf, "scan")
	assert.Contains(t, out, "1 occupied, 28 absent, 0 damaged")

	_, err := exec(t, conf, "read", "4")
	assert.ErrorIs(t, err, storage.ErrBlockAbsent)
	_, err = exec(t, conf, "read", "29")
	assert.ErrorIs(t, err, storage.ErrInvalidIndex)
}

func TestRun_ChainConfigurationOnce(t *testing.T) {
	conf := testConfig(t, config.BackendMemory)
	mustExec(t, conf, "init")

	assert.Contains(t, mustExec(t, conf, "control"), "chain configuration: not set")
	mustExec(t, conf, "set-config", "genesis")
	_, err := exec(t, conf, "set-config", "again")
	assert.ErrorIs(t, err, storage.ErrChainConfigurationAlreadySet)

	out := mustExec(t, conf, "control")
	assert.Contains(t, out, "node id:     1001")
	assert.Contains(t, out, `"genesis"`)
}

func TestRun_Demo(t *testing.T) {
	for _, backend := range []string{config.BackendMemory, config.BackendFlash} {
		t.Run(backend, func(t *testing.T) {
			conf := testConfig(t, backend)
			assert.Contains(t, mustExec(t, conf, "demo"), "completed")
			assert.Contains(t, mustExec(t, conf, "info"), "control plane:  initialized")
		})
	}

	conf := testConfig(t, config.BackendBlocks)
	_, err := exec(t, conf, "demo")
	code, ok := storage.IOCode(err)
	require.True(t, ok)
	assert.Equal(t, storage.CodeControlPlaneUnsupported, code)
}

func TestRun_FlashPersistsBetweenRuns(t *testing.T) {
	conf := testConfig(t, config.BackendFlash)
	mustExec(t, conf, "init")
	mustExec(t, conf, "save", "0", "on flash")

	assert.Contains(t, mustExec(t, conf, "read", "0"), `"on flash"`)
	assert.Contains(t, mustExec(t, conf, "info"), "slots:          26")
}

func TestRun_ExportImport(t *testing.T) {
	src := testConfig(t, config.BackendMemory)
	mustExec(t, src, "init")
	mustExec(t, src, "save", "1", "exported")

	for _, format := range []string{"raw", "zstd", "xz"} {
		t.Run(format, func(t *testing.T) {
			img := filepath.Join(t.TempDir(), "medium.img")
			mustExec(t, src, "export", img, format)

			dst := testConfig(t, config.BackendMemory)
			assert.Contains(t, mustExec(t, dst, "import", img), format)
			assert.Contains(t, mustExec(t, dst, "read", "1"), `"exported"`)
		})
	}

	img := filepath.Join(t.TempDir(), "medium.img")
	mustExec(t, src, "export", img)
	other := testConfig(t, config.BackendFlash)
	_, err := exec(t, other, "import", img)
	assert.Error(t, err)
}
