package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(New())
	require.NoError(t, err)

	assert.Equal(t, uint64(100_000_000), cfg.Snapshot.MaxRegionSize)
	assert.Equal(t, 8, cfg.Snapshot.PointerSize)
	assert.Equal(t, 5, cfg.Search.MaxDepth)
	assert.Equal(t, int64(0x1000), cfg.Search.MaxOffset)
	assert.True(t, cfg.Index.Compress)
	assert.Positive(t, cfg.Search.Threads)
}

func TestLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ptrscan.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
snapshot:
  max_region_size: 1MiB
search:
  max_depth: 3
  max_offset: 256
  threads: 2
`), 0o644))

	t.Setenv("PTRSCAN_SEARCH_THREADS", "6")

	v := New()
	require.NoError(t, ReadFile(v, path))

	fs := pflag.NewFlagSet("scan", pflag.ContinueOnError)
	fs.Int("depth", 7, "")
	fs.Int64("offset", 0, "")
	require.NoError(t, BindFlags(v, fs, map[string]string{
		"search.max_depth":  "depth",
		"search.max_offset": "offset",
		"search.threads":    "threads",
	}))
	require.NoError(t, fs.Parse([]string{"--depth", "4"}))

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, uint64(1<<20), cfg.Snapshot.MaxRegionSize)
	assert.Equal(t, 4, cfg.Search.MaxDepth, "changed flag wins")
	assert.Equal(t, int64(256), cfg.Search.MaxOffset, "unchanged flag defers to file")
	assert.Equal(t, 6, cfg.Search.Threads, "env beats file")
}

func TestReadFileErrors(t *testing.T) {
	v := New()
	err := ReadFile(v, filepath.Join(t.TempDir(), "missing.yml"))
	assert.ErrorIs(t, err, ErrConfig)
}

func TestLoadRejectsBadValues(t *testing.T) {
	v := New()
	v.Set("snapshot.pointer_size", 2)
	_, err := Load(v)
	assert.ErrorIs(t, err, ErrConfig)

	v = New()
	v.Set("snapshot.max_region_size", "lots")
	_, err = Load(v)
	assert.ErrorIs(t, err, ErrConfig)
}
