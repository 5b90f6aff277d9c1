package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"leech/metainfo"
)

func TestMapperSplitsAcrossFileBoundaries(t *testing.T) {
	dir := t.TempDir()
	files := []*metainfo.File{
		{RelPath: "a.bin", Length: 10},
		{RelPath: "b.bin", Length: 10},
	}
	m, err := New(dir, 20, files)
	require.NoError(t, err)
	defer m.Close()

	data := []byte("Hello, world! BT ok") // 19 bytes, last piece of a 20-byte piece_length
	require.NoError(t, m.Write(0, 0, data))
	require.NoError(t, m.Close())

	a, err := os.ReadFile(filepath.Join(dir, "a.bin"))
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(dir, "b.bin"))
	require.NoError(t, err)

	require.Equal(t, "Hello, wor", string(a))
	require.Equal(t, "ld! BT ok\x00", string(b))
}

func TestMapperSingleFileExactWrite(t *testing.T) {
	dir := t.TempDir()
	files := []*metainfo.File{{RelPath: "only.bin", Length: 65536}}
	m, err := New(dir, 16384, files)
	require.NoError(t, err)
	defer m.Close()

	payload := make([]byte, 65536)
	for i := range payload {
		payload[i] = byte(i % 256)
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, m.Write(i, 0, payload[i*16384:(i+1)*16384]))
	}
	require.NoError(t, m.Close())

	got, err := os.ReadFile(filepath.Join(dir, "only.bin"))
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestMapperCreatesNestedDirectories(t *testing.T) {
	dir := t.TempDir()
	files := []*metainfo.File{{RelPath: filepath.Join("nested", "deep", "file.bin"), Length: 4}}
	m, err := New(dir, 4, files)
	require.NoError(t, err)
	require.NoError(t, m.Write(0, 0, []byte("data")))
	require.NoError(t, m.Close())

	got, err := os.ReadFile(filepath.Join(dir, "nested", "deep", "file.bin"))
	require.NoError(t, err)
	require.Equal(t, "data", string(got))
}
