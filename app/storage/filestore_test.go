package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"rigforge/app/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "processed/a/b.zip", want: "processed/a/b.zip"},
		{in: "/processed//a/./b.zip", want: "processed/a/b.zip"},
		{in: `characters\kaya.fbx`, want: "characters/kaya.fbx"},
		{in: "../etc/passwd", wantErr: true},
		{in: "a/../../x", wantErr: true},
		{in: "  ", wantErr: true},
	}
	for _, tt := range tests {
		got, err := SanitizeKey(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	key, err := WriteBytes(ctx, fs, "/processed/job-1/out.zip", []byte("bundle"))
	require.NoError(t, err)
	assert.Equal(t, "processed/job-1/out.zip", key)

	data, err := ReadAll(ctx, fs, key)
	require.NoError(t, err)
	assert.Equal(t, "bundle", string(data))

	objects, err := fs.List("processed")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "processed/job-1/out.zip", objects[0].Path)
	assert.EqualValues(t, 6, objects[0].Size)

	require.NoError(t, fs.Delete(key))
	_, err = ReadAll(ctx, fs, key)
	assert.True(t, os.IsNotExist(err))
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	_, err = WriteBytes(context.Background(), fs, "a/b.bin", []byte{1, 2, 3})
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "a"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b.bin", entries[0].Name())
}

func TestNewProvider(t *testing.T) {
	st, err := New(config.StorageConfig{Provider: "filesystem", BasePath: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, st)

	_, err = New(config.StorageConfig{Provider: "minio"})
	assert.Error(t, err)

	_, err = New(config.StorageConfig{Provider: "ftp"})
	assert.Error(t, err)
}

func TestWriteBytesHonoursContext(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = WriteBytes(ctx, fs, "x", []byte("y"))
	assert.ErrorIs(t, err, context.Canceled)
}
