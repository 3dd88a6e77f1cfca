package blob

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drivers(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemory(),
		"fs":     fs,
		"s3":     newMockS3(t),
	}
}

func readAll(t *testing.T, s Store, key string) (Info, []byte) {
	t.Helper()
	info, rc, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return info, b
}

func TestStore_Contract(t *testing.T) {
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			body := []byte(`{"stock":[]}`)

			info, err := s.Put(ctx, "snapshots/full/1000.json", bytes.NewReader(body), PutOptions{
				ContentType: "application/json",
				Metadata:    map[string]string{"digest": "abc"},
			})
			require.NoError(t, err)
			assert.Equal(t, "snapshots/full/1000.json", info.Key)
			assert.Equal(t, int64(len(body)), info.Size)

			got, data := readAll(t, s, "snapshots/full/1000.json")
			assert.Equal(t, body, data)
			assert.Equal(t, "application/json", got.ContentType)
			assert.Equal(t, "abc", got.Metadata["digest"])

			_, err = s.Put(ctx, "snapshots/full/1000.json", bytes.NewReader(body), PutOptions{})
			assert.ErrorIs(t, err, ErrExists)

			_, err = s.Put(ctx, "snapshots/finance/2000.json", bytes.NewReader(body), PutOptions{})
			require.NoError(t, err)

			list, err := s.List(ctx, "snapshots/full/")
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "snapshots/full/1000.json", list[0].Key)

			all, err := s.List(ctx, "snapshots/")
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "snapshots/finance/2000.json", all[0].Key, "sorted by key")

			ok, err := s.Delete(ctx, "snapshots/full/1000.json")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.Delete(ctx, "snapshots/full/1000.json")
			require.NoError(t, err)
			assert.False(t, ok)

			_, _, err = s.Get(ctx, "snapshots/full/1000.json")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestFilesystem_RejectsUnsafeKeys(t *testing.T) {
	s, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"", "../escape", "/abs", "a/../b", "x.meta"} {
		_, err := s.Put(context.Background(), key, bytes.NewReader(nil), PutOptions{})
		assert.Error(t, err, "key %q", key)
	}
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, err := m.Put(ctx, "k", bytes.NewReader([]byte("abc")), PutOptions{Metadata: map[string]string{"a": "1"}})
	require.NoError(t, err)

	info, data := readAll(t, m, "k")
	info.Metadata["a"] = "2"
	data[0] = 'x'

	info, data = readAll(t, m, "k")
	assert.Equal(t, "1", info.Metadata["a"])
	assert.Equal(t, []byte("abc"), data)
}

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Root: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, DriverFilesystem, s.Driver())

	s, err = Open(ctx, Config{Driver: DriverMemory})
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, s.Driver())

	_, err = Open(ctx, Config{Driver: DriverS3})
	assert.Error(t, err, "bucket is required")

	_, err = Open(ctx, Config{Driver: "tape"})
	assert.Error(t, err)
}
