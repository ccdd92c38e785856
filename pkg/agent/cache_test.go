package agent

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/challengectl/challengectl/pkg/blob"
	"github.com/challengectl/challengectl/pkg/client"
	"github.com/challengectl/challengectl/pkg/types"
)

// fileServer serves digest-addressed payloads and counts downloads
func fileServer(t *testing.T, files map[string][]byte) (*atomic.Int64, *client.Client) {
	t.Helper()
	var hits atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		digest := filepath.Base(r.URL.Path)
		body, ok := files[digest]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(ts.Close)
	return &hits, client.NewRunner(ts.URL, "key", "", "", false)
}

func TestCacheDownloadsOnce(t *testing.T) {
	payload := []byte("chirp chirp")
	digest := blob.Digest(payload)
	hits, c := fileServer(t, map[string][]byte{digest: payload})

	fc, err := newFileCache(t.TempDir(), c, zerolog.Nop())
	require.NoError(t, err)

	paths, err := fc.resolve([]types.FileRef{{Name: "chirp.bin", Digest: digest}})
	require.NoError(t, err)
	require.Len(t, paths, 1)

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	// second resolve is served from disk
	again, err := fc.resolve([]types.FileRef{{Name: "chirp.bin", Digest: digest}})
	require.NoError(t, err)
	assert.Equal(t, paths, again)
	assert.Equal(t, int64(1), hits.Load())
}

func TestCacheRejectsCorruptDownload(t *testing.T) {
	payload := []byte("expected content")
	digest := blob.Digest(payload)
	_, c := fileServer(t, map[string][]byte{digest: []byte("tampered content")})

	dir := t.TempDir()
	fc, err := newFileCache(dir, c, zerolog.Nop())
	require.NoError(t, err)

	_, err = fc.resolve([]types.FileRef{{Name: "x.bin", Digest: digest}})
	assert.ErrorContains(t, err, "digest mismatch")

	// nothing usable was left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCacheMissingRemoteFile(t *testing.T) {
	_, c := fileServer(t, nil)
	fc, err := newFileCache(t.TempDir(), c, zerolog.Nop())
	require.NoError(t, err)

	_, err = fc.resolve([]types.FileRef{{Name: "x.bin", Digest: blob.Digest([]byte("x"))}})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestCacheLocalRefs(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "local.bin")
	require.NoError(t, os.WriteFile(local, []byte("on disk"), 0o644))

	_, c := fileServer(t, nil)
	fc, err := newFileCache(t.TempDir(), c, zerolog.Nop())
	require.NoError(t, err)

	paths, err := fc.resolve([]types.FileRef{{Name: local}})
	require.NoError(t, err)
	assert.Equal(t, []string{local}, paths)

	_, err = fc.resolve([]types.FileRef{{Name: filepath.Join(dir, "absent.bin")}})
	assert.Error(t, err)
}
