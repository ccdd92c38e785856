package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/challengectl/challengectl/pkg/blob"
	"github.com/challengectl/challengectl/pkg/client"
	"github.com/challengectl/challengectl/pkg/types"
)

// fileCache mirrors controller payload files onto the runner's disk.
// Files are stored under their hex digest, so the cache never holds two
// copies of the same content and a cached entry never goes stale.
type fileCache struct {
	dir    string
	client *client.Client
	logger zerolog.Logger
}

func newFileCache(dir string, c *client.Client, logger zerolog.Logger) (*fileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &fileCache{dir: dir, client: c, logger: logger}, nil
}

// resolve turns task file references into local paths in task order.
// Digest references are fetched into the cache on first use; references
// without a digest name files already present on the runner.
func (fc *fileCache) resolve(refs []types.FileRef) ([]string, error) {
	paths := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref.Digest == "" {
			if _, err := os.Stat(ref.Name); err != nil {
				return nil, fmt.Errorf("local file %s: %w", ref.Name, err)
			}
			paths = append(paths, ref.Name)
			continue
		}
		path, err := fc.ensure(ref.Digest)
		if err != nil {
			return nil, fmt.Errorf("fetch %s (%s): %w", ref.Name, ref.Digest, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// ensure downloads a digest-addressed file unless it is already cached.
// The download lands in a temp file, is verified against the digest, and
// only then renamed into place, so a crashed or corrupt transfer never
// leaves a usable-looking cache entry behind.
func (fc *fileCache) ensure(digest string) (string, error) {
	hexDigest, err := blob.ParseDigest(digest)
	if err != nil {
		return "", err
	}
	path := filepath.Join(fc.dir, hexDigest)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	rc, err := fc.client.DownloadFile(digest)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(fc.dir, ".fetch-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), rc)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}

	if got := hex.EncodeToString(h.Sum(nil)); got != hexDigest {
		return "", fmt.Errorf("digest mismatch: got sha256:%s", got)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}

	fc.logger.Info().
		Str("digest", digest).
		Int64("bytes", n).
		Msg("Payload file cached")
	return path, nil
}
