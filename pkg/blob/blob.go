package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/challengectl/challengectl/pkg/types"
)

// Prefix marks a content-addressed file reference
const Prefix = "sha256:"

// Store keeps payload files on disk named by their SHA-256 digest. Both the
// controller blob store and the runner's local cache use this layout, so a
// fetched file verifies against the same digest on both ends.
type Store struct {
	dir string
}

// NewStore creates the directory if needed and returns a store over it
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the backing directory
func (s *Store) Dir() string {
	return s.dir
}

// ParseDigest validates a sha256 reference and returns the hex part
func ParseDigest(ref string) (string, error) {
	hexPart, ok := strings.CutPrefix(ref, Prefix)
	if !ok {
		return "", fmt.Errorf("digest %q missing %s prefix", ref, Prefix)
	}
	if len(hexPart) != sha256.Size*2 {
		return "", fmt.Errorf("digest %q has wrong length", ref)
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return "", fmt.Errorf("digest %q is not hex: %w", ref, err)
	}
	return hexPart, nil
}

// Digest computes the content-addressed reference for a byte slice
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return Prefix + hex.EncodeToString(sum[:])
}

// Put streams r into the store and returns the resulting digest and size.
// Content is hashed while written to a temp file, then renamed into place;
// a second Put of identical content is a no-op.
func (s *Store) Put(r io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("failed to close temp file: %w", err)
	}

	digest := Prefix + hex.EncodeToString(h.Sum(nil))
	dest := s.pathFor(digest)

	if _, err := os.Stat(dest); err == nil {
		return digest, size, nil
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", 0, fmt.Errorf("failed to place blob: %w", err)
	}
	return digest, size, nil
}

// Open returns a reader over the blob and its size
func (s *Store) Open(digest string) (io.ReadCloser, int64, error) {
	path, err := s.Path(digest)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("blob %s: %w", digest, types.ErrNotFound)
		}
		return nil, 0, fmt.Errorf("failed to open blob: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat blob: %w", err)
	}
	return f, info.Size(), nil
}

// Path validates the digest and returns the on-disk location
func (s *Store) Path(digest string) (string, error) {
	if _, err := ParseDigest(digest); err != nil {
		return "", err
	}
	return s.pathFor(digest), nil
}

func (s *Store) pathFor(digest string) string {
	return filepath.Join(s.dir, strings.TrimPrefix(digest, Prefix))
}

// Has reports whether the blob exists locally
func (s *Store) Has(digest string) bool {
	path, err := s.Path(digest)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Remove deletes a blob from disk
func (s *Store) Remove(digest string) error {
	path, err := s.Path(digest)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove blob: %w", err)
	}
	return nil
}

// Verify re-hashes the stored blob. A mismatch means on-disk corruption.
func (s *Store) Verify(digest string) error {
	f, _, err := s.Open(digest)
	if err != nil {
		return err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("failed to read blob: %w", err)
	}
	actual := Prefix + hex.EncodeToString(h.Sum(nil))
	if actual != digest {
		return fmt.Errorf("blob %s hashes to %s: %w", digest, actual, types.ErrCorrupt)
	}
	return nil
}
