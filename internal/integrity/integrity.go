// Package integrity computes content fingerprints of skill directories.
//
// A fingerprint is the SHA-256 over one record per regular file, sorted by
// relative slash path:
//
//	<path> 0x00 <hex sha256 of file bytes> '\n'
//
// It depends only on file paths and contents, never on timestamps,
// permissions or traversal order.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// Prefix marks the digest algorithm.
const Prefix = "sha256:"

// Empty is the fingerprint of a directory with no regular files.
var Empty = Prefix + hex.EncodeToString(sha256.New().Sum(nil))

// Fingerprint walks dir on fs and returns its content fingerprint. Symlinks
// and other non-regular entries are skipped. A missing dir yields an error
// wrapping fs.ErrNotExist.
func Fingerprint(fs billy.Filesystem, dir string) (string, error) {
	digests := map[string]string{}

	err := util.Walk(fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		sum, err := hashFile(fs, path)
		if err != nil {
			return err
		}
		digests[filepath.ToSlash(rel)] = sum
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("fingerprinting %s: %w", dir, err)
	}
	return aggregate(digests), nil
}

// Sum fingerprints in-memory content keyed by relative slash path. It equals
// Fingerprint of a directory holding exactly those files.
func Sum(files map[string][]byte) string {
	digests := make(map[string]string, len(files))
	for p, data := range files {
		h := sha256.Sum256(data)
		digests[strings.TrimPrefix(p, "/")] = hex.EncodeToString(h[:])
	}
	return aggregate(digests)
}

func hashFile(fs billy.Filesystem, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func aggregate(digests map[string]string) string {
	paths := make([]string, 0, len(digests))
	for p := range digests {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, p := range paths {
		io.WriteString(h, p)
		h.Write([]byte{0})
		io.WriteString(h, digests[p])
		h.Write([]byte{'\n'})
	}
	return Prefix + hex.EncodeToString(h.Sum(nil))
}
