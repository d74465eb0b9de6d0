// Package imagecache implements the Image Cache (C3): idempotent download
// to a cache directory with atomic rename and a per-key advisory lock so
// concurrent ensure() calls on the same key never corrupt the file.
// Grounded on h3ow3d-nlab/internal/image/download.go's downloadFile/
// atomic-install pattern, generalized from one hardcoded image to any
// OSImage and with the checksum step dropped (OSImage carries no checksum
// field in this spec's data model).
package imagecache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/dockvirt/dockvirt/internal/config"
	"github.com/dockvirt/dockvirt/internal/dockvirt"
)

// Cache is the image cache rooted at Dir (<base>/images, §6).
type Cache struct {
	Dir string
}

// New returns a Cache rooted at dir, creating it if absent.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, dockvirt.Wrap(dockvirt.Internal, err, "create image cache dir", dir, "")
	}
	return &Cache{Dir: dir}, nil
}

// lockPollInterval is how often a blocked Ensure call rechecks lock state.
const lockPollInterval = 200 * time.Millisecond

// LocalPath returns the path an image with this URL would be cached at,
// without touching the filesystem.
func (c *Cache) LocalPath(img config.OSImage) string {
	return filepath.Join(c.Dir, path.Base(img.URL))
}

// Ensure returns the local path for img, downloading it if not already
// cached. Concurrent Ensure calls on the same key are serialized by an
// advisory lock file; a second caller either reuses the completed file or
// waits for the first to finish (§4.3, §5, §8).
func (c *Cache) Ensure(ctx context.Context, img config.OSImage) (string, error) {
	dest := c.LocalPath(img)
	lockPath := dest + ".lock"
	partPath := dest + ".part"

	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	for {
		lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			// The previous holder may have installed dest between our last
			// check and this lock acquisition.
			if _, statErr := os.Stat(dest); statErr == nil {
				lock.Close()
				os.Remove(lockPath)
				return dest, nil
			}
			return c.download(ctx, img.URL, dest, partPath, lock, lockPath)
		}
		if !errors.Is(err, os.ErrExist) {
			return "", dockvirt.Wrap(dockvirt.ImageFetch, err, "acquire image cache lock", lockPath, "")
		}

		// Someone else holds the lock. Wait for either the final file to
		// appear or the lock to be released, bounded by ctx.
		select {
		case <-ctx.Done():
			return "", dockvirt.Wrap(dockvirt.Cancelled, ctx.Err(), "wait for image cache lock", lockPath, "")
		case <-time.After(lockPollInterval):
		}
		if _, err := os.Stat(dest); err == nil {
			return dest, nil
		}
	}
}

func (c *Cache) download(ctx context.Context, url, dest, partPath string, lock *os.File, lockPath string) (string, error) {
	defer lock.Close()
	defer os.Remove(lockPath)

	if err := downloadFile(ctx, url, partPath); err != nil {
		os.Remove(partPath)
		return "", dockvirt.Wrap(dockvirt.ImageFetch, err, "download base image", url, "check network connectivity and the image URL")
	}

	if err := os.Rename(partPath, dest); err != nil {
		os.Remove(partPath)
		return "", dockvirt.Wrap(dockvirt.ImageFetch, err, "install downloaded image", dest, "")
	}
	return dest, nil
}

// downloadFile streams url to dest using ctx, matching the teacher's
// net/http + io.Copy idiom.
func downloadFile(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.New("unexpected HTTP status " + resp.Status)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, resp.Body)
	return err
}
