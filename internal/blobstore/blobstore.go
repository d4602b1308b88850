// Package blobstore provides durable storage for uploaded notice media.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrBlobNotFound indicates no blob exists at the given path.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrInvalidPath indicates a path that does not name a blob inside the store.
	ErrInvalidPath = errors.New("invalid blob path")
)

// tempPrefix marks files still being written by Save.
const tempPrefix = ".upload-"

// Info describes one stored blob.
type Info struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Store is durable byte storage keyed by filename.
// Paths returned by Save are stable and are what Delete, Exists and Open accept.
type Store interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	Open(path string) (*os.File, error)
	Walk(ctx context.Context, fn func(Info) error) error
}

// Disk stores blobs as files in a single directory.
// Stored paths have the form "<prefix>/<name>".
type Disk struct {
	root   string
	prefix string
}

// NewDisk creates a store rooted at dir, creating the directory when missing.
func NewDisk(dir, prefix string) (*Disk, error) {
	// #nosec G301 - 0755 is appropriate for media directories that need to be readable by web server
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory %s: %w", dir, err)
	}
	return &Disk{root: dir, prefix: strings.Trim(prefix, "/")}, nil
}

// Prefix returns the first path segment of every stored path.
func (d *Disk) Prefix() string {
	return d.prefix
}

// Save writes r under name and returns the stored path. The blob only becomes
// visible under its final name once fully written.
func (d *Disk) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !validName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}

	tmp, err := os.CreateTemp(d.root, tempPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName) // no-op after a successful rename
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close blob: %w", err)
	}

	dst := filepath.Join(d.root, name)
	if _, err := os.Stat(dst); err == nil {
		return "", fmt.Errorf("blob %s already exists", name)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return "", fmt.Errorf("failed to store blob: %w", err)
	}
	// #nosec G302 - uploaded media is served publicly
	if err := os.Chmod(dst, 0644); err != nil {
		return "", fmt.Errorf("failed to set blob permissions: %w", err)
	}

	return d.prefix + "/" + name, nil
}

// Delete removes the blob at path. A missing blob yields ErrBlobNotFound.
func (d *Disk) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	file, err := d.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("failed to delete blob %s: %w", path, err)
	}
	return nil
}

// Exists reports whether a blob is stored at path.
func (d *Disk) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	file, err := d.resolve(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// Open opens the blob at path for reading.
func (d *Disk) Open(path string) (*os.File, error) {
	file, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	// #nosec G304 - path is confined to the upload directory by resolve
	f, err := os.Open(file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrBlobNotFound
		}
		return nil, err
	}
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, ErrBlobNotFound
	}
	return f, nil
}

// Walk calls fn for every stored blob. Iteration stops at the first error.
func (d *Disk) Walk(ctx context.Context, fn func(Info) error) error {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return fmt.Errorf("failed to list upload directory: %w", err)
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), tempPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed since ReadDir
			continue
		}
		if err := fn(Info{
			Path:    d.prefix + "/" + entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}); err != nil {
			return err
		}
	}
	return nil
}

// resolve maps a stored path to its file, rejecting anything outside the store.
func (d *Disk) resolve(path string) (string, error) {
	name, ok := strings.CutPrefix(path, d.prefix+"/")
	if !ok || !validName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return filepath.Join(d.root, name), nil
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
