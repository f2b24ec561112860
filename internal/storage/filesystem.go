package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FilesystemBackend is the local-disk fallback variant. Keys map to paths
// under a root directory; it carries no durability or replication
// guarantees beyond the underlying filesystem.
type FilesystemBackend struct {
	root string
}

// NewFilesystemBackend creates the backend rooted at dir.
func NewFilesystemBackend(dir string) *FilesystemBackend {
	return &FilesystemBackend{root: dir}
}

// Name identifies the backend in logs.
func (b *FilesystemBackend) Name() string {
	return "filesystem:" + b.root
}

// Probe verifies the root directory exists (creating it if needed) and is
// writable.
func (b *FilesystemBackend) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(b.root, 0o755); err != nil {
		return fmt.Errorf("filesystem probe: %w", err)
	}

	probe := filepath.Join(b.root, ".probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("filesystem probe: root not writable: %w", err)
	}
	_ = os.Remove(probe)
	return nil
}

// Upload writes data to the key's path and returns a file:// locator.
// The content type is ignored; filesystems carry no object metadata.
func (b *FilesystemBackend) Upload(ctx context.Context, data []byte, key, contentType string) (string, error) {
	path, err := b.keyPath(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("filesystem upload %q: %w", key, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("filesystem upload %q: %w", key, err)
	}
	return "file://" + path, nil
}

// Download returns the stored bytes.
func (b *FilesystemBackend) Download(ctx context.Context, key string) ([]byte, error) {
	path, err := b.keyPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("filesystem download %q: %w", key, err)
	}
	return data, nil
}

// Delete removes the object, reporting false without error when the key
// never existed.
func (b *FilesystemBackend) Delete(ctx context.Context, key string) (bool, error) {
	path, err := b.keyPath(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("filesystem delete %q: %w", key, err)
	}
	return true, nil
}

// List walks the root collecting up to max keys under the prefix, sorted
// lexically for deterministic output.
func (b *FilesystemBackend) List(ctx context.Context, prefix string, max int) ([]Entry, error) {
	var entries []Entry

	err := filepath.WalkDir(b.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(b.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, Entry{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("filesystem list %q: %w", prefix, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	if max > 0 && len(entries) > max {
		entries = entries[:max]
	}
	return entries, nil
}

// keyPath resolves a key to an absolute path under the root, rejecting
// traversal outside it.
func (b *FilesystemBackend) keyPath(key string) (string, error) {
	cleaned := filepath.Clean("/" + key) // forces the path under "/"
	path := filepath.Join(b.root, cleaned)
	if !strings.HasPrefix(path, filepath.Clean(b.root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return path, nil
}
