package trust

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps one file per key below Root, so the record for
// "example.com" lives at <Root>/tls/hash/example.com.
type FileStore struct {
	Root string
}

// NewFileStore returns a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Root: dir}
}

func (s *FileStore) path(host string) string {
	return filepath.Join(s.Root, filepath.FromSlash(Key(host)))
}

// Load implements [Store].
func (s *FileStore) Load(host string) (string, bool, error) {
	if err := validHost(host); err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(s.path(host))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", Key(host), err)
	}
	fp := strings.TrimSpace(string(data))
	if fp == "" {
		return "", false, nil
	}
	return fp, true, nil
}

// Save implements [Store].  The file is replaced atomically.
func (s *FileStore) Save(host, fingerprint string) error {
	if err := validHost(host); err != nil {
		return err
	}
	p := s.path(host)
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(p), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".hash-*")
	if err != nil {
		return fmt.Errorf("writing %s: %w", Key(host), err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.WriteString(fingerprint + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", Key(host), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing %s: %w", Key(host), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", Key(host), err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("installing %s: %w", Key(host), err)
	}
	return nil
}

// Close implements [Store].
func (s *FileStore) Close() error { return nil }
