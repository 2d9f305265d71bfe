package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"relaychat/internal/domain"
)

const fallbackDownloadName = "file.bin"

// maxDuplicates bounds the search for a free "name (n).ext".
const maxDuplicates = 1000

// DownloadFileStore saves completed transfers into one directory.
type DownloadFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewDownloadFileStore returns a store rooted at dir. The directory is
// created on first save.
func NewDownloadFileStore(dir string) *DownloadFileStore {
	return &DownloadFileStore{dir: dir}
}

// Dir returns the download directory.
func (s *DownloadFileStore) Dir() string { return s.dir }

// SaveDownload writes data under the base name of name, adding " (n)" before
// the extension when the name is taken.
func (s *DownloadFileStore) SaveDownload(name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return "", err
	}
	path, err := s.reserve(SanitizeName(name))
	if err != nil {
		return "", err
	}
	if err := writeFile(path, data, 0o600); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// reserve creates an empty placeholder at the first free name.
func (s *DownloadFileStore) reserve(name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < maxDuplicates; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path := filepath.Join(s.dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		return path, f.Close()
	}
	return "", fmt.Errorf("store: no free name for %q in %s", name, s.dir)
}

// SanitizeName strips any directory part from a peer-supplied file name.
func SanitizeName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(strings.ReplaceAll(name, "\x00", ""))
	if name == "" || name == "." || name == ".." {
		return fallbackDownloadName
	}
	return name
}

var _ domain.DownloadStore = (*DownloadFileStore)(nil)
