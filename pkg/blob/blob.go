// Package blob is the object-store collaborator used for attachment and
// avatar bytes. The core never depends on more than this interface; the
// bundled implementation keeps blobs on the local filesystem.
package blob

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"chatrelay/pkg/errs"
)

// Store is a minimal object store: opaque bytes in, URL out.
type Store interface {
	Put(data []byte, contentType string) (url string, err error)
	Get(url string) (data []byte, contentType string, err error)
	Delete(url string) error
}

// FSStore keeps blobs under a directory, one file per blob plus a small
// sidecar with the content type.
type FSStore struct {
	dir      string
	maxBytes int64
}

type meta struct {
	ContentType string `json:"content_type"`
}

func NewFSStore(dir string, maxBytes int64) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = 4 * 1024 * 1024
	}
	return &FSStore{dir: dir, maxBytes: maxBytes}, nil
}

func (s *FSStore) Put(data []byte, contentType string) (string, error) {
	if int64(len(data)) > s.maxBytes {
		return "", errs.New(errs.InvalidInput, "blob too large")
	}
	id := uuid.NewString()
	if err := os.WriteFile(filepath.Join(s.dir, id), data, 0o600); err != nil {
		return "", errs.Wrap(errs.Unavailable, "writing blob", err)
	}
	mb, _ := json.Marshal(meta{ContentType: contentType})
	if err := os.WriteFile(filepath.Join(s.dir, id+".meta"), mb, 0o600); err != nil {
		return "", errs.Wrap(errs.Unavailable, "writing blob metadata", err)
	}
	return "blob://" + id, nil
}

func (s *FSStore) Get(url string) ([]byte, string, error) {
	id, err := s.id(url)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, id))
	if os.IsNotExist(err) {
		return nil, "", errs.New(errs.NotFound, "blob not found")
	} else if err != nil {
		return nil, "", errs.Wrap(errs.Unavailable, "reading blob", err)
	}
	var m meta
	if mb, err := os.ReadFile(filepath.Join(s.dir, id+".meta")); err == nil {
		_ = json.Unmarshal(mb, &m)
	}
	return data, m.ContentType, nil
}

func (s *FSStore) Delete(url string) error {
	id, err := s.id(url)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, id)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.Unavailable, "deleting blob", err)
	}
	_ = os.Remove(filepath.Join(s.dir, id+".meta"))
	return nil
}

// id validates the URL scheme and guards against path traversal.
func (s *FSStore) id(url string) (string, error) {
	id, ok := strings.CutPrefix(url, "blob://")
	if !ok || id == "" || strings.ContainsAny(id, "/\\.") {
		return "", errs.New(errs.InvalidInput, "invalid blob url")
	}
	return id, nil
}
