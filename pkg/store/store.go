// Package store persists conversation trees. The chatlog package never
// touches the filesystem itself; it serializes through a Store handed in
// from the outside.
package store

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/arbor/pkg/chatlog"
)

// Store persists and restores a conversation tree. Implementations own
// the encoding and the location.
type Store interface {
	Save(cl *chatlog.Chatlog) error
	Load() (*chatlog.Chatlog, error)
}

// FileStore persists the tree as indented JSON at a fixed path.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

var _ Store = (*FileStore)(nil)

func (f *FileStore) Save(cl *chatlog.Chatlog) error {
	b, err := cl.ToJSON()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(f.Path), 0755); err != nil {
		return errors.Wrap(err, "failed to create store directory")
	}
	if err := os.WriteFile(f.Path, b, 0644); err != nil {
		return errors.Wrapf(err, "failed to write %s", f.Path)
	}

	log.Debug().Str("path", f.Path).Int("messages", cl.Len()).Msg("saved conversation")
	return nil
}

// Load restores the tree and prunes the placeholders a crashed or
// interrupted session may have left behind.
func (f *FileStore) Load() (*chatlog.Chatlog, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", f.Path)
	}

	cl, err := chatlog.FromJSON(b)
	if err != nil {
		return nil, err
	}

	if removed := cl.Clean(); removed > 0 {
		log.Debug().Str("path", f.Path).Int("removed", removed).Msg("pruned unfilled messages on load")
	}
	return cl, nil
}
