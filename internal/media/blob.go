package media

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

var ErrBlobNotFound = errors.New("media: blob not found")

// BlobStore stores bytes by opaque key.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

const blobPrefix = "blob:"

type PebbleStore struct {
	db *pebble.DB
}

// OpenPebble opens the blob store at dir. An empty dir keeps everything in memory.
func OpenPebble(dir string) (*PebbleStore, error) {
	opts := &pebble.Options{}
	if dir == "" {
		opts.FS = vfs.NewMem()
		dir = "media"
	} else if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open media store: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PebbleStore) Put(_ context.Context, key string, data []byte) error {
	return s.db.Set([]byte(blobPrefix+key), data, pebble.Sync)
}

func (s *PebbleStore) Get(_ context.Context, key string) ([]byte, error) {
	v, closer, err := s.db.Get([]byte(blobPrefix + key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *PebbleStore) Delete(_ context.Context, key string) error {
	return s.db.Delete([]byte(blobPrefix+key), pebble.Sync)
}
