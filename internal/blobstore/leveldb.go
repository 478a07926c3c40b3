package blobstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"mediaguard/pkg/platform/sentinel"
)

const (
	blobKeyPrefix  = "blob_"
	aliasKeyPrefix = "key_"
)

// LevelDBStore persists blobs in a LevelDB database. Blobs live under
// "blob_<ref>" and key aliases under "key_<key>".
type LevelDBStore struct {
	db *leveldb.DB
}

// OpenLevelDB opens or creates the database at path.
func OpenLevelDB(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %s: %w", path, err)
	}
	return &LevelDBStore{db: db}, nil
}

// OpenLevelDBMemory opens a database backed by memory storage.
func OpenLevelDBMemory() (*LevelDBStore, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open in-memory leveldb: %w", err)
	}
	return &LevelDBStore{db: db}, nil
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

// Put writes blob and its key alias in one batch.
func (s *LevelDBStore) Put(ctx context.Context, key string, blob []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := RefFor(blob)
	batch := new(leveldb.Batch)
	batch.Put([]byte(blobKeyPrefix+ref), blob)
	if key != "" {
		batch.Put([]byte(aliasKeyPrefix+key), []byte(ref))
	}
	if err := s.db.Write(batch, nil); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return ref, nil
}

func (s *LevelDBStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validRef(ref) {
		return nil, sentinel.ErrNotFound
	}
	blob, err := s.db.Get([]byte(blobKeyPrefix+ref), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return blob, nil
}

func (s *LevelDBStore) Lookup(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref, err := s.db.Get([]byte(aliasKeyPrefix+key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return "", sentinel.ErrNotFound
		}
		return "", fmt.Errorf("read blob alias: %w", err)
	}
	return string(ref), nil
}
