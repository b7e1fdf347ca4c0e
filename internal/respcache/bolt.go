// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package respcache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

const defaultBoltPath = ".citesearch/cache.bolt"

var responsesBucket = []byte("responses")

type boltStore struct {
	db *bolt.DB
}

func openBolt(path string) (*boltStore, error) {
	if path == "" {
		path = defaultBoltPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(responsesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) get(_ context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(responsesBucket).Get([]byte(key)); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, value != nil, nil
}

func (s *boltStore) put(_ context.Context, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(responsesBucket).Put([]byte(key), value)
	})
}

func (s *boltStore) purge(context.Context) (int, error) {
	var n int
	err := s.db.Update(func(tx *bolt.Tx) error {
		n = tx.Bucket(responsesBucket).Stats().KeyN
		if err := tx.DeleteBucket(responsesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(responsesBucket)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *boltStore) close() error { return s.db.Close() }
