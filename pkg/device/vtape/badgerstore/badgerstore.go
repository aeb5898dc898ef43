// Package badgerstore persists a virtual tape in a BadgerDB directory so
// it survives process restarts.
//
// Key layout:
//
//	layout                   msgpack encoded vtape.Layout
//	rec/<fileID>/<index>     raw record bytes, index zero padded
package badgerstore

import (
	"context"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/marmos91/dittotape/internal/logger"
	"github.com/marmos91/dittotape/pkg/device/vtape"
)

var keyLayout = []byte("layout")

func keyRecord(fileID string, idx int) []byte {
	return []byte(fmt.Sprintf("rec/%s/%012d", fileID, idx))
}

func prefixFile(fileID string) []byte {
	return []byte("rec/" + fileID + "/")
}

// Store is a vtape.Store backed by BadgerDB.
type Store struct {
	db   *badgerdb.DB
	path string
}

// Open opens or creates the store at dir.
func Open(dir string) (*Store, error) {
	db, err := badgerdb.Open(badgerdb.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger %s: %w", dir, err)
	}
	logger.Debug("Badger tape store opened", logger.KeyBackend, "badger", "path", dir)
	return &Store{db: db, path: dir}, nil
}

func (s *Store) Load(ctx context.Context) (vtape.Layout, error) {
	if err := ctx.Err(); err != nil {
		return vtape.Layout{}, err
	}

	var layout vtape.Layout
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyLayout)
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &layout)
		})
	})
	if err != nil {
		return vtape.Layout{}, fmt.Errorf("failed to load tape layout: %w", err)
	}
	return layout, nil
}

func (s *Store) Get(ctx context.Context, fileID string, idx int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyRecord(fileID, idx))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return vtape.ErrNotFound
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store) Put(ctx context.Context, fileID string, idx int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set(keyRecord(fileID, idx), append([]byte(nil), data...)); err != nil {
			return fmt.Errorf("failed to store record %d of %s: %w", idx, fileID, err)
		}
		return nil
	})
}

// Commit writes the layout and deletes the records of dropped files. The
// layout is saved first so a crash between the two steps only leaks
// unreachable records.
func (s *Store) Commit(ctx context.Context, layout vtape.Layout, dropped []vtape.File) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := msgpack.Marshal(&layout)
	if err != nil {
		return fmt.Errorf("failed to encode tape layout: %w", err)
	}
	if err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(keyLayout, data)
	}); err != nil {
		return fmt.Errorf("failed to store tape layout: %w", err)
	}

	for _, f := range dropped {
		if err := s.db.DropPrefix(prefixFile(f.ID)); err != nil {
			return fmt.Errorf("failed to drop file %s: %w", f.ID, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var _ vtape.Store = (*Store)(nil)
