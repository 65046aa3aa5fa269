package badger

import (
	"context"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/marmos91/shardfs/pkg/store/metadata"
)

// ReadDirectory lists the entries of the directory at path.
//
// Entries are returned in lexicographic name order, which falls out of
// BadgerDB's sorted prefix iteration over the entry namespace.
func (s *Store) ReadDirectory(ctx context.Context, path string) ([]metadata.DirEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path = metadata.CleanPath(path)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []metadata.DirEntry
	err := s.db.View(func(txn *badger.Txn) error {
		id, rec, err := resolve(txn, path)
		if err != nil {
			return err
		}
		if rec.Attr.Type != metadata.FileTypeDirectory {
			return metadata.NewError(metadata.ErrNotDir, "not a directory", path)
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyEntryPrefix(id)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := entryName(id, item.Key())
			err := item.Value(func(val []byte) error {
				entries = append(entries, metadata.DirEntry{
					Name: name,
					Path: string(val),
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []metadata.DirEntry{}
	}
	return entries, nil
}

// AddEntry adds a (name -> target) entry to the directory at dir.
func (s *Store) AddEntry(ctx context.Context, dir, name, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == "" || name == "." || name == ".." {
		return metadata.NewError(metadata.ErrInvalidPath, "invalid entry name", name)
	}

	dir = metadata.CleanPath(dir)

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		id, err := s.resolveDir(txn, dir)
		if err != nil {
			return err
		}
		if _, err := txn.Get(keyEntry(id, name)); err == nil {
			return metadata.NewError(metadata.ErrAlreadyExists, "entry already exists", name)
		} else if err != badger.ErrKeyNotFound {
			return fmt.Errorf("probe entry: %w", err)
		}
		return txn.Set(keyEntry(id, name), []byte(target))
	})
}

// DeleteEntry removes the named entry from the directory at dir.
func (s *Store) DeleteEntry(ctx context.Context, dir, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir = metadata.CleanPath(dir)

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		id, err := s.resolveDir(txn, dir)
		if err != nil {
			return err
		}
		if _, err := txn.Get(keyEntry(id, name)); err == badger.ErrKeyNotFound {
			return metadata.NewError(metadata.ErrNoEntry, "no such entry", name)
		} else if err != nil {
			return fmt.Errorf("probe entry: %w", err)
		}
		return txn.Delete(keyEntry(id, name))
	})
}

// resolveDir resolves path and verifies it is a directory.
func (s *Store) resolveDir(txn *badger.Txn, path string) (uuid.UUID, error) {
	id, rec, err := resolve(txn, path)
	if err != nil {
		return uuid.Nil, err
	}
	if rec.Attr.Type != metadata.FileTypeDirectory {
		return uuid.Nil, metadata.NewError(metadata.ErrNotDir, "not a directory", path)
	}
	return id, nil
}
