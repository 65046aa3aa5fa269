package badger

import (
	"context"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/marmos91/shardfs/pkg/store/metadata"
)

// CreateFile inserts a regular file record at path.
//
// The record and its parent directory entry (when the parent record
// exists in this store) are written in one transaction.
func (s *Store) CreateFile(ctx context.Context, path string, attr *metadata.FileAttr) error {
	attrCopy := *attr
	attrCopy.Type = metadata.FileTypeRegular
	return s.create(ctx, path, &attrCopy)
}

// CreateDirectory inserts a directory record at path.
func (s *Store) CreateDirectory(ctx context.Context, path string, attr *metadata.FileAttr) error {
	attrCopy := *attr
	attrCopy.Type = metadata.FileTypeDirectory
	return s.create(ctx, path, &attrCopy)
}

func (s *Store) create(ctx context.Context, path string, attr *metadata.FileAttr) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path = metadata.CleanPath(path)
	if !metadata.ValidPath(path) || path == metadata.RootPath {
		return metadata.NewError(metadata.ErrInvalidPath, "invalid path", path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(keyName(path)); err == nil {
			return metadata.NewError(metadata.ErrAlreadyExists, "already exists", path)
		} else if err != badger.ErrKeyNotFound {
			return fmt.Errorf("probe name index: %w", err)
		}

		id := uuid.New()
		body, err := encodeRecord(&recordData{Path: path, Attr: attr})
		if err != nil {
			return err
		}
		if err := txn.Set(keyRecord(id), body); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := txn.Set(keyName(path), id[:]); err != nil {
			return fmt.Errorf("write name index: %w", err)
		}

		// Link into the parent when its record lives here. A remote
		// parent gets its entry through AddEntry on its owning node.
		parent, name := metadata.SplitPath(path)
		parentID, err := lookupID(txn, parent)
		if err != nil {
			if metadata.CodeOf(err) == metadata.ErrNoEntry {
				return nil
			}
			return err
		}
		parentRec, err := getRecord(txn, parentID, parent)
		if err != nil {
			return err
		}
		if parentRec.Attr.Type != metadata.FileTypeDirectory {
			return metadata.NewError(metadata.ErrNotDir, "parent is not a directory", parent)
		}
		if err := txn.Set(keyEntry(parentID, name), []byte(path)); err != nil {
			return fmt.Errorf("write parent entry: %w", err)
		}
		return nil
	})
}

// GetAttr returns the attributes of the record at path.
func (s *Store) GetAttr(ctx context.Context, path string) (*metadata.FileAttr, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path = metadata.CleanPath(path)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var attr *metadata.FileAttr
	err := s.db.View(func(txn *badger.Txn) error {
		_, rec, err := resolve(txn, path)
		if err != nil {
			return err
		}
		attrCopy := *rec.Attr
		attr = &attrCopy
		return nil
	})
	if err != nil {
		return nil, err
	}
	return attr, nil
}

// SetAttr replaces the attributes of the record at path.
func (s *Store) SetAttr(ctx context.Context, path string, attr *metadata.FileAttr) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path = metadata.CleanPath(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		id, rec, err := resolve(txn, path)
		if err != nil {
			return err
		}
		attrCopy := *attr
		attrCopy.Type = rec.Attr.Type // record kind never changes in place
		body, err := encodeRecord(&recordData{Path: path, Attr: &attrCopy})
		if err != nil {
			return err
		}
		return txn.Set(keyRecord(id), body)
	})
}

// Exists reports whether a record exists at path.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	path = metadata.CleanPath(path)

	s.mu.RLock()
	defer s.mu.RUnlock()

	exists := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(keyName(path))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return fmt.Errorf("probe name index: %w", err)
		}
		exists = true
		return nil
	})
	return exists, err
}

// GetExtents returns the extent list of the file at path.
func (s *Store) GetExtents(ctx context.Context, path string) ([]metadata.ExtentRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path = metadata.CleanPath(path)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var extents []metadata.ExtentRef
	err := s.db.View(func(txn *badger.Txn) error {
		id, rec, err := resolve(txn, path)
		if err != nil {
			return err
		}
		if rec.Attr.Type != metadata.FileTypeRegular {
			return metadata.NewError(metadata.ErrIsDir, "is a directory", path)
		}

		item, err := txn.Get(keyExtents(id))
		if err == badger.ErrKeyNotFound {
			extents = []metadata.ExtentRef{}
			return nil
		}
		if err != nil {
			return fmt.Errorf("extent lookup: %w", err)
		}
		return item.Value(func(val []byte) error {
			exts, err := decodeExtents(val)
			if err != nil {
				return err
			}
			extents = exts
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return extents, nil
}

// SetExtents atomically replaces the extent list of the file at path.
//
// The single-key put rides on badger's transaction commit, which gives
// the pointer-swap semantics the block engine relies on: a reader sees
// the old list or the new one, never a torn mix.
func (s *Store) SetExtents(ctx context.Context, path string, extents []metadata.ExtentRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path = metadata.CleanPath(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		id, rec, err := resolve(txn, path)
		if err != nil {
			return err
		}
		if rec.Attr.Type != metadata.FileTypeRegular {
			return metadata.NewError(metadata.ErrIsDir, "is a directory", path)
		}
		return txn.Set(keyExtents(id), encodeExtents(extents))
	})
}

// ForEachExtentList visits every persisted extent list. Used by the
// block engine to rebuild allocator state at startup.
func (s *Store) ForEachExtentList(ctx context.Context, fn func(extents []metadata.ExtentRef) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixExtents)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				exts, err := decodeExtents(val)
				if err != nil {
					return err
				}
				return fn(exts)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ForEachContentID visits the ContentID of every regular file record
// with one assigned. The garbage collector uses this to build the set
// of referenced blobs.
func (s *Store) ForEachContentID(ctx context.Context, fn func(id string) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixRecord)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				rec, err := decodeRecord(val)
				if err != nil {
					return err
				}
				if rec.Attr == nil || rec.Attr.ContentID == "" {
					return nil
				}
				return fn(rec.Attr.ContentID)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}
