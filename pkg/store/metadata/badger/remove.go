package badger

import (
	"context"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/marmos91/shardfs/pkg/store/metadata"
)

// RemoveFile deletes a regular file record, its extent list and (when
// the parent record lives here) its parent directory entry, all in one
// transaction.
func (s *Store) RemoveFile(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path = metadata.CleanPath(path)
	if path == metadata.RootPath {
		return metadata.NewError(metadata.ErrInvalidPath, "cannot remove root", path)
	}

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
		return s.removeRecord(txn, id, path)
	})
}

// RemoveDirectory deletes an empty directory record and its parent
// entry. A directory that still has entries returns ErrNotEmpty.
func (s *Store) RemoveDirectory(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path = metadata.CleanPath(path)
	if path == metadata.RootPath {
		return metadata.NewError(metadata.ErrInvalidPath, "cannot remove root", path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		id, rec, err := resolve(txn, path)
		if err != nil {
			return err
		}
		if rec.Attr.Type != metadata.FileTypeDirectory {
			return metadata.NewError(metadata.ErrNotDir, "not a directory", path)
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyEntryPrefix(id)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		it.Rewind()
		empty := !it.Valid()
		it.Close()
		if !empty {
			return metadata.NewError(metadata.ErrNotEmpty, "directory not empty", path)
		}

		return s.removeRecord(txn, id, path)
	})
}

// removeRecord deletes the record body, name index, extent list and the
// parent's entry for it (when the parent is local).
func (s *Store) removeRecord(txn *badger.Txn, id uuid.UUID, path string) error {
	if err := txn.Delete(keyRecord(id)); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if err := txn.Delete(keyName(path)); err != nil {
		return fmt.Errorf("delete name index: %w", err)
	}
	if err := txn.Delete(keyExtents(id)); err != nil {
		return fmt.Errorf("delete extents: %w", err)
	}

	parent, name := metadata.SplitPath(path)
	parentID, err := lookupID(txn, parent)
	if err != nil {
		if metadata.CodeOf(err) == metadata.ErrNoEntry {
			// Remote parent: its entry is removed on its owning node.
			return nil
		}
		return err
	}
	if err := txn.Delete(keyEntry(parentID, name)); err != nil {
		return fmt.Errorf("delete parent entry: %w", err)
	}
	return nil
}
