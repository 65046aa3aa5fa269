// Package badger implements the metadata store on BadgerDB, a fast
// embedded key-value store with ACID transactions.
package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/marmos91/shardfs/internal/logger"
	"github.com/marmos91/shardfs/pkg/store/metadata"
)

// Store implements metadata.Store using BadgerDB for persistence.
//
// It is suitable for production deployments where metadata must survive
// restarts: BadgerDB gives WAL-based crash recovery, and every mutation
// here runs inside a single transaction, so a record and its directory
// linkage are committed together or not at all.
//
// Thread Safety:
// All operations are protected by a single read-write mutex on top of
// BadgerDB's own transaction isolation. Coarse-grained locking is simple
// and correct; the stores are not the data-plane bottleneck (the device
// and the network are).
//
// Linkage model:
// CreateFile/CreateDirectory link the new record into its parent
// directory in the same transaction when the parent record exists in
// this store. When the parent is owned by another node its entry is
// added remotely through AddEntry; the record is then created unlinked
// here and the directory stays consistent on the parent's owner.
type Store struct {
	mu sync.RWMutex
	db *badger.DB

	gcCancel context.CancelFunc
	gcDone   chan struct{}
}

// Open opens (or creates) a badger-backed store at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	return open(opts)
}

// OpenInMemory opens an ephemeral store holding everything in memory.
// Used by tests and by configurations that do not need persistence.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	return open(opts)
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureRoot(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// ensureRoot creates the root directory record on first open.
func (s *Store) ensureRoot() error {
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(keyName(metadata.RootPath))
		if err == nil {
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return fmt.Errorf("probe root: %w", err)
		}

		now := time.Now()
		attr := &metadata.FileAttr{
			Type:  metadata.FileTypeDirectory,
			Mode:  0755,
			Atime: now,
			Mtime: now,
			Ctime: now,
		}
		id := uuid.New()
		body, err := encodeRecord(&recordData{Path: metadata.RootPath, Attr: attr})
		if err != nil {
			return err
		}
		if err := txn.Set(keyRecord(id), body); err != nil {
			return fmt.Errorf("write root record: %w", err)
		}
		if err := txn.Set(keyName(metadata.RootPath), id[:]); err != nil {
			return fmt.Errorf("write root name index: %w", err)
		}
		return nil
	})
}

// Close stops the GC loop (if running) and closes the database.
func (s *Store) Close() error {
	if s.gcCancel != nil {
		s.gcCancel()
		<-s.gcDone
	}
	return s.db.Close()
}

// StartGC launches a background loop that periodically runs BadgerDB
// value-log garbage collection. Reclaims space left by deleted records;
// a no-op for in-memory stores.
func (s *Store) StartGC(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.gcCancel = cancel
	s.gcDone = make(chan struct{})

	go func() {
		defer close(s.gcDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// Rewrite value-log files until badger reports nothing
				// left worth rewriting.
				for {
					if err := s.db.RunValueLogGC(0.5); err != nil {
						if err != badger.ErrNoRewrite {
							logger.Warn("badger value log GC: %v", err)
						}
						break
					}
				}
			}
		}
	}()
}

// lookupID resolves a canonical path to its record UUID.
func lookupID(txn *badger.Txn, path string) (uuid.UUID, error) {
	item, err := txn.Get(keyName(path))
	if err == badger.ErrKeyNotFound {
		return uuid.Nil, metadata.NewError(metadata.ErrNoEntry, "no such file or directory", path)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("name index lookup: %w", err)
	}

	var id uuid.UUID
	err = item.Value(func(val []byte) error {
		copy(id[:], val)
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// getRecord loads and decodes the record body for id.
func getRecord(txn *badger.Txn, id uuid.UUID, path string) (*recordData, error) {
	item, err := txn.Get(keyRecord(id))
	if err == badger.ErrKeyNotFound {
		// Name index without a body means a torn manual edit, not
		// something a transaction can produce.
		return nil, metadata.NewError(metadata.ErrIO, "dangling name index entry", path)
	}
	if err != nil {
		return nil, fmt.Errorf("record lookup: %w", err)
	}

	var rec *recordData
	err = item.Value(func(val []byte) error {
		r, err := decodeRecord(val)
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// resolve combines lookupID and getRecord.
func resolve(txn *badger.Txn, path string) (uuid.UUID, *recordData, error) {
	id, err := lookupID(txn, path)
	if err != nil {
		return uuid.Nil, nil, err
	}
	rec, err := getRecord(txn, id, path)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return id, rec, nil
}

var _ metadata.Store = (*Store)(nil)
