package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const sequenceBandwidth = 100

var (
	recordPrefix = []byte("record/")
	pathPrefix   = []byte("path/")
	sequenceKey  = []byte("sequence/record")
)

// BadgerIndex implements Index on a badger database.
type BadgerIndex struct {
	db  *badger.DB
	seq *badger.Sequence
}

// NewBadgerIndex opens (or creates) the index stored in dir. An empty dir
// keeps the index in memory.
func NewBadgerIndex(dir string) (*BadgerIndex, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil // Disable badger logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	seq, seqErr := db.GetSequence(sequenceKey, sequenceBandwidth)
	if seqErr != nil {
		return nil, errors.Join(fmt.Errorf("failed to open id sequence: %w", seqErr), db.Close())
	}

	return &BadgerIndex{
		db:  db,
		seq: seq,
	}, nil
}

func recordKey(id int64) []byte {
	key := make([]byte, len(recordPrefix)+8)
	copy(key, recordPrefix)
	binary.BigEndian.PutUint64(key[len(recordPrefix):], uint64(id))
	return key
}

// pathKey maps a storage path to the id of the record stored there.
func pathKey(path string) []byte {
	return append(append([]byte{}, pathPrefix...), path...)
}

func encodeID(id int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(id))
}

func getRecord(txn *badger.Txn, id int64) (*Record, error) {
	item, err := txn.Get(recordKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("record %d: %w", id, ErrRecordNotFound)
		}
		return nil, err
	}
	record := &Record{}
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, record)
	}); err != nil {
		return nil, fmt.Errorf("failed to decode record %d: %w", id, err)
	}
	return record, nil
}

func (b *BadgerIndex) Create(record *Record) (*Record, error) {
	next, seqErr := b.seq.Next()
	if seqErr != nil {
		return nil, fmt.Errorf("failed to issue record id: %w", seqErr)
	}

	created := record.Clone()
	created.ID = int64(next) + 1
	now := time.Now().UTC()
	created.CreatedAt = now
	created.UpdatedAt = now

	data, marshalErr := json.Marshal(created)
	if marshalErr != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", marshalErr)
	}

	if err := b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(recordKey(created.ID), data); err != nil {
			return err
		}
		return txn.Set(pathKey(created.StoragePath), encodeID(created.ID))
	}); err != nil {
		return nil, fmt.Errorf("failed to store record %d: %w", created.ID, err)
	}
	return created, nil
}

func (b *BadgerIndex) Find(id int64) (*Record, error) {
	var record *Record
	err := b.db.View(func(txn *badger.Txn) error {
		var getErr error
		record, getErr = getRecord(txn, id)
		return getErr
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// FindByPath returns the record whose blob lives at path.
func (b *BadgerIndex) FindByPath(path string) (*Record, error) {
	var record *Record
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pathKey(path))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("path %q: %w", path, ErrRecordNotFound)
			}
			return err
		}
		val, valErr := item.ValueCopy(nil)
		if valErr != nil {
			return valErr
		}
		if len(val) != 8 {
			return fmt.Errorf("path %q: malformed id entry", path)
		}

		var getErr error
		record, getErr = getRecord(txn, int64(binary.BigEndian.Uint64(val)))
		if getErr != nil {
			return getErr
		}
		if record.StoragePath != path {
			return fmt.Errorf("path %q: %w", path, ErrRecordNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Update replaces a stored record. The record must already exist.
func (b *BadgerIndex) Update(record *Record) error {
	updated := record.Clone()
	updated.UpdatedAt = time.Now().UTC()

	data, marshalErr := json.Marshal(updated)
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal record: %w", marshalErr)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		current, getErr := getRecord(txn, record.ID)
		if getErr != nil {
			return getErr
		}
		if current.StoragePath != updated.StoragePath {
			if err := txn.Delete(pathKey(current.StoragePath)); err != nil {
				return err
			}
		}
		if err := txn.Set(recordKey(record.ID), data); err != nil {
			return err
		}
		return txn.Set(pathKey(updated.StoragePath), encodeID(record.ID))
	})
}

// Delete removes a record. Deleting an unknown id is not an error.
func (b *BadgerIndex) Delete(id int64) error {
	return b.db.Update(func(txn *badger.Txn) error {
		current, getErr := getRecord(txn, id)
		if errors.Is(getErr, ErrRecordNotFound) {
			return nil
		}
		if getErr != nil {
			return getErr
		}
		if err := txn.Delete(pathKey(current.StoragePath)); err != nil {
			return err
		}
		return txn.Delete(recordKey(id))
	})
}

func (b *BadgerIndex) List() ([]*Record, error) {
	records := []*Record{}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = recordPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			record := &Record{}
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, record)
			}); err != nil {
				return fmt.Errorf("failed to decode record %x: %w", it.Item().Key(), err)
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Close releases unused leased ids and closes the database.
func (b *BadgerIndex) Close() error {
	var releaseErr error
	if b.seq != nil {
		releaseErr = b.seq.Release()
	}
	if b.db != nil {
		return errors.Join(releaseErr, b.db.Close())
	}
	return releaseErr
}
