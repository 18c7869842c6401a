// Package bolt implements the ability to read and write blocks to a single
// bolt database file.
package bolt

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/m-peko/tetherion/foundation/blockchain/database"
	bolt "go.etcd.io/bbolt"
)

// blocksBucket holds the blocks keyed by their big endian write sequence so
// a cursor walks them in write order.
var blocksBucket = []byte("blocks")

// Bolt represents the serialization implementation for reading and storing
// blocks in a bolt database. This implements the database.Serializer
// interface.
type Bolt struct {
	db *bolt.DB
}

// New opens or creates the bolt database at the specified path.
func New(dbPath string) (*Bolt, error) {
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt database: %w", err)
	}

	f := func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blocksBucket)
		return err
	}

	if err := db.Update(f); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &Bolt{db: db}, nil
}

// Close closes the bolt database file.
func (b *Bolt) Close() error {
	return b.db.Close()
}

// Write stores the block under the next write sequence.
func (b *Bolt) Write(blockData database.BlockData) error {
	data, err := json.Marshal(blockData)
	if err != nil {
		return err
	}

	f := func(tx *bolt.Tx) error {
		bkt := tx.Bucket(blocksBucket)

		seq, err := bkt.NextSequence()
		if err != nil {
			return err
		}

		return bkt.Put(key(seq), data)
	}

	return b.db.Update(f)
}

// ForEach returns an iterator to walk through all the blocks in the
// order they were written.
func (b *Bolt) ForEach() database.Iterator {
	return &Iterator{db: b.db}
}

// Reset will clear out the blockchain in the database.
func (b *Bolt) Reset() error {
	f := func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(blocksBucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}

		_, err := tx.CreateBucket(blocksBucket)
		return err
	}

	return b.db.Update(f)
}

// key encodes the sequence so byte order matches numeric order.
func key(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// =============================================================================

// Iterator represents the iteration implementation for walking through
// the blocks bucket. Each call to Next runs in its own read transaction and
// seeks past the last key read, so writes made during iteration don't
// block it. This implements the database Iterator interface.
type Iterator struct {
	db   *bolt.DB
	last uint64
	eoc  bool
}

// Next retrieves the next block from the database.
func (bi *Iterator) Next() (database.BlockData, error) {
	if bi.eoc {
		return database.BlockData{}, database.ErrEndOfChain
	}

	var blockData database.BlockData
	var found bool

	f := func(tx *bolt.Tx) error {
		c := tx.Bucket(blocksBucket).Cursor()

		k, v := c.Seek(key(bi.last + 1))
		if k == nil {
			return nil
		}

		if err := json.Unmarshal(v, &blockData); err != nil {
			return fmt.Errorf("decoding block %d: %w", binary.BigEndian.Uint64(k), err)
		}

		bi.last = binary.BigEndian.Uint64(k)
		found = true
		return nil
	}

	if err := bi.db.View(f); err != nil {
		return database.BlockData{}, err
	}

	if !found {
		bi.eoc = true
		return database.BlockData{}, database.ErrEndOfChain
	}

	return blockData, nil
}

// Done returns the end of chain value.
func (bi *Iterator) Done() bool {
	return bi.eoc
}
