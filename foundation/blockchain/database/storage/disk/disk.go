// Package disk implements the ability to read and write blocks to disk
// writing each block to a separate block numbered file.
package disk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strconv"
	"sync"

	"github.com/m-peko/tetherion/foundation/blockchain/database"
)

// Disk represents the serialization implementation for reading and storing
// blocks in their own separate files on disk. Files are labeled with the
// sequence the block was written in, not the block number, since a reorg
// writes a second block at a height that was already stored. This implements
// the database.Serializer interface.
type Disk struct {
	mu     sync.Mutex
	dbPath string
	next   uint64
}

// New constructs a Disk value for use.
func New(dbPath string) (*Disk, error) {
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, err
	}

	d := Disk{dbPath: dbPath, next: 1}

	// Pick up where the last run left off.
	for {
		if _, err := os.Stat(d.getPath(d.next)); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				break
			}
			return nil, err
		}
		d.next++
	}

	return &d, nil
}

// Close in this implementation has nothing to do since a new file is
// written to disk for each now block and then immediately closed.
func (d *Disk) Close() error {
	return nil
}

// Write takes the specified database blocks and stores it on disk in a
// file labeled with the next write sequence.
func (d *Disk) Write(blockData database.BlockData) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Marshal the block for writing to disk in a more human readable format.
	data, err := json.MarshalIndent(blockData, "", "  ")
	if err != nil {
		return err
	}

	// Create a new file for this block. An existing file is never replaced.
	f, err := os.OpenFile(d.getPath(d.next), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	// Write the new block to disk.
	if _, err := f.Write(data); err != nil {
		return err
	}

	if err := f.Sync(); err != nil {
		return err
	}

	d.next++
	return nil
}

// GetBlock reads the block stored at the specified write sequence.
func (d *Disk) GetBlock(seq uint64) (database.BlockData, error) {

	// Open the block file for the specified sequence.
	f, err := os.OpenFile(d.getPath(seq), os.O_RDONLY, 0600)
	if err != nil {
		return database.BlockData{}, err
	}
	defer f.Close()

	// Decode the contents of the block.
	var blockData database.BlockData
	if err := json.NewDecoder(f).Decode(&blockData); err != nil {
		return database.BlockData{}, fmt.Errorf("decoding block %d: %w", seq, err)
	}

	return blockData, nil
}

// ForEach returns an iterator to walk through all the blocks in the
// order they were written.
func (d *Disk) ForEach() database.Iterator {
	return &Iterator{disk: d}
}

// Reset will clear out the blockchain on disk.
func (d *Disk) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.RemoveAll(d.dbPath); err != nil {
		return err
	}

	if err := os.MkdirAll(d.dbPath, 0755); err != nil {
		return err
	}

	d.next = 1
	return nil
}

// getPath forms the path to the specified block.
func (d *Disk) getPath(seq uint64) string {
	name := strconv.FormatUint(seq, 10)
	return path.Join(d.dbPath, fmt.Sprintf("%s.json", name))
}

// =============================================================================

// Iterator represents the iteration implementation for walking
// through and reading blocks on disk. This implements the database
// Iterator interface.
type Iterator struct {
	disk    *Disk  // Access to the disk storage API.
	current uint64 // Current write sequence being iterated over.
	eoc     bool   // Represents the iterator is at the end of the chain.
}

// Next retrieves the next block from disk.
func (di *Iterator) Next() (database.BlockData, error) {
	if di.eoc {
		return database.BlockData{}, database.ErrEndOfChain
	}

	di.current++
	blockData, err := di.disk.GetBlock(di.current)
	if errors.Is(err, fs.ErrNotExist) {
		di.eoc = true
		return database.BlockData{}, database.ErrEndOfChain
	}

	return blockData, err
}

// Done returns the end of chain value.
func (di *Iterator) Done() bool {
	return di.eoc
}
