// Package memory implements the ability to read and write blocks to memory
// using a slice.
package memory

import (
	"sync"

	"github.com/m-peko/tetherion/foundation/blockchain/database"
)

// Memory represents the serialization implementation for reading and storing
// blocks in memory using a slice. This implements the database.Serializer
// interface.
type Memory struct {
	mu     sync.RWMutex
	blocks []database.BlockData
}

// New constructs a Memory value for use.
func New() *Memory {
	return &Memory{}
}

// Close in this implementation has nothing to do since everything
// is in memory.
func (m *Memory) Close() error {
	return nil
}

// Write takes the specified database blocks and stores it in memory.
func (m *Memory) Write(blockData database.BlockData) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks = append(m.blocks, blockData)

	return nil
}

// Len returns the number of blocks written.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.blocks)
}

// ForEach returns an iterator to walk through all the blocks in the
// order they were written.
func (m *Memory) ForEach() database.Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()

	blocks := make([]database.BlockData, len(m.blocks))
	copy(blocks, m.blocks)

	return &Iterator{blocks: blocks}
}

// Reset will clear out the blockchain in memory.
func (m *Memory) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks = nil
	return nil
}

// =============================================================================

// Iterator represents the iteration implementation for walking
// through and reading blocks in memory. This implements the database
// Iterator interface.
type Iterator struct {
	blocks  []database.BlockData
	current int
	eoc     bool
}

// Next retrieves the next block from memory.
func (mi *Iterator) Next() (database.BlockData, error) {
	if mi.eoc || mi.current >= len(mi.blocks) {
		mi.eoc = true
		return database.BlockData{}, database.ErrEndOfChain
	}

	blockData := mi.blocks[mi.current]
	mi.current++

	return blockData, nil
}

// Done returns the end of chain value.
func (mi *Iterator) Done() bool {
	return mi.eoc
}
