// Package database handles all the lower level support for the blockchain
// data model: transactions, blocks, account state, the proof of work search
// and the interfaces used to store blocks.
package database

import "errors"

// ErrEndOfChain is returned by an iterator once every block has been read.
var ErrEndOfChain = errors.New("end of chain")

// Serializer interface represents the behavior required to be implemented by any
// package providing support for storing and reading the blockchain. Blocks are
// written in the order they became part of the active chain, so replaying them
// in order reproduces the chain.
type Serializer interface {
	Write(blockData BlockData) error
	ForEach() Iterator
	Close() error
	Reset() error
}

// Iterator interface represents the behavior required to be implemented by any
// package providing support to iterate over the blocks.
type Iterator interface {
	Next() (BlockData, error)
	Done() bool
}

// ReadAll drains the serializer into a slice in write order.
func ReadAll(serializer Serializer) ([]BlockData, error) {
	var blocks []BlockData

	iter := serializer.ForEach()
	for blockData, err := iter.Next(); !iter.Done(); blockData, err = iter.Next() {
		if err != nil {
			return nil, err
		}

		blocks = append(blocks, blockData)
	}

	return blocks, nil
}
