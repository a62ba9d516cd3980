// Package storage provides the implementations of the database.Storage
// interface used to persist the chain of blocks.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/btpc/consensus/foundation/blockchain/database"
)

// Disk represents the serialization implementation for reading and storing
// blocks in their own separate files on disk. This implements the
// database.Storage interface.
type Disk struct {
	dbPath string
}

// NewDisk constructs a Disk value for use.
func NewDisk(dbPath string) (*Disk, error) {
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, err
	}

	return &Disk{dbPath: dbPath}, nil
}

// Close in this implementation has nothing to do since a new file is
// written to disk for each new block and then immediately closed.
func (d *Disk) Close() error {
	return nil
}

// Write takes the specified block data and stores it on disk in a file
// labeled with the block height. The file is written to a temporary name and
// renamed so a crash never leaves a partial block behind.
func (d *Disk) Write(blockData database.BlockData) error {
	data, err := json.MarshalIndent(blockData, "", "  ")
	if err != nil {
		return err
	}

	path := d.getPath(blockData.Height)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

// GetBlock searches the blockchain on disk to locate and return the
// contents of the specified block by height.
func (d *Disk) GetBlock(height uint32) (database.BlockData, error) {
	f, err := os.Open(d.getPath(height))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return database.BlockData{}, database.ErrNotFound
		}
		return database.BlockData{}, err
	}
	defer f.Close()

	var blockData database.BlockData
	if err := json.NewDecoder(f).Decode(&blockData); err != nil {
		return database.BlockData{}, fmt.Errorf("decode block %d: %w", height, err)
	}

	return blockData, nil
}

// ForEach returns an iterator to walk through all the blocks starting with
// the genesis block.
func (d *Disk) ForEach() database.Iterator {
	return &DiskIterator{disk: d}
}

// Reset will clear out the blockchain on disk.
func (d *Disk) Reset() error {
	if err := os.RemoveAll(d.dbPath); err != nil {
		return err
	}

	return os.MkdirAll(d.dbPath, 0755)
}

// getPath forms the path to the specified block.
func (d *Disk) getPath(height uint32) string {
	name := strconv.FormatUint(uint64(height), 10)
	return filepath.Join(d.dbPath, fmt.Sprintf("%s.json", name))
}

// =============================================================================

// DiskIterator represents the iteration implementation for walking
// through and reading blocks on disk. This implements the database
// Iterator interface.
type DiskIterator struct {
	disk    *Disk  // Access to the storage API.
	current uint32 // Height of the next block to read.
	eoc     bool   // Represents the iterator is at the end of the chain.
}

// Next retrieves the next block from disk.
func (di *DiskIterator) Next() (database.BlockData, error) {
	if di.eoc {
		return database.BlockData{}, database.ErrEndOfChain
	}

	blockData, err := di.disk.GetBlock(di.current)
	if errors.Is(err, database.ErrNotFound) {
		di.eoc = true
		return database.BlockData{}, database.ErrEndOfChain
	}

	di.current++
	return blockData, err
}

// Done returns the end of chain value.
func (di *DiskIterator) Done() bool {
	return di.eoc
}
