// Package leveldb implements the ledger storage on top of goleveldb.
package leveldb

import (
	"encoding/binary"
	"errors"
	"fmt"

	ldb "github.com/btcsuite/goleveldb/leveldb"
	"github.com/btcsuite/goleveldb/leveldb/opt"
	"github.com/btcsuite/goleveldb/leveldb/storage"
	"github.com/btcsuite/goleveldb/leveldb/util"
	"github.com/btpc/consensus/foundation/blockchain/database"
	"github.com/btpc/consensus/foundation/blockchain/ledger"
	"github.com/btpc/consensus/foundation/blockchain/signature"
)

var (
	utxoPrefix = []byte("utxo:")
	tipKey     = []byte("meta:tip")
)

// LevelDB stores the unspent outputs under keys of the form
// "utxo:" + txid + big endian output index.
type LevelDB struct {
	db *ldb.DB
}

// Open opens or creates the database in the directory.
func Open(path string) (*LevelDB, error) {
	db, err := ldb.OpenFile(path, &opt.Options{
		Compression: opt.NoCompression,
	})
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}

	return &LevelDB{db: db}, nil
}

// OpenMemory opens a database that lives in memory.
func OpenMemory() (*LevelDB, error) {
	db, err := ldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}

	return &LevelDB{db: db}, nil
}

// Get returns the output or ledger.ErrNotFound.
func (l *LevelDB) Get(op database.OutPoint) (database.UTXO, error) {
	raw, err := l.db.Get(key(op), nil)
	if err != nil {
		if errors.Is(err, ldb.ErrNotFound) {
			return database.UTXO{}, ledger.ErrNotFound
		}
		return database.UTXO{}, err
	}

	return database.DecodeUTXO(op, raw)
}

// Has reports whether the output is stored.
func (l *LevelDB) Has(op database.OutPoint) (bool, error) {
	return l.db.Has(key(op), nil)
}

// Tip returns the last committed block marker.
func (l *LevelDB) Tip() (ledger.Tip, bool, error) {
	raw, err := l.db.Get(tipKey, nil)
	if err != nil {
		if errors.Is(err, ldb.ErrNotFound) {
			return ledger.Tip{}, false, nil
		}
		return ledger.Tip{}, false, err
	}

	if len(raw) != signature.HashSize+4 {
		return ledger.Tip{}, false, fmt.Errorf("%w: tip record of %d bytes", database.ErrMalformed, len(raw))
	}

	var tip ledger.Tip
	copy(tip.Hash[:], raw)
	tip.Height = binary.BigEndian.Uint32(raw[signature.HashSize:])

	return tip, true, nil
}

// Apply writes the batch atomically and syncs it to disk.
func (l *LevelDB) Apply(batch ledger.Batch) error {
	b := new(ldb.Batch)

	for _, op := range batch.Remove {
		b.Delete(key(op))
	}
	for _, utxo := range batch.Store {
		b.Put(key(utxo.OutPoint), database.EncodeUTXO(utxo))
	}
	if batch.Tip != nil {
		raw := make([]byte, 0, signature.HashSize+4)
		raw = append(raw, batch.Tip.Hash[:]...)
		raw = binary.BigEndian.AppendUint32(raw, batch.Tip.Height)
		b.Put(tipKey, raw)
	}

	return l.db.Write(b, &opt.WriteOptions{Sync: true})
}

// ForEach calls fn for every output in key order.
func (l *LevelDB) ForEach(fn func(utxo database.UTXO) error) error {
	iter := l.db.NewIterator(util.BytesPrefix(utxoPrefix), nil)
	defer iter.Release()

	for iter.Next() {
		op, err := outPoint(iter.Key())
		if err != nil {
			return err
		}

		utxo, err := database.DecodeUTXO(op, iter.Value())
		if err != nil {
			return err
		}

		if err := fn(utxo); err != nil {
			return err
		}
	}

	return iter.Error()
}

// Close closes the database.
func (l *LevelDB) Close() error {
	return l.db.Close()
}

// =============================================================================

func key(op database.OutPoint) []byte {
	k := make([]byte, 0, len(utxoPrefix)+signature.HashSize+4)
	k = append(k, utxoPrefix...)
	k = append(k, op.TxID[:]...)
	return binary.BigEndian.AppendUint32(k, op.Index)
}

func outPoint(k []byte) (database.OutPoint, error) {
	if len(k) != len(utxoPrefix)+signature.HashSize+4 {
		return database.OutPoint{}, fmt.Errorf("%w: utxo key of %d bytes", database.ErrMalformed, len(k))
	}

	var op database.OutPoint
	copy(op.TxID[:], k[len(utxoPrefix):])
	op.Index = binary.BigEndian.Uint32(k[len(utxoPrefix)+signature.HashSize:])

	return op, nil
}
