// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package headerdb persists block headers for an SPV header chain.

Each header is stored as a Record keyed by its block hash, together with its
height and the cumulative work of the chain ending at it, plus a single tip
entry naming the best chain tip.  Records are msgpack encoded.  Three storage
engines are supported: goleveldb, pebble and an in-memory goleveldb instance
that is handy for tests and ephemeral runs.
*/
package headerdb

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/vmihailenco/msgpack/v5"
)

// Supported database types.
const (
	TypeLevelDB = "leveldb"
	TypePebble  = "pebble"
	TypeMemory  = "memory"
)

var (
	// ErrNotFound is returned when a requested record or the tip does not
	// exist.
	ErrNotFound = errors.New("headerdb: not found")

	// ErrClosed is returned when the database is used after Close.
	ErrClosed = errors.New("headerdb: closed")
)

var (
	recordPrefix = []byte("h")
	tipKey       = []byte("t")
)

// SupportedTypes returns the database types that can be passed to Open.
func SupportedTypes() []string {
	return []string{TypeLevelDB, TypePebble, TypeMemory}
}

// Record is a stored block header with its chain metadata.
type Record struct {
	Height int32  `msgpack:"height"`
	Header []byte `msgpack:"header"`
	Work   []byte `msgpack:"work"`
}

// NewRecord serializes header and returns the record describing it at the
// given height with the given cumulative work.
func NewRecord(header *wire.BlockHeader, height int32, work *big.Int) (*Record, error) {
	var buf bytes.Buffer
	buf.Grow(wire.MaxBlockHeaderPayload)
	if err := header.Serialize(&buf); err != nil {
		return nil, err
	}
	return &Record{
		Height: height,
		Header: buf.Bytes(),
		Work:   work.Bytes(),
	}, nil
}

// BlockHeader deserializes the stored header.
func (r *Record) BlockHeader() (*wire.BlockHeader, error) {
	var header wire.BlockHeader
	if err := header.Deserialize(bytes.NewReader(r.Header)); err != nil {
		return nil, err
	}
	return &header, nil
}

// WorkSum returns the cumulative work of the chain ending at the record.
func (r *Record) WorkSum() *big.Int {
	return new(big.Int).SetBytes(r.Work)
}

// DB is a header database.  Apart from Close, its methods are safe for
// concurrent access.
type DB struct {
	be     backend
	dbType string
}

// Open opens (creating when needed) a database of the given type at path.  The
// path is ignored for TypeMemory.
func Open(dbType, path string) (*DB, error) {
	switch dbType {
	case TypeLevelDB:
		return OpenLevelDB(path)
	case TypePebble:
		return OpenPebble(path)
	case TypeMemory:
		return OpenMemory()
	}
	return nil, fmt.Errorf("headerdb: unsupported database type %q "+
		"-- supported types %v", dbType, SupportedTypes())
}

// OpenLevelDB opens a goleveldb backed database at path.
func OpenLevelDB(path string) (*DB, error) {
	be, err := openLevelBackend(path)
	if err != nil {
		return nil, err
	}
	log.Infof("Opened %s header database at %s", TypeLevelDB, path)
	return &DB{be: be, dbType: TypeLevelDB}, nil
}

// OpenPebble opens a pebble backed database at path.
func OpenPebble(path string) (*DB, error) {
	be, err := openPebbleBackend(path)
	if err != nil {
		return nil, err
	}
	log.Infof("Opened %s header database at %s", TypePebble, path)
	return &DB{be: be, dbType: TypePebble}, nil
}

// OpenMemory opens a database that lives in memory only.
func OpenMemory() (*DB, error) {
	be, err := openMemoryBackend()
	if err != nil {
		return nil, err
	}
	log.Debugf("Opened in-memory header database")
	return &DB{be: be, dbType: TypeMemory}, nil
}

// Type returns the database type.
func (db *DB) Type() string {
	return db.dbType
}

func recordKey(hash *chainhash.Hash) []byte {
	key := make([]byte, len(recordPrefix)+chainhash.HashSize)
	copy(key, recordPrefix)
	copy(key[len(recordPrefix):], hash[:])
	return key
}

// PutRecords atomically stores the passed records keyed by their header hash
// and, when tip is not nil, makes tip the best chain tip.
func (db *DB) PutRecords(tip *chainhash.Hash, records ...*Record) error {
	if db.be == nil {
		return ErrClosed
	}

	batch := make([]kvPair, 0, len(records)+1)
	for _, rec := range records {
		header, err := rec.BlockHeader()
		if err != nil {
			return err
		}
		value, err := msgpack.Marshal(rec)
		if err != nil {
			return err
		}
		hash := header.BlockHash()
		batch = append(batch, kvPair{key: recordKey(&hash), value: value})
	}
	if tip != nil {
		batch = append(batch, kvPair{key: tipKey, value: tip.CloneBytes()})
	}
	if len(batch) == 0 {
		return nil
	}

	log.Tracef("Writing %d header records (tip %v)", len(records), tip)
	return db.be.Write(batch)
}

// FetchRecord returns the record for the block with the passed hash or
// ErrNotFound.
func (db *DB) FetchRecord(hash *chainhash.Hash) (*Record, error) {
	if db.be == nil {
		return nil, ErrClosed
	}

	value, err := db.be.Get(recordKey(hash))
	if err == errKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := msgpack.Unmarshal(value, &rec); err != nil {
		return nil, fmt.Errorf("headerdb: corrupt record %v: %v", hash, err)
	}
	return &rec, nil
}

// FetchTip returns the hash of the best chain tip or ErrNotFound when none has
// been stored yet.
func (db *DB) FetchTip() (*chainhash.Hash, error) {
	if db.be == nil {
		return nil, ErrClosed
	}

	value, err := db.be.Get(tipKey)
	if err == errKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return chainhash.NewHash(value)
}

// ForEach calls fn for every stored record.  Records are visited in key order,
// which is unrelated to their height.  Iteration stops at the first error.
func (db *DB) ForEach(fn func(*Record) error) error {
	if db.be == nil {
		return ErrClosed
	}

	return db.be.ForEachPrefix(recordPrefix, func(key, value []byte) error {
		var rec Record
		if err := msgpack.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("headerdb: corrupt record %x: %v",
				key[len(recordPrefix):], err)
		}
		return fn(&rec)
	})
}

// Close closes the database.  Further use returns ErrClosed.
func (db *DB) Close() error {
	if db.be == nil {
		return ErrClosed
	}
	err := db.be.Close()
	db.be = nil
	return err
}
