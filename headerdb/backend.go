// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package headerdb

import (
	"errors"
	"runtime"

	"github.com/cockroachdb/pebble"
	pebblebloom "github.com/cockroachdb/pebble/bloom"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// errKeyNotFound is returned by backends when a key does not exist.
var errKeyNotFound = errors.New("key not found")

// kvPair is a single write of a batch.
type kvPair struct {
	key   []byte
	value []byte
}

// backend is the minimal key/value engine the header database needs.  Batches
// are applied atomically and synced to disk.
type backend interface {
	Get(key []byte) ([]byte, error)
	Write(batch []kvPair) error
	ForEachPrefix(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// levelBackend implements backend on goleveldb.
type levelBackend struct {
	db *leveldb.DB
}

func openLevelBackend(path string) (*levelBackend, error) {
	opts := opt.Options{
		Strict:      opt.DefaultStrict,
		Compression: opt.NoCompression,
		Filter:      filter.NewBloomFilter(10),
	}
	ldb, err := leveldb.OpenFile(path, &opts)
	if err != nil {
		return nil, err
	}
	return &levelBackend{db: ldb}, nil
}

func openMemoryBackend() (*levelBackend, error) {
	ldb, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &levelBackend{db: ldb}, nil
}

func (b *levelBackend) Get(key []byte) ([]byte, error) {
	val, err := b.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, errKeyNotFound
	}
	return val, err
}

func (b *levelBackend) Write(batch []kvPair) error {
	var lb leveldb.Batch
	for _, kv := range batch {
		lb.Put(kv.key, kv.value)
	}
	return b.db.Write(&lb, &opt.WriteOptions{Sync: true})
}

func (b *levelBackend) ForEachPrefix(prefix []byte, fn func(key, value []byte) error) error {
	iter := b.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	for iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (b *levelBackend) Close() error {
	return b.db.Close()
}

// pebbleBackend implements backend on pebble.
type pebbleBackend struct {
	db *pebble.DB
}

const (
	pebbleCacheMiB = 16
	pebbleHandles  = 16
)

func openPebbleBackend(path string) (*pebbleBackend, error) {
	cache := pebble.NewCache(pebbleCacheMiB * 1024 * 1024)
	defer cache.Unref()

	opts := &pebble.Options{
		Cache:                    cache,
		MaxOpenFiles:             pebbleHandles,
		MaxConcurrentCompactions: runtime.NumCPU,
		Levels: []pebble.LevelOptions{
			{TargetFileSize: 2 * 1024 * 1024, FilterPolicy: pebblebloom.FilterPolicy(10)},
		},
	}
	pdb, err := pebble.Open(path, opts)
	if err != nil {
		return nil, err
	}
	return &pebbleBackend{db: pdb}, nil
}

func (b *pebbleBackend) Get(key []byte) ([]byte, error) {
	val, closer, err := b.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, errKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	// The returned slice is only valid until the closer is called.
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (b *pebbleBackend) Write(batch []kvPair) error {
	pb := b.db.NewBatch()
	defer pb.Close()

	for _, kv := range batch {
		if err := pb.Set(kv.key, kv.value, nil); err != nil {
			return err
		}
	}
	return pb.Commit(pebble.Sync)
}

func (b *pebbleBackend) ForEachPrefix(prefix []byte, fn func(key, value []byte) error) error {
	bounds := util.BytesPrefix(prefix)
	iter, err := b.db.NewIter(&pebble.IterOptions{
		LowerBound: bounds.Start,
		UpperBound: bounds.Limit,
	})
	if err != nil {
		return err
	}

	for valid := iter.First(); valid; valid = iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			iter.Close()
			return err
		}
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return err
	}
	return iter.Close()
}

func (b *pebbleBackend) Close() error {
	return b.db.Close()
}
