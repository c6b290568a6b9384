// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package spvpeer

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// minTxWeight is the weight of the smallest possible transaction.  It bounds
// the number of transactions a merkle block may claim.
const minTxWeight = 4 * 60

// partialMerkleTree walks the partial merkle tree of a merkleblock message.
type partialMerkleTree struct {
	numTx      uint32
	hashes     []*chainhash.Hash
	flags      []byte
	bitsUsed   uint32
	hashesUsed int
	matched    []chainhash.Hash
}

// treeWidth returns the number of nodes at the passed height of the tree.
func (t *partialMerkleTree) treeWidth(height uint32) uint32 {
	return (t.numTx + (1 << height) - 1) >> height
}

// hashBranches returns the parent hash of two child hashes.
func hashBranches(left, right *chainhash.Hash) chainhash.Hash {
	var buf [chainhash.HashSize * 2]byte
	copy(buf[:chainhash.HashSize], left[:])
	copy(buf[chainhash.HashSize:], right[:])
	return chainhash.DoubleHashH(buf[:])
}

// traverse computes the hash of the node at height and position pos,
// consuming flag bits and hashes in depth-first order and collecting the
// matched leaves.
func (t *partialMerkleTree) traverse(height, pos uint32) (chainhash.Hash, error) {
	if t.bitsUsed >= uint32(len(t.flags))*8 {
		return chainhash.Hash{}, errors.New("merkle proof ran out of " +
			"flag bits")
	}
	parentOfMatch := t.flags[t.bitsUsed/8]&(1<<(t.bitsUsed%8)) != 0
	t.bitsUsed++

	if height == 0 || !parentOfMatch {
		if t.hashesUsed >= len(t.hashes) {
			return chainhash.Hash{}, errors.New("merkle proof ran " +
				"out of hashes")
		}
		hash := *t.hashes[t.hashesUsed]
		t.hashesUsed++
		if height == 0 && parentOfMatch {
			t.matched = append(t.matched, hash)
		}
		return hash, nil
	}

	left, err := t.traverse(height-1, pos*2)
	if err != nil {
		return chainhash.Hash{}, err
	}
	right := left
	if pos*2+1 < t.treeWidth(height-1) {
		right, err = t.traverse(height-1, pos*2+1)
		if err != nil {
			return chainhash.Hash{}, err
		}

		// Identical siblings allow forging a tree with duplicated
		// transactions.
		if right == left {
			return chainhash.Hash{}, errors.New("merkle proof has " +
				"identical sibling hashes")
		}
	}
	return hashBranches(&left, &right), nil
}

// extractMerkleMatches validates the partial merkle tree of msg and returns
// its root along with the hashes of the matched transactions in block order.
func extractMerkleMatches(msg *wire.MsgMerkleBlock) (chainhash.Hash, []chainhash.Hash, error) {
	var zero chainhash.Hash
	if msg.Transactions == 0 {
		return zero, nil, errors.New("merkle block has no transactions")
	}
	if msg.Transactions > blockchain.MaxBlockWeight/minTxWeight {
		return zero, nil, fmt.Errorf("merkle block claims %d "+
			"transactions", msg.Transactions)
	}
	if uint32(len(msg.Hashes)) > msg.Transactions {
		return zero, nil, fmt.Errorf("merkle block has %d hashes for %d "+
			"transactions", len(msg.Hashes), msg.Transactions)
	}
	if len(msg.Flags)*8 < len(msg.Hashes) {
		return zero, nil, fmt.Errorf("merkle block has %d flag bytes "+
			"for %d hashes", len(msg.Flags), len(msg.Hashes))
	}

	t := &partialMerkleTree{
		numTx:  msg.Transactions,
		hashes: msg.Hashes,
		flags:  msg.Flags,
	}
	var height uint32
	for t.treeWidth(height) > 1 {
		height++
	}

	root, err := t.traverse(height, 0)
	if err != nil {
		return zero, nil, err
	}

	// Every flag byte and hash must have been consumed.
	if (t.bitsUsed+7)/8 != uint32(len(t.flags)) {
		return zero, nil, fmt.Errorf("merkle proof used %d of %d flag "+
			"bytes", (t.bitsUsed+7)/8, len(t.flags))
	}
	if t.hashesUsed != len(t.hashes) {
		return zero, nil, fmt.Errorf("merkle proof used %d of %d "+
			"hashes", t.hashesUsed, len(t.hashes))
	}
	return root, t.matched, nil
}

// filteredBlock is a merkle block waiting for its matched transactions.
type filteredBlock struct {
	block   *wire.MsgMerkleBlock
	hash    chainhash.Hash
	matched []chainhash.Hash
	wanted  map[chainhash.Hash]struct{}
	txns    map[chainhash.Hash]*btcutil.Tx
}

// newFilteredBlock returns a filtered block for msg expecting the matched
// transactions.
func newFilteredBlock(msg *wire.MsgMerkleBlock, matched []chainhash.Hash) *filteredBlock {
	fb := &filteredBlock{
		block:   msg,
		hash:    msg.Header.BlockHash(),
		matched: matched,
		wanted:  make(map[chainhash.Hash]struct{}, len(matched)),
		txns:    make(map[chainhash.Hash]*btcutil.Tx, len(matched)),
	}
	for _, hash := range matched {
		fb.wanted[hash] = struct{}{}
	}
	return fb
}

// addTx adds tx when it is one of the matched transactions.  It returns
// whether tx belongs to the block.
func (fb *filteredBlock) addTx(tx *btcutil.Tx) bool {
	if _, ok := fb.wanted[*tx.Hash()]; !ok {
		return false
	}
	fb.txns[*tx.Hash()] = tx
	return true
}

// complete returns whether every matched transaction arrived.
func (fb *filteredBlock) complete() bool {
	return len(fb.txns) == len(fb.wanted)
}

// transactions returns the received transactions in block order.
func (fb *filteredBlock) transactions() []*btcutil.Tx {
	txns := make([]*btcutil.Tx, 0, len(fb.txns))
	seen := make(map[chainhash.Hash]struct{}, len(fb.txns))
	for _, hash := range fb.matched {
		tx, ok := fb.txns[hash]
		if !ok {
			continue
		}
		if _, dup := seen[hash]; dup {
			continue
		}
		seen[hash] = struct{}{}
		txns = append(txns, tx)
	}
	return txns
}
