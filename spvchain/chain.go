// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package spvchain implements a headers-only block chain for SPV clients.

The chain keeps every known header in memory, indexed by hash, and tracks the
best chain by cumulative proof of work.  Headers are checked against the proof
of work they claim and against the network proof of work limit.  Difficulty
retargeting is not verified.  When a header database is supplied every accepted
header is persisted, so the chain survives restarts.
*/
package spvchain

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcsuite/btcspv/headerdb"
)

// maxTimeOffset is how far in the future a header timestamp may be.
const maxTimeOffset = 2 * time.Hour

// Result describes how a header changed the chain.
type Result int

const (
	// ResultExtended means the header extended the best chain.
	ResultExtended Result = iota

	// ResultSideChain means the header was stored on a side chain.
	ResultSideChain

	// ResultReorganized means the header made a side chain the best chain.
	ResultReorganized

	// ResultDuplicate means the header was already known.
	ResultDuplicate
)

var resultStrings = map[Result]string{
	ResultExtended:    "extended",
	ResultSideChain:   "side chain",
	ResultReorganized: "reorganized",
	ResultDuplicate:   "duplicate",
}

// String returns the result as a human-readable string.
func (r Result) String() string {
	if s, ok := resultStrings[r]; ok {
		return s
	}
	return fmt.Sprintf("Unknown Result (%d)", int(r))
}

// BestChanged returns whether the result moved the best chain tip.
func (r Result) BestChanged() bool {
	return r == ResultExtended || r == ResultReorganized
}

// headerNode is a header in the chain index.
type headerNode struct {
	parent  *headerNode
	hash    chainhash.Hash
	header  wire.BlockHeader
	height  int32
	workSum *big.Int
}

// Chain is a header chain.  It is safe for concurrent access.
type Chain struct {
	params *chaincfg.Params
	db     *headerdb.DB

	// timeSource returns the current time.  It is replaced in tests.
	timeSource func() time.Time

	mtx       sync.RWMutex
	index     map[chainhash.Hash]*headerNode
	bestChain []*headerNode
}

// New returns a chain for the passed network.  Headers previously persisted in
// db are loaded, otherwise the chain is seeded with the genesis block.  When
// db is nil the chain lives in memory only.
func New(params *chaincfg.Params, db *headerdb.DB) (*Chain, error) {
	c := &Chain{
		params:     params,
		db:         db,
		timeSource: time.Now,
		index:      make(map[chainhash.Hash]*headerNode),
	}

	if db != nil {
		loaded, err := c.load()
		if err != nil {
			return nil, err
		}
		if loaded {
			tip := c.tip()
			log.Infof("Loaded %d headers, best chain height %d (%v)",
				len(c.index), tip.height, tip.hash)
			return c, nil
		}
	}

	genesis := &headerNode{
		hash:    *params.GenesisHash,
		header:  params.GenesisBlock.Header,
		height:  0,
		workSum: blockchain.CalcWork(params.GenesisBlock.Header.Bits),
	}
	c.index[genesis.hash] = genesis
	c.bestChain = []*headerNode{genesis}
	if err := c.persist(genesis, true); err != nil {
		return nil, err
	}
	log.Debugf("Initialized header chain with %s genesis block %v",
		params.Name, genesis.hash)
	return c, nil
}

// load reads all stored headers and rebuilds the index and best chain.  It
// returns false when the database holds no chain yet.
func (c *Chain) load() (bool, error) {
	tipHash, err := c.db.FetchTip()
	if err == headerdb.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	err = c.db.ForEach(func(rec *headerdb.Record) error {
		header, err := rec.BlockHeader()
		if err != nil {
			return err
		}
		node := &headerNode{
			hash:    header.BlockHash(),
			header:  *header,
			height:  rec.Height,
			workSum: rec.WorkSum(),
		}
		c.index[node.hash] = node
		return nil
	})
	if err != nil {
		return false, err
	}

	for _, node := range c.index {
		if node.height == 0 {
			continue
		}
		parent, ok := c.index[node.header.PrevBlock]
		if !ok {
			return false, fmt.Errorf("stored header %v at height %d "+
				"has no parent", node.hash, node.height)
		}
		node.parent = parent
	}

	tip, ok := c.index[*tipHash]
	if !ok {
		return false, fmt.Errorf("stored chain tip %v is missing", tipHash)
	}
	c.bestChain = make([]*headerNode, tip.height+1)
	for n := tip; n != nil; n = n.parent {
		c.bestChain[n.height] = n
	}
	if c.bestChain[0] == nil || c.bestChain[0].hash != *c.params.GenesisHash {
		str := fmt.Sprintf("header database does not belong to %s",
			c.params.Name)
		return false, ruleError(ErrWrongNetwork, str)
	}
	return true, nil
}

// persist stores node and, when it is the new tip, the tip reference.
func (c *Chain) persist(node *headerNode, isTip bool) error {
	if c.db == nil {
		return nil
	}
	rec, err := headerdb.NewRecord(&node.header, node.height, node.workSum)
	if err != nil {
		return err
	}
	var tip *chainhash.Hash
	if isTip {
		tip = &node.hash
	}
	return c.db.PutRecords(tip, rec)
}

// tip returns the best chain tip.  The chain lock must be held.
func (c *Chain) tip() *headerNode {
	return c.bestChain[len(c.bestChain)-1]
}

// checkProofOfWork ensures the header bits are in the valid range for the
// network and that the header hash is not above the target they claim.
func checkProofOfWork(header *wire.BlockHeader, powLimit *big.Int) error {
	target := blockchain.CompactToBig(header.Bits)
	if target.Sign() <= 0 {
		str := fmt.Sprintf("block target difficulty of %064x is too low",
			target)
		return ruleError(ErrUnexpectedDifficulty, str)
	}
	if target.Cmp(powLimit) > 0 {
		str := fmt.Sprintf("block target difficulty of %064x is "+
			"higher than max of %064x", target, powLimit)
		return ruleError(ErrUnexpectedDifficulty, str)
	}

	hash := header.BlockHash()
	hashNum := blockchain.HashToBig(&hash)
	if hashNum.Cmp(target) > 0 {
		str := fmt.Sprintf("block hash of %064x is higher than "+
			"expected max of %064x", hashNum, target)
		return ruleError(ErrHighHash, str)
	}
	return nil
}

// ProcessHeader validates header and adds it to the chain.  It returns how the
// chain changed and the height of the header.
//
// This function is safe for concurrent access.
func (c *Chain) ProcessHeader(header *wire.BlockHeader) (Result, int32, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	hash := header.BlockHash()
	if node, ok := c.index[hash]; ok {
		return ResultDuplicate, node.height, nil
	}

	parent, ok := c.index[header.PrevBlock]
	if !ok {
		str := fmt.Sprintf("previous block %v of header %v is unknown",
			header.PrevBlock, hash)
		return 0, 0, ruleError(ErrOrphanHeader, str)
	}
	if err := checkProofOfWork(header, c.params.PowLimit); err != nil {
		return 0, 0, err
	}
	maxTimestamp := c.timeSource().Add(maxTimeOffset)
	if header.Timestamp.After(maxTimestamp) {
		str := fmt.Sprintf("block timestamp of %v is too far in the "+
			"future", header.Timestamp)
		return 0, 0, ruleError(ErrTimeTooNew, str)
	}

	node := &headerNode{
		parent:  parent,
		hash:    hash,
		header:  *header,
		height:  parent.height + 1,
		workSum: new(big.Int).Add(parent.workSum, blockchain.CalcWork(header.Bits)),
	}

	tip := c.tip()
	result := ResultSideChain
	if node.workSum.Cmp(tip.workSum) > 0 {
		result = ResultExtended
		if parent != tip {
			result = ResultReorganized
		}
	}
	if err := c.persist(node, result.BestChanged()); err != nil {
		return 0, 0, err
	}

	c.index[hash] = node
	switch result {
	case ResultExtended:
		c.bestChain = append(c.bestChain, node)

	case ResultReorganized:
		c.reorganize(node)

	case ResultSideChain:
		log.Debugf("Header %v (height %d) extends a side chain", hash,
			node.height)
	}
	return result, node.height, nil
}

// reorganize makes the chain ending at node the best chain.  The chain lock
// must be held for writes.
func (c *Chain) reorganize(node *headerNode) {
	fork := node
	for fork.height >= int32(len(c.bestChain)) ||
		c.bestChain[fork.height] != fork {

		fork = fork.parent
	}

	detached := int32(len(c.bestChain)) - 1 - fork.height
	if int32(len(c.bestChain)) > node.height+1 {
		c.bestChain = c.bestChain[:node.height+1]
	}
	for int32(len(c.bestChain)) < node.height+1 {
		c.bestChain = append(c.bestChain, nil)
	}
	for n := node; n != fork; n = n.parent {
		c.bestChain[n.height] = n
	}

	log.Infof("Reorganized chain: fork at height %d (%v), %d headers "+
		"detached, new tip %v at height %d", fork.height, fork.hash,
		detached, node.hash, node.height)
}

// ProcessBlock checks the merkle root of block against its header and then
// processes the header like ProcessHeader.
//
// This function is safe for concurrent access.
func (c *Chain) ProcessBlock(block *btcutil.Block) (Result, int32, error) {
	header := &block.MsgBlock().Header
	if len(block.MsgBlock().Transactions) == 0 {
		str := fmt.Sprintf("block %v does not contain any transactions",
			block.Hash())
		return 0, 0, ruleError(ErrNoTransactions, str)
	}

	merkles := blockchain.BuildMerkleTreeStore(block.Transactions(), false)
	calculatedRoot := merkles[len(merkles)-1]
	if !header.MerkleRoot.IsEqual(calculatedRoot) {
		str := fmt.Sprintf("block merkle root is invalid - block "+
			"header indicates %v, but calculated value is %v",
			header.MerkleRoot, calculatedRoot)
		return 0, 0, ruleError(ErrBadMerkleRoot, str)
	}

	return c.ProcessHeader(header)
}

// BlockLocator returns a block locator for the best chain tip.  The algorithm
// adds the 10 most recent hashes and then doubles the step for every further
// hash, always ending with the genesis hash.
//
// This function is safe for concurrent access.
func (c *Chain) BlockLocator() blockchain.BlockLocator {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	tip := c.tip()
	locator := make(blockchain.BlockLocator, 0, wire.MaxBlockLocatorsPerMsg)
	locator = append(locator, &tip.hash)
	if tip.height == 0 {
		return locator
	}

	height := tip.height
	increment := int32(1)
	for len(locator) < wire.MaxBlockLocatorsPerMsg-1 {
		if len(locator) > 10 {
			increment *= 2
		}
		height -= increment
		if height < 1 {
			break
		}
		locator = append(locator, &c.bestChain[height].hash)
	}

	return append(locator, &c.bestChain[0].hash)
}

// BestHeight returns the height of the best chain tip.
//
// This function is safe for concurrent access.
func (c *Chain) BestHeight() int32 {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	return c.tip().height
}

// BestHash returns the hash of the best chain tip.
//
// This function is safe for concurrent access.
func (c *Chain) BestHash() chainhash.Hash {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	return c.tip().hash
}

// BestTimestamp returns the timestamp of the best chain tip.
//
// This function is safe for concurrent access.
func (c *Chain) BestTimestamp() time.Time {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	return c.tip().header.Timestamp
}

// HaveBlock returns whether the header of the block with the passed hash is
// known, on any chain.
//
// This function is safe for concurrent access.
func (c *Chain) HaveBlock(hash *chainhash.Hash) bool {
	c.mtx.RLock()
	_, ok := c.index[*hash]
	c.mtx.RUnlock()
	return ok
}

// HeaderByHash returns the header with the passed hash and its height.
//
// This function is safe for concurrent access.
func (c *Chain) HeaderByHash(hash *chainhash.Hash) (*wire.BlockHeader, int32, error) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	node, ok := c.index[*hash]
	if !ok {
		return nil, 0, fmt.Errorf("block %v is not known", hash)
	}
	header := node.header
	return &header, node.height, nil
}

// HeaderByHeight returns the best chain header at the passed height.
//
// This function is safe for concurrent access.
func (c *Chain) HeaderByHeight(height int32) (*wire.BlockHeader, error) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	if height < 0 || height >= int32(len(c.bestChain)) {
		return nil, fmt.Errorf("no block at height %d exists", height)
	}
	header := c.bestChain[height].header
	return &header, nil
}
