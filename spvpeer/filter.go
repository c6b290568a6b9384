// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package spvpeer

import (
	"fmt"
	"sync/atomic"

	"github.com/btcsuite/btcd/btcutil/bloom"
	"github.com/btcsuite/btcd/wire"
)

// SendFilterLoad loads filter on the peer.  Once it is loaded the peer relays
// matching transactions and filtered blocks only contain matching
// transactions.
//
// This function is safe for concurrent access.
func (p *Peer) SendFilterLoad(filter *bloom.Filter) {
	p.QueueMessage(filter.MsgFilterLoad(), nil)
	atomic.StoreInt32(&p.filterLoaded, 1)
}

// FilterLoaded returns whether a filter was sent to the peer.
//
// This function is safe for concurrent access.
func (p *Peer) FilterLoaded() bool {
	return atomic.LoadInt32(&p.filterLoaded) != 0
}

// RequestFilterReload asks the owner, by way of a FilterReloadEvent delivered
// on the group queue, to send a fresh filter.  It returns false without doing
// anything when no filter was loaded yet.
//
// This function is safe for concurrent access.
func (p *Peer) RequestFilterReload() bool {
	if !p.FilterLoaded() {
		return false
	}

	p.submit(func() {
		log.Debugf("Requesting filter reload for %s", p)
		p.emit(FilterReloadEvent{})
	})
	return true
}

// handleMerkleBlockMsg is invoked when a peer receives a merkleblock bitcoin
// message.  The proof must match the header.  The block is integrated once
// all of its matched transactions arrived.
func (p *Peer) handleMerkleBlockMsg(msg *wire.MsgMerkleBlock) {
	hash := msg.Header.BlockHash()
	if _, ok := p.sync.requested[hash]; !ok {
		log.Debugf("Ignoring unrequested merkle block %v from %s", hash, p)
		return
	}
	delete(p.sync.requested, hash)

	root, matched, err := extractMerkleMatches(msg)
	if err == nil && !root.IsEqual(&msg.Header.MerkleRoot) {
		err = fmt.Errorf("computed merkle root %v does not match %v",
			root, msg.Header.MerkleRoot)
	}
	if err != nil {
		str := fmt.Sprintf("invalid merkle block %v", hash)
		p.blockFailed(&hash, syncError(str, err))
		return
	}

	fb := newFilteredBlock(msg, matched)
	if fb.complete() {
		p.integrateFilteredBlock(fb)
		return
	}
	p.sync.pending = fb
}

// flushFilteredBlock integrates the pending filtered block with the
// transactions received so far.  It runs once any other message follows the
// block, so matched transactions the peer never sends are not waited for.
func (p *Peer) flushFilteredBlock() {
	fb := p.sync.pending
	if fb == nil {
		return
	}
	p.sync.pending = nil

	log.Tracef("Filtered block %v from %s complete with %d of %d "+
		"transactions", fb.hash, p, len(fb.txns), len(fb.wanted))
	p.integrateFilteredBlock(fb)
}

// integrateFilteredBlock integrates the header of fb into the chain.
func (p *Peer) integrateFilteredBlock(fb *filteredBlock) {
	result, height, err := p.chain.ProcessHeader(&fb.block.Header)
	if err != nil {
		str := fmt.Sprintf("failed to integrate filtered block %v",
			fb.hash)
		p.blockFailed(&fb.hash, syncError(str, err))
		return
	}
	p.blockIntegrated(&fb.hash, result, height, FilteredBlockEvent{
		Block:        fb.block,
		Transactions: fb.transactions(),
		Height:       height,
	})
}
