// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package spvpeer

import (
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// SendInv announces the passed inventory to the peer.  Inventory the peer is
// already known to have is left out, and nothing is sent when no inventory
// remains.
//
// This function is safe for concurrent access.
func (p *Peer) SendInv(invList []*wire.InvVect) error {
	if len(invList) > wire.MaxInvPerMsg {
		return fmt.Errorf("too many inventory vectors [count %d, max %d]",
			len(invList), wire.MaxInvPerMsg)
	}

	msg := wire.NewMsgInvSizeHint(uint(len(invList)))
	for _, iv := range invList {
		if p.knownInventory.Contains(*iv) {
			continue
		}
		p.knownInventory.Add(*iv)
		msg.AddInvVect(iv)
	}
	if len(msg.InvList) == 0 {
		return nil
	}

	p.QueueMessage(msg, nil)
	return nil
}

// SendGetData requests the passed inventory from the peer.
//
// This function is safe for concurrent access.
func (p *Peer) SendGetData(invList []*wire.InvVect) error {
	if len(invList) > wire.MaxInvPerMsg {
		return fmt.Errorf("too many inventory vectors [count %d, max %d]",
			len(invList), wire.MaxInvPerMsg)
	}

	msg := wire.NewMsgGetDataSizeHint(uint(len(invList)))
	msg.InvList = append(msg.InvList, invList...)
	p.QueueMessage(msg, nil)
	return nil
}

// SendGetDataHashes requests the items with the passed hashes, all of the
// passed inventory type, from the peer.
//
// This function is safe for concurrent access.
func (p *Peer) SendGetDataHashes(hashes []*chainhash.Hash, invType wire.InvType) error {
	invList := make([]*wire.InvVect, 0, len(hashes))
	for _, hash := range hashes {
		invList = append(invList, wire.NewInvVect(invType, hash))
	}
	return p.SendGetData(invList)
}

// SendNotFound tells the peer the passed inventory is not available.
//
// This function is safe for concurrent access.
func (p *Peer) SendNotFound(invList []*wire.InvVect) error {
	if len(invList) > wire.MaxInvPerMsg {
		return fmt.Errorf("too many inventory vectors [count %d, max %d]",
			len(invList), wire.MaxInvPerMsg)
	}

	msg := wire.NewMsgNotFound()
	msg.InvList = append(msg.InvList, invList...)
	p.QueueMessage(msg, nil)
	return nil
}

// SendGetBlocks sends a getblocks message for the provided block locator
// and stop hash.  It will ignore back-to-back duplicate requests.
//
// This function is safe for concurrent access.
func (p *Peer) SendGetBlocks(locator blockchain.BlockLocator, stopHash *chainhash.Hash) error {
	// Extract the begin hash from the block locator, if one was specified,
	// to use for filtering duplicate getblocks requests.
	var beginHash *chainhash.Hash
	if len(locator) > 0 {
		beginHash = locator[0]
	}

	// Filter duplicate getblocks requests.
	p.prevGetBlocksMtx.Lock()
	isDuplicate := p.prevGetBlocksStop != nil && p.prevGetBlocksBegin != nil &&
		beginHash != nil && stopHash.IsEqual(p.prevGetBlocksStop) &&
		beginHash.IsEqual(p.prevGetBlocksBegin)
	p.prevGetBlocksMtx.Unlock()

	if isDuplicate {
		log.Tracef("Filtering duplicate [getblocks] with begin "+
			"hash %v, stop hash %v", beginHash, stopHash)
		return nil
	}

	// Construct the getblocks request and queue it to be sent.
	msg := wire.NewMsgGetBlocks(stopHash)
	for _, hash := range locator {
		err := msg.AddBlockLocatorHash(hash)
		if err != nil {
			return err
		}
	}
	p.QueueMessage(msg, nil)

	// Update the previous getblocks request information for filtering
	// duplicates.
	p.prevGetBlocksMtx.Lock()
	p.prevGetBlocksBegin = beginHash
	p.prevGetBlocksStop = stopHash
	p.prevGetBlocksMtx.Unlock()
	return nil
}

// SendGetHeaders sends a getheaders message for the provided block locator
// and stop hash.  It will ignore back-to-back duplicate requests.
//
// This function is safe for concurrent access.
func (p *Peer) SendGetHeaders(locator blockchain.BlockLocator, stopHash *chainhash.Hash) error {
	// Extract the begin hash from the block locator, if one was specified,
	// to use for filtering duplicate getheaders requests.
	var beginHash *chainhash.Hash
	if len(locator) > 0 {
		beginHash = locator[0]
	}

	// Filter duplicate getheaders requests.
	p.prevGetHdrsMtx.Lock()
	isDuplicate := p.prevGetHdrsStop != nil && p.prevGetHdrsBegin != nil &&
		beginHash != nil && stopHash.IsEqual(p.prevGetHdrsStop) &&
		beginHash.IsEqual(p.prevGetHdrsBegin)
	p.prevGetHdrsMtx.Unlock()

	if isDuplicate {
		log.Tracef("Filtering duplicate [getheaders] with begin hash %v",
			beginHash)
		return nil
	}

	// Construct the getheaders request and queue it to be sent.
	msg := wire.NewMsgGetHeaders()
	msg.HashStop = *stopHash
	for _, hash := range locator {
		err := msg.AddBlockLocatorHash(hash)
		if err != nil {
			return err
		}
	}
	p.QueueMessage(msg, nil)

	// Update the previous getheaders request information for filtering
	// duplicates.
	p.prevGetHdrsMtx.Lock()
	p.prevGetHdrsBegin = beginHash
	p.prevGetHdrsStop = stopHash
	p.prevGetHdrsMtx.Unlock()
	return nil
}

// resetDuplicateFilters forgets the previous getblocks and getheaders
// requests so that the next one is always sent.
func (p *Peer) resetDuplicateFilters() {
	p.prevGetBlocksMtx.Lock()
	p.prevGetBlocksBegin = nil
	p.prevGetBlocksStop = nil
	p.prevGetBlocksMtx.Unlock()

	p.prevGetHdrsMtx.Lock()
	p.prevGetHdrsBegin = nil
	p.prevGetHdrsStop = nil
	p.prevGetHdrsMtx.Unlock()
}

// SendTx relays tx to the peer.  The transaction is remembered so that a
// reject for it can be matched.
//
// This function is safe for concurrent access.
func (p *Peer) SendTx(tx *wire.MsgTx) {
	p.rememberSentTx(tx)
	hash := tx.TxHash()
	p.knownInventory.Add(*wire.NewInvVect(wire.InvTypeTx, &hash))
	p.QueueMessage(tx, nil)
}

// SendGetAddr asks the peer for addresses of other peers.
//
// This function is safe for concurrent access.
func (p *Peer) SendGetAddr() {
	p.QueueMessage(wire.NewMsgGetAddr(), nil)
}

// SendMempool asks the peer to announce the transactions in its memory pool
// that match the loaded filter.
//
// This function is safe for concurrent access.
func (p *Peer) SendMempool() {
	p.QueueMessage(wire.NewMsgMemPool(), nil)
}

// SendPing sends a ping with a random nonce to the peer.  The matching pong
// is reported with a PongEvent carrying the round trip time.
//
// This function is safe for concurrent access.
func (p *Peer) SendPing() error {
	nonce, err := wire.RandomUint64()
	if err != nil {
		return err
	}
	p.QueueMessage(wire.NewMsgPing(nonce), nil)
	return nil
}
