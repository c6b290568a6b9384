// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package spvpeer

import (
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcsuite/btcspv/spvchain"
)

var (
	// ErrNotConnected is returned when an operation needs a completed
	// handshake.
	ErrNotConnected = errors.New("peer is not connected")

	// ErrSyncInProgress is returned by DownloadBlockChain while a download
	// is already running.
	ErrSyncInProgress = errors.New("block chain download already in " +
		"progress")

	// ErrNoBlockDownload is returned by DownloadBlockChain when the peer is
	// not configured to download blocks.
	ErrNoBlockDownload = errors.New("peer is not configured to download " +
		"blocks")
)

// syncState is the block chain download state of a peer.  It is only accessed
// from the group queue.
type syncState struct {
	// active is set while DownloadBlockChain is in progress.
	active bool

	// headersPhase is set while headers rather than blocks are requested.
	headersPhase bool

	// awaitingInv is set after a getblocks request until an inv answers
	// it.
	awaitingInv bool

	// cutoffReached is set once a header at or after fastCatchUp was seen,
	// cutoffTime holds its timestamp.
	cutoffReached bool
	cutoffTime    time.Time

	fastCatchUp   time.Time
	onProgress    func(current, total int32)
	onBlockSynced func(height int32)
	lastSynced    int32

	// requested holds blocks requested with getdata that have not arrived.
	requested map[chainhash.Hash]struct{}

	// outdated holds blocks that failed to arrive or integrate, in the
	// order they failed.  They are requested again with
	// RequestOutdatedBlocks.
	outdated    []chainhash.Hash
	outdatedSet map[chainhash.Hash]struct{}

	// failures counts consecutive failures per block or header hash.
	failures map[chainhash.Hash]int

	// pending is the filtered block still collecting its transactions.
	pending *filteredBlock
}

// init prepares the maps of the sync state.
func (s *syncState) init() {
	s.requested = make(map[chainhash.Hash]struct{})
	s.outdatedSet = make(map[chainhash.Hash]struct{})
	s.failures = make(map[chainhash.Hash]int)
}

// DownloadBlockChain starts synchronizing the block chain with the peer.
// Headers are downloaded for blocks with timestamps before fastCatchUp and
// full or filtered blocks from there on.  onProgress is called once with the
// local height and the number of blocks to download.  onBlockSynced is called
// with the new height every time the best chain grows.  Both may be nil.
//
// It returns false when the local chain is already at least as high as the
// peer's.  It must be called from the group queue.
func (p *Peer) DownloadBlockChain(fastCatchUp time.Time,
	onProgress func(current, total int32),
	onBlockSynced func(height int32)) (bool, error) {

	if !p.Connected() {
		return false, ErrNotConnected
	}
	if !p.cfg.ShouldDownloadBlocks || p.chain == nil {
		return false, ErrNoBlockDownload
	}
	if p.sync.active {
		return false, ErrSyncInProgress
	}

	local := p.chain.BestHeight()
	remote := p.LastBlockHeight()
	if local >= remote {
		log.Infof("Block chain already synced with %s at height %d",
			p, local)
		return false, nil
	}

	p.sync.active = true
	p.sync.headersPhase = false
	p.sync.awaitingInv = false
	p.sync.cutoffReached = false
	p.sync.cutoffTime = time.Time{}
	p.sync.fastCatchUp = fastCatchUp
	p.sync.onProgress = onProgress
	p.sync.onBlockSynced = onBlockSynced
	p.sync.lastSynced = local

	log.Infof("Downloading block chain from %s (%d %s, height %d to %d)",
		p, remote-local, pickNoun(remote-local, "block", "blocks"), local,
		remote)

	if onProgress != nil {
		onProgress(local, remote-local)
	}
	p.requestNextBatch()
	return true, nil
}

// NumberOfBlocksLeft returns how many blocks the local chain is behind the
// peer.  It must be called from the group queue.
func (p *Peer) NumberOfBlocksLeft() int32 {
	if p.chain == nil {
		return 0
	}
	left := p.LastBlockHeight() - p.chain.BestHeight()
	if left < 0 {
		return 0
	}
	return left
}

// IsSyncing returns whether a block chain download is in progress.  It must be
// called from the group queue.
func (p *Peer) IsSyncing() bool {
	return p.sync.active
}

// ReplaceBlockChain swaps the chain the peer synchronizes.  The swap happens on
// the group queue.
//
// This function is safe for concurrent access.
func (p *Peer) ReplaceBlockChain(chain BlockChain) {
	p.submit(func() {
		log.Debugf("Replacing block chain of %s", p)
		p.chain = chain
	})
}

// CleanUpConnectionData forgets all in-flight requests and stops any block
// chain download.  It must be called from the group queue.
func (p *Peer) CleanUpConnectionData() {
	p.sync.active = false
	p.sync.headersPhase = false
	p.sync.awaitingInv = false
	p.sync.onProgress = nil
	p.sync.onBlockSynced = nil
	p.sync.outdated = nil
	p.sync.pending = nil
	p.sync.init()
}

// nextHeaderTimestamp returns the estimated timestamp of the next block to
// download.  Once a header at or past the fast catch-up time was seen, its
// timestamp is used from then on.
func (p *Peer) nextHeaderTimestamp() time.Time {
	if p.sync.cutoffReached {
		return p.sync.cutoffTime
	}
	return p.chain.BestTimestamp().Add(p.cfg.ChainParams.TargetTimePerBlock)
}

// requestNextBatch asks the peer for the next batch of headers or blocks
// following the local best chain.
func (p *Peer) requestNextBatch() {
	locator := p.chain.BlockLocator()

	var err error
	if p.nextHeaderTimestamp().Before(p.sync.fastCatchUp) {
		p.sync.headersPhase = true
		err = p.SendGetHeaders(locator, &zeroHash)
	} else {
		p.sync.headersPhase = false
		p.sync.awaitingInv = true
		err = p.SendGetBlocks(locator, &zeroHash)
	}
	if err != nil {
		log.Errorf("Failed to request blocks from %s: %v", p, err)
	}
}

// maybeRequestNextBatch requests retries of outdated blocks, or the next
// batch while downloading, once all requested blocks have arrived.
func (p *Peer) maybeRequestNextBatch() {
	if len(p.sync.requested) != 0 || p.sync.pending != nil {
		return
	}
	if len(p.sync.outdated) != 0 {
		p.RequestOutdatedBlocks()
		return
	}
	if p.sync.active && !p.sync.headersPhase && !p.sync.awaitingInv {
		p.requestNextBatch()
	}
}

// completeSync ends the block chain download.
func (p *Peer) completeSync() {
	height := p.chain.BestHeight()
	p.sync.active = false
	p.sync.headersPhase = false
	p.sync.awaitingInv = false
	p.sync.onProgress = nil
	p.sync.onBlockSynced = nil

	// The peer has nothing beyond what was downloaded.
	p.statsMtx.Lock()
	if p.lastBlock > height {
		p.lastBlock = height
	}
	p.statsMtx.Unlock()

	log.Infof("Block chain download from %s complete at height %d", p,
		height)
	p.emit(SyncCompleteEvent{Height: height})
}

// blockSynced is called whenever the best chain changed to a tip at height.
func (p *Peer) blockSynced(height int32) {
	p.updateLastBlockHeight(height)
	if !p.sync.active {
		return
	}

	if height > p.sync.lastSynced {
		p.sync.lastSynced = height
		if p.sync.onBlockSynced != nil {
			p.sync.onBlockSynced(height)
		}
	}
	if p.chain.BestHeight() >= p.LastBlockHeight() {
		p.completeSync()
	}
}

// handleSyncFailure records a failure to integrate the block or header with
// the passed hash.  The peer is disconnected once the failures of a single
// hash exceed the retry limit.  It returns false in that case.
func (p *Peer) handleSyncFailure(hash *chainhash.Hash, err *Error) bool {
	p.sync.failures[*hash]++
	failures := p.sync.failures[*hash]
	if failures > p.cfg.SyncRetryLimit {
		log.Warnf("Giving up on %v from %s after %d failures: %v", hash,
			p, failures, err)
		p.disconnectWithError(err)
		return false
	}

	log.Warnf("Sync with %s failed (attempt %d of %d): %v", p, failures,
		p.cfg.SyncRetryLimit, err)
	return true
}

// markOutdated queues the block with the passed hash to be requested again.
func (p *Peer) markOutdated(hash *chainhash.Hash) {
	if _, ok := p.sync.outdatedSet[*hash]; ok {
		return
	}
	p.sync.outdatedSet[*hash] = struct{}{}
	p.sync.outdated = append(p.sync.outdated, *hash)
}

// blockFailed handles a block that could not be integrated.
func (p *Peer) blockFailed(hash *chainhash.Hash, err *Error) {
	if !p.handleSyncFailure(hash, err) {
		return
	}

	// An orphan can not integrate before its parent, so asking for it
	// again is pointless.  A running download reaches it with a later
	// batch, which may use the same locator as the last one.
	if spvchain.IsErrorCode(err, spvchain.ErrOrphanHeader) {
		log.Debugf("Deferring orphan block %v from %s", hash, p)
		p.resetDuplicateFilters()
	} else {
		p.markOutdated(hash)
	}
	p.maybeRequestNextBatch()
}

// blockIntegrated handles a block that was integrated with result at height
// and delivers event.
func (p *Peer) blockIntegrated(hash *chainhash.Hash, result spvchain.Result,
	height int32, event Event) {

	delete(p.sync.failures, *hash)
	p.emit(event)
	if result.BestChanged() {
		p.blockSynced(height)
	}
	p.maybeRequestNextBatch()
}

// RequestOutdatedBlocks requests all blocks that failed to arrive or integrate
// again.  It must be called from the group queue.
func (p *Peer) RequestOutdatedBlocks() {
	if len(p.sync.outdated) == 0 || !p.Connected() {
		return
	}

	invType := p.blockInvType()
	msg := wire.NewMsgGetDataSizeHint(uint(len(p.sync.outdated)))
	for i := range p.sync.outdated {
		hash := p.sync.outdated[i]
		if err := msg.AddInvVect(wire.NewInvVect(invType, &hash)); err != nil {
			// The rest stays outdated for the next round.
			p.sync.outdated = p.sync.outdated[i:]
			p.sendBlockRequest(msg)
			return
		}
		delete(p.sync.outdatedSet, hash)
		p.sync.requested[hash] = struct{}{}
	}
	p.sync.outdated = nil

	log.Debugf("Requesting %d outdated %s from %s", len(msg.InvList),
		pickNoun(int32(len(msg.InvList)), "block", "blocks"), p)
	p.sendBlockRequest(msg)
}

// sendBlockRequest queues msg unless it is empty.
func (p *Peer) sendBlockRequest(msg *wire.MsgGetData) {
	if len(msg.InvList) == 0 {
		return
	}
	p.QueueMessage(msg, nil)
}

// blockInvType returns the inventory type blocks are requested with.
func (p *Peer) blockInvType() wire.InvType {
	if p.cfg.NeedsBloomFiltering {
		return wire.InvTypeFilteredBlock
	}
	return wire.InvTypeBlock
}

// handleMissingBlocks handles inventory the peer announced it can not serve.
// Requested blocks among it are retried.
func (p *Peer) handleMissingBlocks(invList []*wire.InvVect) {
	for _, iv := range invList {
		switch iv.Type {
		case wire.InvTypeBlock, wire.InvTypeFilteredBlock:
		default:
			continue
		}
		if _, ok := p.sync.requested[iv.Hash]; !ok {
			continue
		}
		delete(p.sync.requested, iv.Hash)

		str := fmt.Sprintf("peer could not serve block %v", iv.Hash)
		if !p.handleSyncFailure(&iv.Hash, syncError(str, nil)) {
			return
		}
		p.markOutdated(&iv.Hash)
	}
	p.maybeRequestNextBatch()
}

// handleInvMsg is invoked when a peer receives an inv bitcoin message.  Unknown
// blocks answering getblocks are requested while downloading, announced ones
// only when the peer is the download peer and no download runs.  Transactions
// are requested once a filter is loaded.
func (p *Peer) handleInvMsg(msg *wire.MsgInv) {
	var blocks, txns []*chainhash.Hash
	for _, iv := range msg.InvList {
		p.knownInventory.Add(*iv)

		switch iv.Type {
		case wire.InvTypeBlock:
			blocks = append(blocks, &iv.Hash)
		case wire.InvTypeTx:
			txns = append(txns, &iv.Hash)
		}
	}

	// An inv answering getblocks without any block means the peer has
	// nothing further.
	answer := p.sync.active && p.sync.awaitingInv &&
		(len(blocks) > 0 || len(msg.InvList) == 0)
	if answer {
		p.sync.awaitingInv = false
		if len(blocks) == 0 {
			p.completeSync()
			return
		}
	}

	switch {
	case len(blocks) == 0:
	case p.sync.active && !answer:
		// New tips announced during a download are reached through
		// getblocks.  Fetching them now only yields orphans.
		log.Debugf("Setting aside %d block %s from %s during download",
			len(blocks), pickNoun(int32(len(blocks)), "announcement",
			"announcements"), p)
	default:
		p.requestBlocks(blocks, answer)
	}

	if len(txns) > 0 && p.FilterLoaded() {
		if err := p.SendGetDataHashes(txns, wire.InvTypeTx); err != nil {
			log.Errorf("Failed to request transactions from %s: %v",
				p, err)
		}
	}
}

// requestBlocks requests the passed blocks that are neither known nor already
// requested.
func (p *Peer) requestBlocks(hashes []*chainhash.Hash, answer bool) {
	if !p.cfg.ShouldDownloadBlocks || p.chain == nil {
		return
	}
	if !p.sync.active && !p.IsDownloadPeer() {
		log.Tracef("Ignoring %d block announcements from %s", len(hashes),
			p)
		return
	}

	invType := p.blockInvType()
	msg := wire.NewMsgGetDataSizeHint(uint(len(hashes)))
	for _, hash := range hashes {
		if p.chain.HaveBlock(hash) {
			continue
		}
		if _, ok := p.sync.requested[*hash]; ok {
			continue
		}
		if err := msg.AddInvVect(wire.NewInvVect(invType, hash)); err != nil {
			break
		}
		p.sync.requested[*hash] = struct{}{}
	}

	if len(msg.InvList) == 0 {
		// Everything the peer answered with is known already.
		if answer && p.sync.active {
			p.completeSync()
		}
		return
	}
	p.QueueMessage(msg, nil)
}

// handleHeadersMsg is invoked when a peer receives a headers bitcoin message.
// Headers before the fast catch-up time are integrated.  The first header at
// or after it switches the download to blocks.
func (p *Peer) handleHeadersMsg(msg *wire.MsgHeaders) {
	if !p.sync.active || !p.sync.headersPhase {
		log.Debugf("Ignoring %d unrequested headers from %s",
			len(msg.Headers), p)
		return
	}
	if len(msg.Headers) == 0 {
		p.completeSync()
		return
	}

	progressed := false
	for _, header := range msg.Headers {
		if !header.Timestamp.Before(p.sync.fastCatchUp) {
			log.Debugf("Reached fast catch-up time at header %v, "+
				"downloading blocks from %s", header.BlockHash(), p)
			p.sync.cutoffReached = true
			p.sync.cutoffTime = header.Timestamp
			break
		}

		result, height, err := p.chain.ProcessHeader(header)
		if err != nil {
			hash := header.BlockHash()
			str := fmt.Sprintf("failed to integrate header %v", hash)
			if !p.handleSyncFailure(&hash, syncError(str, err)) {
				return
			}

			// Ask again with a fresh locator.
			p.resetDuplicateFilters()
			p.requestNextBatch()
			return
		}
		if result == spvchain.ResultDuplicate {
			continue
		}

		hash := header.BlockHash()
		delete(p.sync.failures, hash)
		p.emit(HeaderEvent{Header: header, Height: height})
		if !result.BestChanged() {
			continue
		}
		progressed = true
		p.blockSynced(height)
		if !p.sync.active {
			return
		}
	}

	if !progressed && !p.sync.cutoffReached {
		p.completeSync()
		return
	}
	p.requestNextBatch()
}

// handleBlockMsg is invoked when a peer receives a block bitcoin message.
// Only requested blocks are integrated.
func (p *Peer) handleBlockMsg(msg *wire.MsgBlock) {
	block := btcutil.NewBlock(msg)
	hash := block.Hash()
	if _, ok := p.sync.requested[*hash]; !ok {
		log.Debugf("Ignoring unrequested block %v from %s", hash, p)
		return
	}
	delete(p.sync.requested, *hash)

	result, height, err := p.chain.ProcessBlock(block)
	if err != nil {
		str := fmt.Sprintf("failed to integrate block %v", hash)
		p.blockFailed(hash, syncError(str, err))
		return
	}
	p.blockIntegrated(hash, result, height, BlockEvent{
		Block:  block,
		Height: height,
	})
}

// handleTxMsg is invoked when a peer receives a tx bitcoin message.
// Transactions matching the pending filtered block complete it, all others
// are delivered on their own.
func (p *Peer) handleTxMsg(msg *wire.MsgTx) {
	tx := btcutil.NewTx(msg)
	if pending := p.sync.pending; pending != nil {
		if pending.addTx(tx) {
			if pending.complete() {
				p.sync.pending = nil
				p.integrateFilteredBlock(pending)
			}
			return
		}
		p.flushFilteredBlock()
	}

	p.emit(TxEvent{Tx: tx})
}
