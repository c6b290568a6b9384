// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package spvpeer

import (
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// syncRecorder collects the callbacks of DownloadBlockChain.
type syncRecorder struct {
	mtx      sync.Mutex
	progress [][2]int32
	synced   []int32
}

func (r *syncRecorder) onProgress(current, total int32) {
	r.mtx.Lock()
	r.progress = append(r.progress, [2]int32{current, total})
	r.mtx.Unlock()
}

func (r *syncRecorder) onBlockSynced(height int32) {
	r.mtx.Lock()
	r.synced = append(r.synced, height)
	r.mtx.Unlock()
}

func (r *syncRecorder) syncedHeights() []int32 {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return append([]int32(nil), r.synced...)
}

// startDownload starts a block chain download on the group queue.
func (h *testHarness) startDownload(t *testing.T, fastCatchUp time.Time,
	rec *syncRecorder) bool {

	t.Helper()

	var (
		started bool
		err     error
	)
	h.do(t, func() {
		started, err = h.peer.DownloadBlockChain(fastCatchUp,
			rec.onProgress, rec.onBlockSynced)
	})
	require.NoError(t, err)
	return started
}

// blocksLeft returns NumberOfBlocksLeft from the group queue.
func (h *testHarness) blocksLeft(t *testing.T) int32 {
	t.Helper()

	var left int32
	h.do(t, func() {
		left = h.peer.NumberOfBlocksLeft()
	})
	return left
}

// serveBlocks answers getdata for blocks with the blocks themselves.
func (h *testHarness) serveBlocks(t *testing.T, blocks []*wire.MsgBlock) {
	t.Helper()

	getData := h.node.expect(t, wire.CmdGetData).(*wire.MsgGetData)
	require.Len(t, getData.InvList, len(blocks))
	for i, iv := range getData.InvList {
		require.Equal(t, wire.InvTypeBlock, iv.Type)
		require.Equal(t, blocks[i].BlockHash(), iv.Hash)
	}
	for _, block := range blocks {
		h.node.send(t, block)
	}
}

// expectBlockEvents waits for a block event for each block, in order.
func (h *testHarness) expectBlockEvents(t *testing.T, blocks []*wire.MsgBlock,
	firstHeight int32) {

	t.Helper()

	for i, block := range blocks {
		e := h.rec.next(t)
		require.IsType(t, BlockEvent{}, e)
		be := e.(BlockEvent)
		require.Equal(t, block.BlockHash(), *be.Block.Hash())
		require.Equal(t, firstHeight+int32(i), be.Height)
	}
}

// TestDownloadBlocks ensures a download with a fast catch-up time in the past
// fetches every block and reports progress for each.
func TestDownloadBlocks(t *testing.T) {
	h := newTestHarness(t, Config{ShouldDownloadBlocks: true})
	h.connect(t, wire.SFNodeNetwork, 5)

	blocks := makeBlocks(&regtest.GenesisBlock.Header, 0, 5, 10*time.Minute,
		nil)

	rec := &syncRecorder{}
	require.True(t, h.startDownload(t, time.Time{}, rec))
	require.Equal(t, [][2]int32{{0, 5}}, rec.progress)

	getBlocks := h.node.expect(t, wire.CmdGetBlocks).(*wire.MsgGetBlocks)
	require.Equal(t, *regtest.GenesisHash, *getBlocks.BlockLocatorHashes[0])
	require.Equal(t, chainhash.Hash{}, getBlocks.HashStop)

	h.node.send(t, blockInv(blocks))
	h.serveBlocks(t, blocks)
	h.expectBlockEvents(t, blocks, 1)

	e := h.rec.next(t)
	require.Equal(t, SyncCompleteEvent{Height: 5}, e)
	require.Equal(t, []int32{1, 2, 3, 4, 5}, rec.syncedHeights())
	require.Equal(t, int32(0), h.blocksLeft(t))
	require.Equal(t, int32(5), h.chain.BestHeight())
	require.Equal(t, blocks[4].BlockHash(), h.chain.BestHash())
}

// TestDownloadHeadersThenBlocks ensures headers are downloaded up to the fast
// catch-up time and blocks from there on.
func TestDownloadHeadersThenBlocks(t *testing.T) {
	h := newTestHarness(t, Config{ShouldDownloadBlocks: true})
	h.connect(t, wire.SFNodeNetwork, 6)

	blocks := makeBlocks(&regtest.GenesisBlock.Header, 0, 6, 10*time.Minute,
		nil)
	fastCatchUp := blocks[3].Header.Timestamp

	rec := &syncRecorder{}
	require.True(t, h.startDownload(t, fastCatchUp, rec))

	getHeaders := h.node.expect(t, wire.CmdGetHeaders).(*wire.MsgGetHeaders)
	require.Equal(t, *regtest.GenesisHash, *getHeaders.BlockLocatorHashes[0])

	headers := wire.NewMsgHeaders()
	for _, block := range blocks {
		header := block.Header
		headers.AddBlockHeader(&header)
	}
	h.node.send(t, headers)

	for i := 0; i < 3; i++ {
		e := h.rec.next(t)
		require.IsType(t, HeaderEvent{}, e)
		require.Equal(t, int32(i+1), e.(HeaderEvent).Height)
		require.Equal(t, blocks[i].BlockHash(),
			e.(HeaderEvent).Header.BlockHash())
	}

	getBlocks := h.node.expect(t, wire.CmdGetBlocks).(*wire.MsgGetBlocks)
	require.Equal(t, blocks[2].BlockHash(), *getBlocks.BlockLocatorHashes[0])

	h.node.send(t, blockInv(blocks[3:]))
	h.serveBlocks(t, blocks[3:])
	h.expectBlockEvents(t, blocks[3:], 4)

	e := h.rec.next(t)
	require.Equal(t, SyncCompleteEvent{Height: 6}, e)
	require.Equal(t, []int32{1, 2, 3, 4, 5, 6}, rec.syncedHeights())
	require.Equal(t, int32(0), h.blocksLeft(t))
}

// TestDownloadMultipleBatches ensures a new getblocks is sent once all blocks
// of a batch arrived.
func TestDownloadMultipleBatches(t *testing.T) {
	h := newTestHarness(t, Config{ShouldDownloadBlocks: true})
	h.connect(t, wire.SFNodeNetwork, 4)

	blocks := makeBlocks(&regtest.GenesisBlock.Header, 0, 4, 10*time.Minute,
		nil)

	rec := &syncRecorder{}
	require.True(t, h.startDownload(t, time.Time{}, rec))

	h.node.expect(t, wire.CmdGetBlocks)
	h.node.send(t, blockInv(blocks[:2]))
	h.serveBlocks(t, blocks[:2])
	h.expectBlockEvents(t, blocks[:2], 1)

	getBlocks := h.node.expect(t, wire.CmdGetBlocks).(*wire.MsgGetBlocks)
	require.Equal(t, blocks[1].BlockHash(), *getBlocks.BlockLocatorHashes[0])
	require.Equal(t, int32(2), h.blocksLeft(t))

	h.node.send(t, blockInv(blocks[2:]))
	h.serveBlocks(t, blocks[2:])
	h.expectBlockEvents(t, blocks[2:], 3)
	require.Equal(t, SyncCompleteEvent{Height: 4}, h.rec.next(t))
}

// TestDownloadPreconditions ensures DownloadBlockChain refuses to start when
// it can not or need not.
func TestDownloadPreconditions(t *testing.T) {
	rec := &syncRecorder{}

	// Not connected yet.
	h := newTestHarness(t, Config{ShouldDownloadBlocks: true})
	var err error
	h.do(t, func() {
		_, err = h.peer.DownloadBlockChain(time.Time{}, nil, nil)
	})
	require.Equal(t, ErrNotConnected, err)

	// Already synced.
	h.connect(t, wire.SFNodeNetwork, 0)
	require.False(t, h.startDownload(t, time.Time{}, rec))
	require.Empty(t, rec.progress)

	// Not downloading blocks.
	h2 := newTestHarness(t, Config{})
	h2.connect(t, wire.SFNodeNetwork, 10)
	h2.do(t, func() {
		_, err = h2.peer.DownloadBlockChain(time.Time{}, nil, nil)
	})
	require.Equal(t, ErrNoBlockDownload, err)

	// Already downloading.
	h3 := newTestHarness(t, Config{ShouldDownloadBlocks: true})
	h3.connect(t, wire.SFNodeNetwork, 10)
	require.True(t, h3.startDownload(t, time.Time{}, rec))
	var syncing bool
	h3.do(t, func() {
		_, err = h3.peer.DownloadBlockChain(time.Time{}, nil, nil)
		syncing = h3.peer.IsSyncing()
	})
	require.Equal(t, ErrSyncInProgress, err)
	require.True(t, syncing)
}

// TestDownloadNothingNew ensures a peer that answers getblocks without blocks
// ends the download.
func TestDownloadNothingNew(t *testing.T) {
	h := newTestHarness(t, Config{ShouldDownloadBlocks: true})
	h.connect(t, wire.SFNodeNetwork, 10)

	rec := &syncRecorder{}
	require.True(t, h.startDownload(t, time.Time{}, rec))
	h.node.expect(t, wire.CmdGetBlocks)
	h.node.send(t, wire.NewMsgInv())

	require.Equal(t, SyncCompleteEvent{Height: 0}, h.rec.next(t))
	require.Equal(t, int32(0), h.blocksLeft(t))
	require.Empty(t, rec.syncedHeights())
}

// TestSyncRetryLimit ensures a block that keeps failing to integrate is
// requested again until the retry limit is exhausted.
func TestSyncRetryLimit(t *testing.T) {
	h := newTestHarness(t, Config{
		ShouldDownloadBlocks: true,
		SyncRetryLimit:       2,
	})
	h.connect(t, wire.SFNodeNetwork, 1)

	blocks := makeBlocks(&regtest.GenesisBlock.Header, 0, 1, 10*time.Minute,
		nil)

	// Same header, so the same hash, but the merkle root no longer
	// matches the transactions.
	bad := *blocks[0]
	bad.Transactions = append([]*wire.MsgTx{}, blocks[0].Transactions...)
	bad.Transactions = append(bad.Transactions, coinbaseTx(1, 9))

	rec := &syncRecorder{}
	require.True(t, h.startDownload(t, time.Time{}, rec))
	h.node.expect(t, wire.CmdGetBlocks)
	h.node.send(t, blockInv(blocks))

	for i := 0; i < 3; i++ {
		getData := h.node.expect(t, wire.CmdGetData).(*wire.MsgGetData)
		require.Equal(t, blocks[0].BlockHash(), getData.InvList[0].Hash)
		h.node.send(t, &bad)
	}

	err := h.rec.disconnected(t)
	require.True(t, IsErrorCode(err, ErrSync), "got %v", err)
	require.Equal(t, int32(0), h.chain.BestHeight())
}

// TestSyncRecovers ensures a block that failed once is requested again and
// integrated when it arrives intact, while an orphan is left for the next
// batch.
func TestSyncRecovers(t *testing.T) {
	h := newTestHarness(t, Config{ShouldDownloadBlocks: true})
	h.connect(t, wire.SFNodeNetwork, 2)

	blocks := makeBlocks(&regtest.GenesisBlock.Header, 0, 2, 10*time.Minute,
		nil)

	rec := &syncRecorder{}
	require.True(t, h.startDownload(t, time.Time{}, rec))
	h.node.expect(t, wire.CmdGetBlocks)
	h.node.send(t, blockInv(blocks))
	h.node.expect(t, wire.CmdGetData)

	// The first block can not be served, the second is an orphan without
	// it.
	notFound := wire.NewMsgNotFound()
	hash := blocks[0].BlockHash()
	notFound.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, &hash))
	h.node.send(t, notFound)
	h.node.send(t, blocks[1])

	h.serveBlocks(t, blocks[:1])
	h.expectBlockEvents(t, blocks[:1], 1)

	getBlocks := h.node.expect(t, wire.CmdGetBlocks).(*wire.MsgGetBlocks)
	require.Equal(t, blocks[0].BlockHash(), *getBlocks.BlockLocatorHashes[0])
	h.node.send(t, blockInv(blocks[1:]))
	h.serveBlocks(t, blocks[1:])
	h.expectBlockEvents(t, blocks[1:], 2)

	require.Equal(t, SyncCompleteEvent{Height: 2}, h.rec.next(t))
	require.True(t, h.peer.Connected())
}

// TestDownloadSetsAsideTipAnnouncement ensures a new tip announced while a
// download is between batches is neither requested early nor counted as a
// failure.
func TestDownloadSetsAsideTipAnnouncement(t *testing.T) {
	h := newTestHarness(t, Config{
		ShouldDownloadBlocks: true,
		SyncRetryLimit:       1,
	})
	h.connect(t, wire.SFNodeNetwork, 4)

	blocks := makeBlocks(&regtest.GenesisBlock.Header, 0, 4, 10*time.Minute,
		nil)

	rec := &syncRecorder{}
	require.True(t, h.startDownload(t, time.Time{}, rec))
	h.node.expect(t, wire.CmdGetBlocks)

	// The first batch answers getblocks, the tip is announced right
	// after.
	h.node.send(t, blockInv(blocks[:2]))
	getData := h.node.expect(t, wire.CmdGetData).(*wire.MsgGetData)
	require.Len(t, getData.InvList, 2)
	h.node.send(t, blockInv(blocks[3:]))
	h.node.expectNone(t, wire.CmdGetData)

	for _, block := range blocks[:2] {
		h.node.send(t, block)
	}
	h.expectBlockEvents(t, blocks[:2], 1)

	getBlocks := h.node.expect(t, wire.CmdGetBlocks).(*wire.MsgGetBlocks)
	require.Equal(t, blocks[1].BlockHash(), *getBlocks.BlockLocatorHashes[0])
	h.node.send(t, blockInv(blocks[2:]))
	h.serveBlocks(t, blocks[2:])
	h.expectBlockEvents(t, blocks[2:], 3)

	require.Equal(t, SyncCompleteEvent{Height: 4}, h.rec.next(t))
	require.Equal(t, []int32{1, 2, 3, 4}, rec.syncedHeights())
	require.True(t, h.peer.Connected())
}

// TestDownloadOrphanAnswer ensures an orphan received while downloading is
// not requested again.  The download asks for the next batch with the same
// locator instead.
func TestDownloadOrphanAnswer(t *testing.T) {
	h := newTestHarness(t, Config{ShouldDownloadBlocks: true})
	h.connect(t, wire.SFNodeNetwork, 2)

	blocks := makeBlocks(&regtest.GenesisBlock.Header, 0, 2, 10*time.Minute,
		nil)

	rec := &syncRecorder{}
	require.True(t, h.startDownload(t, time.Time{}, rec))
	h.node.expect(t, wire.CmdGetBlocks)

	// The tip announcement overtakes the answer to getblocks.
	h.node.send(t, blockInv(blocks[1:]))
	h.serveBlocks(t, blocks[1:])

	getBlocks := h.node.expect(t, wire.CmdGetBlocks).(*wire.MsgGetBlocks)
	require.Equal(t, *regtest.GenesisHash, *getBlocks.BlockLocatorHashes[0])
	h.node.send(t, blockInv(blocks))
	h.serveBlocks(t, blocks)
	h.expectBlockEvents(t, blocks, 1)

	require.Equal(t, SyncCompleteEvent{Height: 2}, h.rec.next(t))
	require.True(t, h.peer.Connected())
}

// TestUnsolicitedBlock ensures blocks that were never requested are ignored.
func TestUnsolicitedBlock(t *testing.T) {
	h := newTestHarness(t, Config{ShouldDownloadBlocks: true})
	h.connect(t, wire.SFNodeNetwork, 0)

	blocks := makeBlocks(&regtest.GenesisBlock.Header, 0, 1, 10*time.Minute,
		nil)
	h.node.send(t, blocks[0])
	h.node.send(t, wire.NewMsgAddr())

	require.IsType(t, AddrEvent{}, h.rec.next(t))
	require.Equal(t, int32(0), h.chain.BestHeight())
}

// TestDownloadPeerAnnouncements ensures announced blocks are only fetched from
// the download peer once the initial download is over.
func TestDownloadPeerAnnouncements(t *testing.T) {
	h := newTestHarness(t, Config{ShouldDownloadBlocks: true})
	h.connect(t, wire.SFNodeNetwork, 0)

	blocks := makeBlocks(&regtest.GenesisBlock.Header, 0, 1, 10*time.Minute,
		nil)
	h.node.send(t, blockInv(blocks))
	h.node.expectNone(t, wire.CmdGetData)

	h.peer.SetDownloadPeer(true)
	require.True(t, h.peer.IsDownloadPeer())
	h.node.send(t, blockInv(blocks))
	h.serveBlocks(t, blocks)
	h.expectBlockEvents(t, blocks, 1)
	require.Equal(t, int32(1), h.peer.LastBlockHeight())
}

// TestCleanUpConnectionData ensures in-flight requests are forgotten.
func TestCleanUpConnectionData(t *testing.T) {
	h := newTestHarness(t, Config{ShouldDownloadBlocks: true})
	h.connect(t, wire.SFNodeNetwork, 3)

	rec := &syncRecorder{}
	require.True(t, h.startDownload(t, time.Time{}, rec))
	h.node.expect(t, wire.CmdGetBlocks)

	blocks := makeBlocks(&regtest.GenesisBlock.Header, 0, 3, 10*time.Minute,
		nil)
	h.node.send(t, blockInv(blocks))
	h.node.expect(t, wire.CmdGetData)

	syncing := true
	h.do(t, func() {
		h.peer.CleanUpConnectionData()
		syncing = h.peer.IsSyncing()
	})
	require.False(t, syncing)

	// The blocks are no longer expected.
	h.node.send(t, blocks[0])
	h.node.send(t, wire.NewMsgAddr())
	require.IsType(t, AddrEvent{}, h.rec.next(t))
	require.Equal(t, int32(0), h.chain.BestHeight())
}

// TestReplaceBlockChain ensures the chain is swapped on the group queue.
func TestReplaceBlockChain(t *testing.T) {
	h := newTestHarness(t, Config{ShouldDownloadBlocks: true})
	h.connect(t, wire.SFNodeNetwork, 0)

	other := &wrappedChain{BlockChain: h.chain}
	h.peer.ReplaceBlockChain(other)
	var got BlockChain
	h.do(t, func() {
		got = h.peer.chain
	})
	require.Same(t, other, got)
}

// wrappedChain is a distinct BlockChain backed by another one.
type wrappedChain struct {
	BlockChain
}
