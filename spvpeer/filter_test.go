// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package spvpeer

import (
	"bytes"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/bloom"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// watchedData is the data the filters of these tests match.
var watchedData = bytes.Repeat([]byte{0xab}, 20)

// watchedScript returns a script pushing watchedData.
func watchedScript() []byte {
	return append([]byte{byte(len(watchedData))}, watchedData...)
}

// newFilteredHarness returns a connected harness that downloads filtered
// blocks from a peer at remoteHeight with a loaded filter.  The returned
// filter is the one the test node received.
func newFilteredHarness(t *testing.T, remoteHeight int32) (*testHarness, *bloom.Filter) {
	t.Helper()

	h := newTestHarness(t, Config{
		ShouldDownloadBlocks: true,
		NeedsBloomFiltering:  true,
	})
	h.connect(t, wire.SFNodeNetwork|wire.SFNodeBloom, remoteHeight)

	filter := bloom.NewFilter(10, 0, 0.000001, wire.BloomUpdateNone)
	filter.Add(watchedData)
	h.peer.SendFilterLoad(filter)
	require.True(t, h.peer.FilterLoaded())

	msg := h.node.expect(t, wire.CmdFilterLoad).(*wire.MsgFilterLoad)
	return h, bloom.LoadFilter(msg)
}

// watchedBlocks returns n blocks where the block at height 2 pays to the
// watched script.
func watchedBlocks(n int) ([]*wire.MsgBlock, *wire.MsgTx) {
	watched := spendTx(coinbaseTx(1000, 1), watchedScript())
	blocks := makeBlocks(&regtest.GenesisBlock.Header, 0, n, 10*time.Minute,
		func(height int32) []*wire.MsgTx {
			if height == 2 {
				return []*wire.MsgTx{watched}
			}
			return nil
		})
	return blocks, watched
}

// requestFiltered starts a download and answers getblocks with blocks.  It
// returns once the peer asked for the filtered blocks.
func (h *testHarness) requestFiltered(t *testing.T, blocks []*wire.MsgBlock) {
	t.Helper()

	rec := &syncRecorder{}
	require.True(t, h.startDownload(t, time.Time{}, rec))
	h.node.expect(t, wire.CmdGetBlocks)
	h.node.send(t, blockInv(blocks))

	getData := h.node.expect(t, wire.CmdGetData).(*wire.MsgGetData)
	require.Len(t, getData.InvList, len(blocks))
	for _, iv := range getData.InvList {
		require.Equal(t, wire.InvTypeFilteredBlock, iv.Type)
	}
}

// expectFiltered waits for a filtered block event for block at height with
// the passed transactions.
func (h *testHarness) expectFiltered(t *testing.T, block *wire.MsgBlock,
	height int32, txns ...*wire.MsgTx) {

	t.Helper()

	e := h.rec.next(t)
	require.IsType(t, FilteredBlockEvent{}, e)
	fe := e.(FilteredBlockEvent)
	require.Equal(t, block.BlockHash(), fe.Block.Header.BlockHash())
	require.Equal(t, height, fe.Height)
	require.Len(t, fe.Transactions, len(txns))
	for i, tx := range txns {
		require.Equal(t, tx.TxHash(), *fe.Transactions[i].Hash())
	}
}

// TestFilteredDownload ensures filtered blocks are integrated together with
// the transactions that matched the filter.
func TestFilteredDownload(t *testing.T) {
	h, serverFilter := newFilteredHarness(t, 3)
	blocks, watched := watchedBlocks(3)
	h.requestFiltered(t, blocks)

	for _, block := range blocks {
		mb, matched := bloom.NewMerkleBlock(btcutil.NewBlock(block),
			serverFilter)
		h.node.send(t, mb)
		for _, idx := range matched {
			h.node.send(t, block.Transactions[idx])
		}
	}

	h.expectFiltered(t, blocks[0], 1)
	h.expectFiltered(t, blocks[1], 2, watched)
	h.expectFiltered(t, blocks[2], 3)
	require.Equal(t, SyncCompleteEvent{Height: 3}, h.rec.next(t))
	require.Equal(t, int32(3), h.chain.BestHeight())
}

// TestFilteredBlockFlush ensures a filtered block whose transactions do not all
// arrive is integrated once another message shows none are coming.
func TestFilteredBlockFlush(t *testing.T) {
	h, serverFilter := newFilteredHarness(t, 3)
	blocks, _ := watchedBlocks(3)
	h.requestFiltered(t, blocks)

	for _, block := range blocks[:2] {
		mb, _ := bloom.NewMerkleBlock(btcutil.NewBlock(block), serverFilter)
		h.node.send(t, mb)
	}

	// The watched transaction of the second block never arrives, an
	// unrelated one does.
	unrelated := coinbaseTx(2000, 2)
	h.node.send(t, unrelated)

	h.expectFiltered(t, blocks[0], 1)
	h.expectFiltered(t, blocks[1], 2)
	e := h.rec.next(t)
	require.IsType(t, TxEvent{}, e)
	require.Equal(t, unrelated.TxHash(), *e.(TxEvent).Tx.Hash())

	mb, _ := bloom.NewMerkleBlock(btcutil.NewBlock(blocks[2]), serverFilter)
	h.node.send(t, mb)
	h.expectFiltered(t, blocks[2], 3)
	require.Equal(t, SyncCompleteEvent{Height: 3}, h.rec.next(t))
}

// TestFilteredBlockBadProof ensures a merkle block whose proof does not match
// its header is requested again.
func TestFilteredBlockBadProof(t *testing.T) {
	h, serverFilter := newFilteredHarness(t, 1)
	blocks, _ := watchedBlocks(1)
	h.requestFiltered(t, blocks)

	mb, _ := bloom.NewMerkleBlock(btcutil.NewBlock(blocks[0]), serverFilter)
	good := *mb
	bad := *mb
	bad.Hashes = []*chainhash.Hash{{0x01}}
	h.node.send(t, &bad)

	getData := h.node.expect(t, wire.CmdGetData).(*wire.MsgGetData)
	require.Equal(t, blocks[0].BlockHash(), getData.InvList[0].Hash)
	require.Equal(t, wire.InvTypeFilteredBlock, getData.InvList[0].Type)

	h.node.send(t, &good)
	h.expectFiltered(t, blocks[0], 1)
	require.Equal(t, SyncCompleteEvent{Height: 1}, h.rec.next(t))
}

// TestTxAnnouncements ensures announced transactions are only requested once
// a filter is loaded.
func TestTxAnnouncements(t *testing.T) {
	h := newTestHarness(t, Config{NeedsBloomFiltering: true})
	h.connect(t, wire.SFNodeNetwork|wire.SFNodeBloom, 0)

	hash := coinbaseTx(1, 1).TxHash()
	inv := wire.NewMsgInv()
	inv.AddInvVect(wire.NewInvVect(wire.InvTypeTx, &hash))
	h.node.send(t, inv)
	h.node.expectNone(t, wire.CmdGetData)

	h.peer.SendFilterLoad(bloom.NewFilter(1, 0, 0.0001, wire.BloomUpdateNone))
	h.node.expect(t, wire.CmdFilterLoad)
	h.node.send(t, inv)

	getData := h.node.expect(t, wire.CmdGetData).(*wire.MsgGetData)
	require.Len(t, getData.InvList, 1)
	require.Equal(t, wire.InvTypeTx, getData.InvList[0].Type)
	require.Equal(t, hash, getData.InvList[0].Hash)
}

// TestRequestFilterReload ensures a reload is only requested once a filter is
// loaded.
func TestRequestFilterReload(t *testing.T) {
	h := newTestHarness(t, Config{NeedsBloomFiltering: true})
	h.connect(t, wire.SFNodeNetwork|wire.SFNodeBloom, 0)

	require.False(t, h.peer.RequestFilterReload())

	h.peer.SendFilterLoad(bloom.NewFilter(1, 0, 0.0001, wire.BloomUpdateNone))
	require.True(t, h.peer.RequestFilterReload())
	require.Equal(t, FilterReloadEvent{}, h.rec.next(t))
}
