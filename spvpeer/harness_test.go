// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package spvpeer

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcsuite/btcspv/spvchain"
	"github.com/btcsuite/btcspv/workqueue"
)

const (
	// testTimeout bounds every wait in the tests.
	testTimeout = 5 * time.Second

	// testPver is the protocol version the test node speaks.
	testPver = wire.FeeFilterVersion

	// testNonce is the version nonce of the test node.
	testNonce = 0x5eed5eed5eed5eed

	// testUserAgent is the user agent the test node announces.  The wire
	// package prefixes its own.
	testUserAgent = wire.DefaultUserAgent + "testnode:1.0.0/"
)

var (
	regtest = &chaincfg.RegressionNetParams
	testNet = regtest.Net
)

// eventRecorder is a Listener that records every event.  Byte counter events
// are only counted.
type eventRecorder struct {
	events chan Event

	mtx       sync.Mutex
	sent      []int
	received  []int
	allEvents []Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{events: make(chan Event, 10000)}
}

// OnPeerEvent records e.
func (r *eventRecorder) OnPeerEvent(p *Peer, e Event) {
	r.mtx.Lock()
	r.allEvents = append(r.allEvents, e)
	switch e := e.(type) {
	case BytesSentEvent:
		r.sent = append(r.sent, e.Bytes)
		r.mtx.Unlock()
		return
	case BytesReceivedEvent:
		r.received = append(r.received, e.Bytes)
		r.mtx.Unlock()
		return
	}
	r.mtx.Unlock()

	r.events <- e
}

// next returns the next recorded event that is not a byte counter event.
func (r *eventRecorder) next(t *testing.T) Event {
	t.Helper()

	select {
	case e := <-r.events:
		return e
	case <-time.After(testTimeout):
		t.Fatalf("timeout waiting for peer event")
	}
	return nil
}

// waitFor returns the first event match accepts, discarding events before
// it.
func (r *eventRecorder) waitFor(t *testing.T, desc string, match func(Event) bool) Event {
	t.Helper()

	deadline := time.After(testTimeout)
	for {
		select {
		case e := <-r.events:
			if match(e) {
				return e
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", desc)
			return nil
		}
	}
}

// disconnected waits for the DisconnectedEvent and returns its error.
func (r *eventRecorder) disconnected(t *testing.T) error {
	t.Helper()

	e := r.waitFor(t, "disconnected event", func(e Event) bool {
		_, ok := e.(DisconnectedEvent)
		return ok
	})
	return e.(DisconnectedEvent).Err
}

// byteCounts returns copies of the recorded byte counter events.
func (r *eventRecorder) byteCounts() (sent, received []int) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	sent = append(sent, r.sent...)
	received = append(received, r.received...)
	return sent, received
}

// testNode is the remote end of a peer connection.  It speaks the protocol
// with the btcd wire package.
type testNode struct {
	conn net.Conn
	msgs chan wire.Message
}

func newTestNode(conn net.Conn) *testNode {
	n := &testNode{
		conn: conn,
		msgs: make(chan wire.Message, 1000),
	}
	go func() {
		defer close(n.msgs)
		for {
			msg, _, err := wire.ReadMessage(conn, testPver, testNet)
			if err != nil {
				return
			}
			n.msgs <- msg
		}
	}()
	return n
}

// expect returns the next message with the passed command, skipping any other
// message.
func (n *testNode) expect(t *testing.T, command string) wire.Message {
	t.Helper()

	deadline := time.After(testTimeout)
	for {
		select {
		case msg, ok := <-n.msgs:
			if !ok {
				t.Fatalf("connection closed while waiting for %s",
					command)
			}
			if msg.Command() == command {
				return msg
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s message", command)
			return nil
		}
	}
}

// expectNone ensures no message with the passed command arrives for a short
// while.
func (n *testNode) expectNone(t *testing.T, command string) {
	t.Helper()

	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case msg, ok := <-n.msgs:
			if !ok {
				return
			}
			if msg.Command() == command {
				t.Fatalf("unexpected %s message", command)
			}
		case <-deadline:
			return
		}
	}
}

func (n *testNode) send(t *testing.T, msg wire.Message) {
	t.Helper()

	if err := wire.WriteMessage(n.conn, msg, testPver, testNet); err != nil {
		t.Fatalf("failed to send %s: %v", msg.Command(), err)
	}
}

func (n *testNode) sendRaw(t *testing.T, raw []byte) {
	t.Helper()

	if _, err := n.conn.Write(raw); err != nil {
		t.Fatalf("failed to send raw bytes: %v", err)
	}
}

// versionMsg returns the version message the test node answers with.
func versionMsg(services wire.ServiceFlag, pver uint32, lastBlock int32) *wire.MsgVersion {
	me := wire.NewNetAddressIPPort(net.ParseIP("127.0.0.1"), 18444, services)
	you := wire.NewNetAddressIPPort(net.ParseIP("127.0.0.1"), 0, 0)
	msg := wire.NewMsgVersion(me, you, testNonce, lastBlock)
	msg.AddUserAgent("testnode", "1.0.0")
	msg.ProtocolVersion = int32(pver)
	msg.Services = services
	return msg
}

// handshake answers the version handshake of the peer.
func (n *testNode) handshake(t *testing.T, services wire.ServiceFlag, lastBlock int32) {
	t.Helper()

	n.expect(t, wire.CmdVersion)
	n.send(t, versionMsg(services, testPver, lastBlock))
	n.expect(t, wire.CmdVerAck)
	n.send(t, wire.NewMsgVerAck())
}

// testHarness ties a peer to a test node over an in-memory connection.
type testHarness struct {
	peer  *Peer
	node  *testNode
	rec   *eventRecorder
	group *workqueue.Queue
	chain *spvchain.Chain
}

// newTestHarness returns a started peer using cfg.  The chain parameters,
// group, listener and, when none is set, a fresh regtest chain are filled in.
func newTestHarness(t *testing.T, cfg Config) *testHarness {
	t.Helper()

	group := workqueue.New()
	group.Start()
	t.Cleanup(group.Stop)

	h := &testHarness{
		rec:   newEventRecorder(),
		group: group,
	}
	if cfg.BlockChain == nil {
		chain, err := spvchain.New(regtest, nil)
		if err != nil {
			t.Fatalf("spvchain.New: unexpected error: %v", err)
		}
		h.chain = chain
		cfg.BlockChain = chain
	}
	cfg.ChainParams = regtest
	cfg.Group = group
	cfg.Listener = h.rec

	p, err := NewPeer("127.0.0.1", &cfg)
	if err != nil {
		t.Fatalf("NewPeer: unexpected error: %v", err)
	}
	h.peer = p

	local, remote := net.Pipe()
	h.node = newTestNode(remote)
	t.Cleanup(func() {
		p.Disconnect()
		remote.Close()
	})
	p.AssociateConnection(local)
	return h
}

// connect completes the handshake and waits for the connected event.
func (h *testHarness) connect(t *testing.T, services wire.ServiceFlag, lastBlock int32) {
	t.Helper()

	h.node.handshake(t, services, lastBlock)
	h.rec.waitFor(t, "connected event", func(e Event) bool {
		_, ok := e.(ConnectedEvent)
		return ok
	})
}

// do runs fn on the group queue and waits for it.
func (h *testHarness) do(t *testing.T, fn func()) {
	t.Helper()

	if !h.group.Do(fn) {
		t.Fatalf("group queue stopped")
	}
}

// coinbaseTx returns a unique coinbase transaction.
func coinbaseTx(height int32, salt byte) *wire.MsgTx {
	tx := wire.NewMsgTx(1)
	prevOut := wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex)
	sigScript := []byte{0x03, byte(height), byte(height >> 8), salt}
	tx.AddTxIn(wire.NewTxIn(prevOut, sigScript, nil))
	tx.AddTxOut(wire.NewTxOut(50*btcutil.SatoshiPerBitcoin, []byte{0x51}))
	return tx
}

// spendTx returns a transaction spending the first output of prev to
// pkScript.
func spendTx(prev *wire.MsgTx, pkScript []byte) *wire.MsgTx {
	prevHash := prev.TxHash()
	tx := wire.NewMsgTx(1)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(prev.TxOut[0].Value-1000, pkScript))
	return tx
}

// solveBlock sets the merkle root of block and increments its nonce until
// the hash meets the target claimed by its bits.
func solveBlock(block *wire.MsgBlock) {
	store := blockchain.BuildMerkleTreeStore(
		btcutil.NewBlock(block).Transactions(), false)
	block.Header.MerkleRoot = *store[len(store)-1]

	target := blockchain.CompactToBig(block.Header.Bits)
	for {
		hash := block.Header.BlockHash()
		if blockchain.HashToBig(&hash).Cmp(target) <= 0 {
			return
		}
		block.Header.Nonce++
	}
}

// makeBlocks returns n solved blocks building on parent, spaced interval
// apart.  Each block holds a coinbase followed by the result of extra, if
// any.
func makeBlocks(parent *wire.BlockHeader, parentHeight int32, n int,
	interval time.Duration, extra func(height int32) []*wire.MsgTx) []*wire.MsgBlock {

	blocks := make([]*wire.MsgBlock, 0, n)
	prev := parent
	for i := 0; i < n; i++ {
		height := parentHeight + int32(i) + 1
		prevHash := prev.BlockHash()
		header := wire.NewBlockHeader(1, &prevHash, &chainhash.Hash{},
			regtest.PowLimitBits, 0)
		header.Timestamp = prev.Timestamp.Add(interval)

		block := wire.NewMsgBlock(header)
		block.AddTransaction(coinbaseTx(height, 0))
		if extra != nil {
			for _, tx := range extra(height) {
				block.AddTransaction(tx)
			}
		}
		solveBlock(block)
		blocks = append(blocks, block)
		prev = &block.Header
	}
	return blocks
}

// blockInv returns an inv announcing blocks.
func blockInv(blocks []*wire.MsgBlock) *wire.MsgInv {
	inv := wire.NewMsgInv()
	for _, block := range blocks {
		hash := block.BlockHash()
		inv.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, &hash))
	}
	return inv
}
